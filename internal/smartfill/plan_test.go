package smartfill

import (
	"testing"

	"buste/internal/core"
)

func env(id int64, name string, current, target int64, prio core.Priority, spending bool) core.Envelope {
	return core.Envelope{
		ID:       id,
		Name:     name,
		Current:  core.Money{Cents: current},
		Target:   core.Money{Cents: target},
		Priority: prio,
		Spending: spending,
	}
}

func TestNewPlanClassification(t *testing.T) {
	envelopes := []core.Envelope{
		env(1, "Vacation", 15000, 5000, core.Discretionary, false), // surplus 100.00
		env(2, "Rent", 40000, 46000, core.Essential, false),        // shortfall 60.00
		env(3, "Groceries", 1000, 1000, core.Essential, false),     // on target
		env(4, "Pocket money", 9000, 0, core.Discretionary, true),  // spending
		env(5, "Untargeted", 9000, 0, core.Important, false),       // zero target
		env(6, "Car", 2000, 10000, core.Important, false),          // shortfall 80.00
		env(7, "Gifts", 5001, 5000, core.Discretionary, false),     // surplus 1 cent: noise
	}

	p := NewPlan(envelopes)

	if len(p.Sources) != 1 || p.Sources[0].ID != 1 {
		t.Fatalf("expected single source (id 1), got %+v", p.Sources)
	}
	if !p.Sources[0].Selected {
		t.Fatalf("sources must default to selected")
	}
	if p.Sources[0].Surplus.Cents != 10000 {
		t.Fatalf("expected surplus 10000, got %d", p.Sources[0].Surplus.Cents)
	}
	if len(p.Destinations) != 2 {
		t.Fatalf("expected 2 destinations, got %+v", p.Destinations)
	}
	// Essential before important, regardless of snapshot order.
	if p.Destinations[0].ID != 2 || p.Destinations[1].ID != 6 {
		t.Fatalf("destinations not priority sorted: %+v", p.Destinations)
	}
	for _, d := range p.Destinations {
		if d.Selected() || d.Fill.Cents != 0 {
			t.Fatalf("destination %d must start unselected", d.ID)
		}
		if d.Target.Cents <= 0 || d.Shortfall.Cents <= Tolerance {
			t.Fatalf("destination %d violates classification bounds", d.ID)
		}
	}
	if p.TotalAvailable().Cents != 10000 {
		t.Fatalf("total available = %d, want 10000", p.TotalAvailable().Cents)
	}
	if p.TotalNeeded().Cents != 14000 {
		t.Fatalf("total needed = %d, want 14000", p.TotalNeeded().Cents)
	}
}

func TestNewPlanStableWithinTier(t *testing.T) {
	envelopes := []core.Envelope{
		env(1, "Pool", 50000, 1000, core.Discretionary, false),
		env(2, "B", 0, 1000, core.Important, false),
		env(3, "A", 0, 1000, core.Important, false),
		env(4, "C", 0, 1000, core.Important, false),
	}
	p := NewPlan(envelopes)
	want := []int64{2, 3, 4}
	for i, d := range p.Destinations {
		if d.ID != want[i] {
			t.Fatalf("tier order not stable: got %+v", p.Destinations)
		}
	}
}

func TestNewPlanIdempotent(t *testing.T) {
	envelopes := []core.Envelope{
		env(1, "Pool", 20000, 5000, core.Discretionary, false),
		env(2, "Rent", 0, 6000, core.Essential, false),
	}
	a := NewPlan(envelopes)
	b := NewPlan(envelopes)
	if len(a.Sources) != len(b.Sources) || len(a.Destinations) != len(b.Destinations) {
		t.Fatalf("classification not idempotent")
	}
	for i := range a.Sources {
		if a.Sources[i] != b.Sources[i] {
			t.Fatalf("source %d differs: %+v vs %+v", i, a.Sources[i], b.Sources[i])
		}
	}
	for i := range a.Destinations {
		if a.Destinations[i] != b.Destinations[i] {
			t.Fatalf("destination %d differs", i)
		}
	}
}

func TestNewPlanEmpty(t *testing.T) {
	p := NewPlan(nil)
	if len(p.Sources) != 0 || len(p.Destinations) != 0 {
		t.Fatalf("empty input must yield empty plan, got %+v", p)
	}
	if got := p.Transfers(); len(got) != 0 {
		t.Fatalf("empty plan must yield no transfers, got %+v", got)
	}
}

func TestFillAllPriorityOrder(t *testing.T) {
	// Source A with 100.00 surplus; essential X needs 60.00, important Y needs 80.00.
	envelopes := []core.Envelope{
		env(10, "A", 15000, 5000, core.Discretionary, false),
		env(20, "X", 0, 6000, core.Essential, false),
		env(30, "Y", 2000, 10000, core.Important, false),
	}
	p := NewPlan(envelopes).FillAll()

	if got := p.Destinations[0].Fill.Cents; got != 6000 {
		t.Fatalf("essential fill = %d, want 6000", got)
	}
	if got := p.Destinations[1].Fill.Cents; got != 4000 {
		t.Fatalf("important fill = %d, want 4000 (remaining surplus)", got)
	}

	transfers := p.Transfers()
	want := []core.Transfer{
		{FromID: 10, ToID: 20, Amount: core.Money{Cents: 6000}},
		{FromID: 10, ToID: 30, Amount: core.Money{Cents: 4000}},
	}
	if len(transfers) != len(want) {
		t.Fatalf("transfers = %+v, want %+v", transfers, want)
	}
	for i := range want {
		if transfers[i] != want[i] {
			t.Fatalf("transfer %d = %+v, want %+v", i, transfers[i], want[i])
		}
	}
}

func TestFillAllLeavesUnfundedDeselected(t *testing.T) {
	envelopes := []core.Envelope{
		env(1, "Pool", 6000, 1000, core.Discretionary, false), // surplus 50.00
		env(2, "X", 0, 5000, core.Essential, false),           // takes all of it
		env(3, "Y", 0, 5000, core.Important, false),           // gets nothing
	}
	p := NewPlan(envelopes).FillAll()
	if !p.Destinations[0].Selected() {
		t.Fatalf("funded destination must be selected")
	}
	if p.Destinations[1].Selected() {
		t.Fatalf("unfunded destination must stay deselected")
	}
	if p.TotalFill().Cents != p.TotalAvailable().Cents {
		t.Fatalf("fill all must exhaust surplus exactly")
	}
}

func TestClearAllIdempotent(t *testing.T) {
	envelopes := []core.Envelope{
		env(1, "Pool", 20000, 5000, core.Discretionary, false),
		env(2, "Rent", 0, 6000, core.Essential, false),
	}
	p := NewPlan(envelopes).FillAll().ClearAll()
	if p.TotalFill().Cents != 0 {
		t.Fatalf("clear all must zero every fill")
	}
	again := p.ClearAll()
	if again.TotalFill().Cents != 0 {
		t.Fatalf("clear all must be idempotent")
	}
}

func TestSetFillClamping(t *testing.T) {
	envelopes := []core.Envelope{
		env(1, "Pool", 11000, 1000, core.Discretionary, false), // surplus 100.00
		env(2, "X", 0, 7000, core.Essential, false),            // shortfall 70.00
		env(3, "Y", 0, 9000, core.Important, false),            // shortfall 90.00
	}
	p := NewPlan(envelopes)

	// Above shortfall: clamps to shortfall.
	p = p.SetFill(2, core.Money{Cents: 50000})
	if got := p.Destinations[0].Fill.Cents; got != 7000 {
		t.Fatalf("fill = %d, want shortfall clamp 7000", got)
	}

	// Remaining capacity is 30.00; asking 90.00 clamps to it.
	p = p.SetFill(3, core.Money{Cents: 9000})
	if got := p.Destinations[1].Fill.Cents; got != 3000 {
		t.Fatalf("fill = %d, want availability clamp 3000", got)
	}
	if p.TotalFill().Cents > p.TotalAvailable().Cents {
		t.Fatalf("aggregate invariant violated")
	}

	// Setting zero deselects.
	p = p.SetFill(2, core.Money{})
	if p.Destinations[0].Selected() {
		t.Fatalf("zero fill must deselect")
	}

	// Negative treated as zero.
	p = p.SetFill(3, core.Money{Cents: -500})
	if p.Destinations[1].Fill.Cents != 0 {
		t.Fatalf("negative fill must clamp to zero")
	}
}

func TestSetFillZeroOnUnselected(t *testing.T) {
	envelopes := []core.Envelope{
		env(1, "Pool", 20000, 5000, core.Discretionary, false),
		env(2, "Rent", 0, 6000, core.Essential, false),
	}
	p := NewPlan(envelopes).SetFill(2, core.Money{})
	if p.Destinations[0].Selected() || p.Destinations[0].Fill.Cents != 0 {
		t.Fatalf("unselected destination with zero amount must stay unselected")
	}
	if len(p.Transfers()) != 0 {
		t.Fatalf("no transfer may be generated for a zero fill")
	}
}

func TestToggleDestination(t *testing.T) {
	envelopes := []core.Envelope{
		env(1, "Pool", 9000, 1000, core.Discretionary, false), // surplus 80.00
		env(2, "X", 0, 5000, core.Essential, false),           // shortfall 50.00
		env(3, "Y", 0, 5000, core.Important, false),           // shortfall 50.00
	}
	p := NewPlan(envelopes)

	p = p.ToggleDestination(2)
	if got := p.Destinations[0].Fill.Cents; got != 5000 {
		t.Fatalf("toggle on = %d, want full shortfall 5000", got)
	}

	// Only 30.00 left: the just-toggled destination absorbs the overflow.
	p = p.ToggleDestination(3)
	if got := p.Destinations[1].Fill.Cents; got != 3000 {
		t.Fatalf("toggle on = %d, want clamped 3000", got)
	}
	if p.Destinations[0].Fill.Cents != 5000 {
		t.Fatalf("already-selected destination must keep its amount")
	}

	// Toggle off resets to zero.
	p = p.ToggleDestination(2)
	if p.Destinations[0].Selected() {
		t.Fatalf("toggle off must deselect")
	}
}

func TestToggleDestinationWhenExhausted(t *testing.T) {
	envelopes := []core.Envelope{
		env(1, "Pool", 6000, 1000, core.Discretionary, false), // surplus 50.00
		env(2, "X", 0, 5000, core.Essential, false),
		env(3, "Y", 0, 4000, core.Important, false),
	}
	p := NewPlan(envelopes).ToggleDestination(2) // consumes all 50.00

	p = p.ToggleDestination(3)
	if p.Destinations[1].Fill.Cents != 0 || p.Destinations[1].Selected() {
		t.Fatalf("destination toggled into an exhausted plan must clamp to zero, got %+v", p.Destinations[1])
	}
}

func TestSourceSelectionReclamps(t *testing.T) {
	envelopes := []core.Envelope{
		env(1, "A", 6000, 1000, core.Discretionary, false), // surplus 50.00
		env(2, "B", 9000, 1000, core.Discretionary, false), // surplus 80.00
		env(3, "X", 0, 6000, core.Essential, false),        // shortfall 60.00
		env(4, "Y", 0, 7000, core.Important, false),        // shortfall 70.00
	}
	p := NewPlan(envelopes).FillAll()
	if p.TotalFill().Cents != 13000 {
		t.Fatalf("fill all = %d, want 13000", p.TotalFill().Cents)
	}

	// Deselecting B leaves 50.00 available; the important fill gives way first.
	p = p.ToggleSource(2)
	if p.TotalAvailable().Cents != 5000 {
		t.Fatalf("total available = %d, want 5000", p.TotalAvailable().Cents)
	}
	if p.TotalFill().Cents != 5000 {
		t.Fatalf("fills must be re-clamped to 5000, got %d", p.TotalFill().Cents)
	}
	if p.Destinations[0].Fill.Cents != 5000 || p.Destinations[1].Fill.Cents != 0 {
		t.Fatalf("essential fill must survive the clamp: %+v", p.Destinations)
	}

	// Re-selecting restores capacity but never restores fills by itself.
	p = p.ToggleSource(2)
	if p.TotalFill().Cents != 5000 {
		t.Fatalf("re-selecting a source must not invent fills")
	}
}

func TestEditingNeverMutatesReceiver(t *testing.T) {
	envelopes := []core.Envelope{
		env(1, "Pool", 20000, 5000, core.Discretionary, false),
		env(2, "Rent", 0, 6000, core.Essential, false),
	}
	before := NewPlan(envelopes)
	_ = before.FillAll()
	_ = before.ToggleSource(1)
	_ = before.SetFill(2, core.Money{Cents: 100})
	if before.TotalFill().Cents != 0 {
		t.Fatalf("editing operations mutated the original plan")
	}
	if !before.Sources[0].Selected {
		t.Fatalf("toggle mutated the original plan")
	}
}

func TestInvariantUnderEditSequences(t *testing.T) {
	envelopes := []core.Envelope{
		env(1, "A", 6000, 1000, core.Discretionary, false),
		env(2, "B", 9000, 1000, core.Discretionary, false),
		env(3, "X", 0, 6000, core.Essential, false),
		env(4, "Y", 0, 7000, core.Important, false),
		env(5, "Z", 0, 2000, core.Discretionary, false),
	}
	p := NewPlan(envelopes)

	steps := []func(Plan) Plan{
		func(p Plan) Plan { return p.FillAll() },
		func(p Plan) Plan { return p.ToggleSource(1) },
		func(p Plan) Plan { return p.SetFill(4, core.Money{Cents: 100000}) },
		func(p Plan) Plan { return p.ToggleDestination(5) },
		func(p Plan) Plan { return p.ToggleSource(2) },
		func(p Plan) Plan { return p.ToggleSource(1) },
		func(p Plan) Plan { return p.SetFill(3, core.Money{Cents: 12345}) },
		func(p Plan) Plan { return p.ToggleDestination(4) },
		func(p Plan) Plan { return p.ClearAll() },
		func(p Plan) Plan { return p.FillAll() },
	}
	for i, step := range steps {
		p = step(p)
		if p.TotalFill().Cents > p.TotalAvailable().Cents {
			t.Fatalf("step %d: fill %d exceeds available %d", i, p.TotalFill().Cents, p.TotalAvailable().Cents)
		}
		for _, d := range p.Destinations {
			if d.Fill.Cents < 0 || d.Fill.Cents > d.Shortfall.Cents {
				t.Fatalf("step %d: fill %d outside [0, %d]", i, d.Fill.Cents, d.Shortfall.Cents)
			}
		}
	}
}
