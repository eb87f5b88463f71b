// Package smartfill implements the surplus reallocation engine behind the
// one-click "Smart Fill" feature: envelopes holding more than their target
// fund envelopes holding less, essential needs first.
//
// The engine is pure. A Plan is an immutable value derived from an envelope
// snapshot; every editing operation returns a new Plan and preserves the
// invariant that the total requested fill never exceeds the total surplus of
// the selected sources.
package smartfill

import (
	"sort"

	"buste/internal/core"
)

// Tolerance is the cent threshold below which a surplus or shortfall is
// treated as noise: an envelope one cent off its target is on target.
const Tolerance int64 = 1

type (
	// Source is an envelope holding more than its target, offered as a
	// funding source. Selected is user-controlled and defaults to true.
	Source struct {
		ID       int64      `json:"id"`
		Name     string     `json:"name"`
		Icon     string     `json:"icon"`
		Surplus  core.Money `json:"surplus_cents"`
		Selected bool       `json:"selected"`
	}

	// Destination is an envelope holding less than its target. Fill is the
	// user-adjustable amount it should receive; a destination is selected
	// exactly when its fill is positive.
	Destination struct {
		ID        int64         `json:"id"`
		Name      string        `json:"name"`
		Icon      string        `json:"icon"`
		Priority  core.Priority `json:"priority"`
		Current   core.Money    `json:"current_cents"`
		Target    core.Money    `json:"target_cents"`
		Shortfall core.Money    `json:"shortfall_cents"`
		Fill      core.Money    `json:"fill_cents"`
	}

	// Plan is the full reallocation state: classified sources and
	// destinations plus the user's selections and fill amounts.
	Plan struct {
		Sources      []Source      `json:"sources"`
		Destinations []Destination `json:"destinations"`
	}
)

// Selected reports whether the destination takes part in the plan. Fill is
// the single source of truth; there is no separate flag to keep consistent.
func (d Destination) Selected() bool {
	return d.Fill.Cents > 0
}

// NewPlan classifies an envelope snapshot into sources and destinations.
//
// Envelopes with a zero target and spending envelopes participate in neither
// list. Sources keep snapshot order and start selected; destinations are
// sorted by priority (essential, important, discretionary), snapshot order
// preserved within a tier. All fills start at zero.
func NewPlan(envelopes []core.Envelope) Plan {
	var p Plan
	for _, e := range envelopes {
		if e.Spending || e.Target.Cents <= 0 {
			continue
		}
		if s := e.Surplus(); s.Cents > Tolerance {
			p.Sources = append(p.Sources, Source{
				ID:       e.ID,
				Name:     e.Name,
				Icon:     e.Icon,
				Surplus:  s,
				Selected: true,
			})
			continue
		}
		if sh := e.Shortfall(); sh.Cents > Tolerance {
			p.Destinations = append(p.Destinations, Destination{
				ID:        e.ID,
				Name:      e.Name,
				Icon:      e.Icon,
				Priority:  e.Priority,
				Current:   e.Current,
				Target:    e.Target,
				Shortfall: sh,
			})
		}
	}
	sort.SliceStable(p.Destinations, func(i, j int) bool {
		return p.Destinations[i].Priority.Rank() < p.Destinations[j].Priority.Rank()
	})
	return p
}

// TotalAvailable is the summed surplus of the selected sources.
func (p Plan) TotalAvailable() core.Money {
	var total int64
	for _, s := range p.Sources {
		if s.Selected {
			total += s.Surplus.Cents
		}
	}
	return core.Money{Cents: total}
}

// TotalNeeded is the summed shortfall of every destination.
func (p Plan) TotalNeeded() core.Money {
	var total int64
	for _, d := range p.Destinations {
		total += d.Shortfall.Cents
	}
	return core.Money{Cents: total}
}

// TotalFill is the summed fill of the selected destinations.
func (p Plan) TotalFill() core.Money {
	var total int64
	for _, d := range p.Destinations {
		total += d.Fill.Cents
	}
	return core.Money{Cents: total}
}

// clone returns a deep copy so that editing operations never mutate the
// receiver's slices.
func (p Plan) clone() Plan {
	out := Plan{
		Sources:      make([]Source, len(p.Sources)),
		Destinations: make([]Destination, len(p.Destinations)),
	}
	copy(out.Sources, p.Sources)
	copy(out.Destinations, p.Destinations)
	return out
}

// SelectSource sets a source's selected flag. When deselecting shrinks the
// available surplus below the committed fill, fills are reduced starting from
// the lowest-priority destination until the plan fits again.
func (p Plan) SelectSource(id int64, selected bool) Plan {
	out := p.clone()
	for i := range out.Sources {
		if out.Sources[i].ID == id {
			out.Sources[i].Selected = selected
		}
	}
	return out.clampToAvailable()
}

// ToggleSource flips a source's selected flag.
func (p Plan) ToggleSource(id int64) Plan {
	for _, s := range p.Sources {
		if s.ID == id {
			return p.SelectSource(id, !s.Selected)
		}
	}
	return p
}

// ToggleDestination flips a destination in or out of the plan. Toggling on
// assigns min(shortfall, unclaimed surplus); if other destinations already
// consume everything, the fill clamps to zero and the destination stays
// effectively unselected. Toggling off resets the fill to zero.
func (p Plan) ToggleDestination(id int64) Plan {
	out := p.clone()
	for i := range out.Destinations {
		d := &out.Destinations[i]
		if d.ID != id {
			continue
		}
		if d.Selected() {
			d.Fill = core.Money{}
		} else {
			remaining := out.TotalAvailable().Sub(out.fillExcept(id))
			d.Fill = d.Shortfall.Min(remaining)
		}
	}
	return out
}

// SetFill sets a destination's fill amount, clamped first to [0, shortfall]
// and then to the surplus not claimed by the other destinations. A zero fill
// deselects the destination; a positive fill selects it.
func (p Plan) SetFill(id int64, amount core.Money) Plan {
	out := p.clone()
	for i := range out.Destinations {
		d := &out.Destinations[i]
		if d.ID != id {
			continue
		}
		if amount.Cents < 0 {
			amount = core.Money{}
		}
		amount = amount.Min(d.Shortfall)
		remaining := out.TotalAvailable().Sub(out.fillExcept(id))
		d.Fill = amount.Min(remaining)
	}
	return out
}

// FillAll walks destinations in priority order, assigning each
// min(shortfall, remaining surplus) until the available surplus is exhausted.
// Destinations that receive nothing are left deselected.
func (p Plan) FillAll() Plan {
	out := p.clone()
	remaining := out.TotalAvailable()
	for i := range out.Destinations {
		d := &out.Destinations[i]
		d.Fill = d.Shortfall.Min(remaining)
		remaining = remaining.Sub(d.Fill)
	}
	return out
}

// ClearAll resets every fill to zero. Idempotent.
func (p Plan) ClearAll() Plan {
	out := p.clone()
	for i := range out.Destinations {
		out.Destinations[i].Fill = core.Money{}
	}
	return out
}

// fillExcept sums the fills of every destination except the given one.
func (p Plan) fillExcept(id int64) core.Money {
	var total int64
	for _, d := range p.Destinations {
		if d.ID != id {
			total += d.Fill.Cents
		}
	}
	return core.Money{Cents: total}
}

// clampToAvailable restores the aggregate invariant after the available
// surplus shrank: fills are reduced from the back of the priority-sorted
// destination list, so essential fills survive the longest.
func (p Plan) clampToAvailable() Plan {
	available := p.TotalAvailable().Cents
	excess := p.TotalFill().Cents - available
	if excess <= 0 {
		return p
	}
	for i := len(p.Destinations) - 1; i >= 0 && excess > 0; i-- {
		d := &p.Destinations[i]
		cut := d.Fill.Cents
		if cut > excess {
			cut = excess
		}
		d.Fill.Cents -= cut
		excess -= cut
	}
	return p
}
