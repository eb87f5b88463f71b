package smartfill

import "buste/internal/core"

// Transfers derives the minimal transfer list that realizes the plan's fills.
//
// The pass is deterministic and greedy: destinations are visited in plan
// (priority) order, and each destination drains the selected sources in
// classification order, so the first selected source is exhausted before the
// next one contributes. Output is grouped by destination with source order
// preserved within a group; this is the literal sequence of apply calls the
// caller will issue.
//
// The editor keeps the aggregate fill within the selected surplus, so every
// destination is fully funded here; a destination can only come up short if
// that invariant was violated upstream.
func (p Plan) Transfers() []core.Transfer {
	remaining := make([]int64, len(p.Sources))
	for i, s := range p.Sources {
		if s.Selected {
			remaining[i] = s.Surplus.Cents
		}
	}

	var out []core.Transfer
	for _, d := range p.Destinations {
		needed := d.Fill.Cents
		for i := range p.Sources {
			if needed <= 0 {
				break
			}
			if remaining[i] <= 0 {
				continue
			}
			amount := remaining[i]
			if needed < amount {
				amount = needed
			}
			out = append(out, core.Transfer{
				FromID: p.Sources[i].ID,
				ToID:   d.ID,
				Amount: core.Money{Cents: amount},
			})
			remaining[i] -= amount
			needed -= amount
		}
	}
	return out
}
