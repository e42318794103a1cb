package risk

import "math"

// ExposureInput describes the account's exposure on one symbol side.
type ExposureInput struct {
	Balance          float64
	Leverage         float64
	PositionNotional float64 // existing position on the same side
	PendingNotional  float64 // unfilled same-side entry orders
	NewNotional      float64
	VenueMaxNotional float64 // tier cap reported by the venue, 0 if unknown
}

// ExposureGuard lowers leverage before submission when the combined notional
// is likely to be rejected by the venue's position limit.
type ExposureGuard struct {
	fraction float64
}

// NewExposureGuard creates a guard. fraction is clamped to (0, 1].
func NewExposureGuard(fraction float64) *ExposureGuard {
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	return &ExposureGuard{fraction: fraction}
}

// Limit is the notional the guard tolerates at the input leverage.
func (g *ExposureGuard) Limit(in ExposureInput) float64 {
	if in.VenueMaxNotional > 0 {
		return in.VenueMaxNotional * g.fraction
	}
	return in.Balance * math.Max(in.Leverage, 1) * g.fraction
}

// Adjust returns the leverage to use and whether it was reduced.
func (g *ExposureGuard) Adjust(in ExposureInput) (float64, bool) {
	lev := math.Max(in.Leverage, 1)
	combined := in.PositionNotional + in.PendingNotional + in.NewNotional
	limit := g.Limit(in)
	if combined <= 0 || limit <= 0 || combined <= limit {
		return lev, false
	}
	reduced := math.Max(1, math.Floor(lev*limit/combined))
	if reduced >= lev {
		return lev, false
	}
	return reduced, true
}
