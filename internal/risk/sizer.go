package risk

import (
	"fmt"
	"math"

	"signalTradeBot/internal/ports"
)

// SizingInput carries everything needed to size one position.
type SizingInput struct {
	Balance           float64
	RiskPercentage    float64 // 0-100
	EntryPrice        float64
	StopPrice         float64
	RequestedLeverage float64 // 0 falls back to the base leverage
}

// Sizing is the result of PositionSizer.Size.
type Sizing struct {
	Leverage    float64
	RiskAmount  float64 // quote currency lost if the stop is hit
	PerUnitRisk float64 // |entry-stop|/entry
	Notional    float64
	Quantity    float64 // before precision rounding
	Margin      float64 // notional / leverage
}

// PositionSizer converts a risk budget into a position size.
type PositionSizer struct {
	baseLeverage float64
}

// NewPositionSizer creates a sizer. A non-positive base leverage means 1x.
func NewPositionSizer(baseLeverage float64) *PositionSizer {
	return &PositionSizer{baseLeverage: baseLeverage}
}

// EffectiveLeverage picks the requested leverage, then the base, then 1.
func (s *PositionSizer) EffectiveLeverage(requested float64) float64 {
	switch {
	case requested > 0:
		return requested
	case s.baseLeverage > 0:
		return s.baseLeverage
	default:
		return 1
	}
}

// Size computes the notional that loses RiskPercentage of Balance at the stop.
// Leverage only changes the margin, never the notional.
func (s *PositionSizer) Size(in SizingInput) (*Sizing, error) {
	if in.EntryPrice <= 0 || math.IsNaN(in.EntryPrice) {
		return nil, fmt.Errorf("%w: entry price %v must be positive", ports.ErrSizing, in.EntryPrice)
	}
	if in.Balance <= 0 {
		return nil, fmt.Errorf("%w: balance %v must be positive", ports.ErrSizing, in.Balance)
	}
	if in.RiskPercentage <= 0 || in.RiskPercentage > 100 {
		return nil, fmt.Errorf("%w: risk percentage %v outside (0, 100]", ports.ErrSizing, in.RiskPercentage)
	}
	perUnit := math.Abs(in.EntryPrice-in.StopPrice) / in.EntryPrice
	if perUnit == 0 {
		return nil, fmt.Errorf("%w: entry equals stop at %v", ports.ErrSizing, in.EntryPrice)
	}

	lev := s.EffectiveLeverage(in.RequestedLeverage)
	riskAmount := in.Balance * in.RiskPercentage / 100
	notional := riskAmount / perUnit
	return &Sizing{
		Leverage:    lev,
		RiskAmount:  riskAmount,
		PerUnitRisk: perUnit,
		Notional:    notional,
		Quantity:    notional / in.EntryPrice,
		Margin:      notional / lev,
	}, nil
}
