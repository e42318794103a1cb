package precision

import (
	"context"
	"math"
	"sync"

	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/ports"
)

// Rules are the resolved numeric constraints for one symbol.
type Rules struct {
	Symbol         string
	PricePrecision int
	TickSize       float64 // 0 when unknown or invalid
	QtyPrecision   int
	QtyStep        float64 // 0 when unknown
	MinQty         float64
	MaxQty         float64
	FromExchange   bool
}

// RoundPrice rounds a price to these rules.
func (r Rules) RoundPrice(v float64) float64 {
	return RoundPrice(v, r.PricePrecision, r.TickSize)
}

// FloorQty floors a quantity to these rules.
func (r Rules) FloorQty(v float64) float64 {
	return FloorQuantity(v, r.QtyPrecision, r.QtyStep)
}

// Unit is the smallest quantity increment.
func (r Rules) Unit() float64 {
	if r.QtyStep > 0 {
		return r.QtyStep
	}
	return math.Pow10(-r.QtyPrecision)
}

// InstrumentSource provides venue metadata.
type InstrumentSource interface {
	GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error)
}

// Adapter resolves Rules per symbol, caching venue metadata once it has been read.
type Adapter struct {
	source InstrumentSource
	logger ports.Logger

	mu    sync.Mutex
	cache map[string]*domain.Instrument
}

// NewAdapter creates an Adapter.
func NewAdapter(source InstrumentSource, logger ports.Logger) *Adapter {
	return &Adapter{source: source, logger: logger, cache: make(map[string]*domain.Instrument)}
}

// Resolve returns the rules for symbol. entryPrice and notional feed the
// fallbacks used when the venue has no metadata.
func (a *Adapter) Resolve(ctx context.Context, symbol string, entryPrice, notional float64) Rules {
	inst := a.instrument(ctx, symbol)
	r := Rules{Symbol: symbol}
	if inst != nil {
		r = Rules{
			Symbol:         symbol,
			PricePrecision: inst.PricePrecision,
			TickSize:       inst.TickSize,
			QtyPrecision:   inst.QtyPrecision,
			QtyStep:        inst.QtyStep,
			MinQty:         inst.MinOrderQty,
			MaxQty:         inst.MaxOrderQty,
			FromExchange:   true,
		}
		if r.QtyStep > 0 && r.QtyPrecision == 0 {
			r.QtyPrecision = Decimals(r.QtyStep)
		}
		if r.TickSize > 0 && r.PricePrecision == 0 {
			r.PricePrecision = Decimals(r.TickSize)
		}
	}

	if r.TickSize > 0 && entryPrice > 0 && r.TickSize > entryPrice {
		a.logger.Warn(ctx, "Tick size exceeds price, ignoring it", map[string]interface{}{"symbol": symbol, "tickSize": r.TickSize, "price": entryPrice})
		r.TickSize = 0
		r.PricePrecision = Decimals(entryPrice)
	}
	if inst == nil || (r.TickSize == 0 && r.PricePrecision == 0) {
		r.PricePrecision = Decimals(entryPrice)
	}
	if inst == nil || (r.QtyStep == 0 && r.QtyPrecision == 0) {
		r.QtyPrecision = FallbackQtyPrecision(notional, entryPrice)
	}
	return r
}

func (a *Adapter) instrument(ctx context.Context, symbol string) *domain.Instrument {
	a.mu.Lock()
	inst, ok := a.cache[symbol]
	a.mu.Unlock()
	if ok {
		return inst
	}

	inst, err := a.source.GetInstrument(ctx, symbol)
	if err != nil {
		a.logger.Warn(ctx, "Instrument metadata unavailable, using fallback precision", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return nil
	}
	if inst == nil {
		return nil
	}
	a.mu.Lock()
	a.cache[symbol] = inst
	a.mu.Unlock()
	return inst
}

// FallbackQtyPrecision picks quantity decimals from the size of the position in
// asset units: the smaller each unit is, the more decimals are kept.
func FallbackQtyPrecision(notional, entryPrice float64) int {
	if entryPrice <= 0 || notional <= 0 {
		return 3
	}
	units := notional / entryPrice
	switch {
	case units >= 10000:
		return 0
	case units >= 1000:
		return 1
	case units >= 10:
		return 2
	case units >= 1:
		return 3
	case units >= 0.01:
		return 4
	default:
		return 6
	}
}
