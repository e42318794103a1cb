package domain

// Position is a snapshot of an open exchange position.
type Position struct {
	Symbol           string
	Side             OrderSide // Buy for long, Sell for short
	Size             float64   // Absolute size, zero when flat
	EntryPrice       float64
	MarkPrice        float64
	Leverage         float64
	UnrealisedPnL    float64
	MaxNotionalValue float64 // Venue notional cap at the current leverage tier, 0 if unknown
	PositionIdx      int
}

// IsOpen reports whether the position still carries size.
func (p *Position) IsOpen() bool {
	return p != nil && p.Size > 0
}

// Notional is size valued at the mark price (entry price when mark is unknown).
func (p *Position) Notional() float64 {
	if p == nil {
		return 0
	}
	price := p.MarkPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return p.Size * price
}
