package domain

// Instrument holds the numeric constraints a venue publishes for a symbol.
// Zero values mean the venue did not report that constraint.
type Instrument struct {
	Symbol         string
	PricePrecision int
	TickSize       float64
	QtyPrecision   int
	QtyStep        float64
	MinOrderQty    float64
	MaxOrderQty    float64
}
