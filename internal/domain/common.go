package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Direction is the side of a trade as stated by its signal.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Sign is +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// EntrySide is the order side that opens a position in this direction.
func (d Direction) EntrySide() OrderSide {
	if d == DirectionShort {
		return Sell
	}
	return Buy
}

// ExitSide is the order side that reduces a position in this direction.
func (d Direction) ExitSide() OrderSide {
	return d.EntrySide().Opposite()
}

// EntryOrderType is how the signal asked to enter.
type EntryOrderType string

const (
	EntryMarket EntryOrderType = "market"
	EntryLimit  EntryOrderType = "limit"
)

// Ptr returns a pointer to v. Used to build partial updates.
func Ptr[T any](v T) *T {
	return &v
}
