package domain

import (
	"fmt"
	"time"
)

// OrderType is the role an order plays inside a trade.
type OrderType string

const (
	OrderTypeEntry          OrderType = "entry"
	OrderTypeStopLoss       OrderType = "stop_loss"
	OrderTypeTakeProfit     OrderType = "take_profit"
	OrderTypeBreakevenLimit OrderType = "breakeven_limit"
)

// ParseOrderType converts a stored value into an OrderType.
func ParseOrderType(v string) (OrderType, error) {
	t := OrderType(v)
	switch t {
	case OrderTypeEntry, OrderTypeStopLoss, OrderTypeTakeProfit, OrderTypeBreakevenLimit:
		return t, nil
	default:
		return "", fmt.Errorf("unknown order type %q", v)
	}
}

// ProtectsPosition reports whether the order acts as the position's stop.
func (t OrderType) ProtectsPosition() bool {
	return t == OrderTypeStopLoss || t == OrderTypeBreakevenLimit
}

// OrderStatus is the local bookkeeping status of an order row.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus converts a stored value into an OrderStatus.
func ParseOrderStatus(v string) (OrderStatus, error) {
	s := OrderStatus(v)
	switch s {
	case OrderStatusPending, OrderStatusFilled, OrderStatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown order status %q", v)
	}
}

// Order is one exchange order associated with a trade.
type Order struct {
	ID          int64
	TradeID     int64
	OrderType   OrderType
	OrderID     string // exchange id, empty for rejected or simulated orders
	Price       float64
	TPIndex     int // 1-based, take_profit only
	Quantity    float64
	Status      OrderStatus
	FilledAt    time.Time
	FilledPrice float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Apply merges a partial update into o.
func (o *Order) Apply(u OrderUpdate) {
	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.OrderID != nil {
		o.OrderID = *u.OrderID
	}
	if u.Price != nil {
		o.Price = *u.Price
	}
	if u.Quantity != nil {
		o.Quantity = *u.Quantity
	}
	if u.FilledAt != nil {
		o.FilledAt = *u.FilledAt
	}
	if u.FilledPrice != nil {
		o.FilledPrice = *u.FilledPrice
	}
}

// OrderUpdate is a partial update; nil fields are left untouched.
type OrderUpdate struct {
	Status      *OrderStatus
	OrderID     *string
	Price       *float64
	Quantity    *float64
	FilledAt    *time.Time
	FilledPrice *float64
}
