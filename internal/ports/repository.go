package ports

import (
	"context"

	"signalTradeBot/internal/domain"
)

// TradeRepository stores trades.
type TradeRepository interface {
	// InsertTrade saves a new trade and returns its id.
	InsertTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// InsertTradeWithEntry saves a trade and its entry order in one transaction.
	InsertTradeWithEntry(ctx context.Context, trade *domain.Trade, entry *domain.Order) (int64, error)
	// UpdateTrade merges the non-nil fields of u and stamps updated_at.
	UpdateTrade(ctx context.Context, id int64, u domain.TradeUpdate) error
	// GetTrade returns nil, nil when not found.
	GetTrade(ctx context.Context, id int64) (*domain.Trade, error)
	// GetActiveTrades returns trades in pending, active or filled status, oldest first.
	GetActiveTrades(ctx context.Context) ([]*domain.Trade, error)
	// GetTradesByStatus returns trades in any of the given statuses, oldest first.
	GetTradesByStatus(ctx context.Context, statuses ...domain.TradeStatus) ([]*domain.Trade, error)
	// FindOpenByPair returns the open trade for a pair, or nil, nil.
	FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error)
}

// OrderRepository stores orders belonging to trades.
type OrderRepository interface {
	// InsertOrder saves a new order and returns its id.
	InsertOrder(ctx context.Context, order *domain.Order) (int64, error)
	// UpdateOrder merges the non-nil fields of u and stamps updated_at.
	UpdateOrder(ctx context.Context, id int64, u domain.OrderUpdate) error
	// GetOrdersByTradeID returns the orders of a trade in insertion order.
	GetOrdersByTradeID(ctx context.Context, tradeID int64) ([]*domain.Order, error)
	// GetOrdersByStatus returns all orders in a status.
	GetOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
}
