package app

import (
	"context"
	"fmt"

	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/metrics"
	"signalTradeBot/internal/ports"
)

// stopKeeper owns the position-level stop of a trade.
type stopKeeper struct {
	logger   ports.Logger
	exchange ports.ExchangeClient
	orders   ports.OrderRepository
	metrics  *metrics.Metrics
}

func newStopKeeper(deps Deps) *stopKeeper {
	return &stopKeeper{logger: deps.Logger, exchange: deps.Exchange, orders: deps.Orders, metrics: deps.Metrics}
}

// placeAt sets a stop covering the whole position at price and records it as orderType.
func (s *stopKeeper) placeAt(ctx context.Context, t *domain.Trade, price float64, orderType domain.OrderType) (*domain.Order, error) {
	id, err := s.exchange.SetTradingStop(ctx, ports.TradingStopRequest{
		Symbol:    t.TradingPair,
		Direction: t.ResolvedDirection(),
		StopLoss:  price,
	})
	if err != nil {
		return nil, fmt.Errorf("set stop for trade %d: %w", t.ID, err)
	}
	o := &domain.Order{
		TradeID:   t.ID,
		OrderType: orderType,
		OrderID:   id,
		Price:     price,
		Quantity:  t.Quantity,
		Status:    domain.OrderStatusPending,
	}
	if o.ID, err = s.orders.InsertOrder(ctx, o); err != nil {
		s.logger.Error(ctx, err, "Stop placed but not recorded", tradeFields(t, map[string]interface{}{"orderID": id}))
	}
	s.metrics.OrderPlaced(string(orderType))
	s.logger.Info(ctx, "Stop-loss set", tradeFields(t, map[string]interface{}{"orderID": id, "price": price, "type": orderType}))
	return o, nil
}

func (s *stopKeeper) place(ctx context.Context, t *domain.Trade) error {
	_, err := s.placeAt(ctx, t, t.StopLoss, domain.OrderTypeStopLoss)
	return err
}

// ensure records a pending stop for the trade if none exists, adopting a
// venue-created stop when the entry carried an embedded one.
func (s *stopKeeper) ensure(ctx context.Context, t *domain.Trade) error {
	orders, err := s.orders.GetOrdersByTradeID(ctx, t.ID)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if o.OrderType.ProtectsPosition() && o.Status == domain.OrderStatusPending {
			return nil
		}
	}

	if s.exchange.SupportsEmbeddedStopLoss() {
		open, err := s.exchange.GetOpenOrders(ctx, t.TradingPair, "")
		if err == nil {
			exit := t.ResolvedDirection().ExitSide()
			for _, o := range open {
				if o.StopPrice > 0 && o.Side == exit {
					row := &domain.Order{
						TradeID:   t.ID,
						OrderType: domain.OrderTypeStopLoss,
						OrderID:   o.OrderID,
						Price:     o.StopPrice,
						Quantity:  t.Quantity,
						Status:    domain.OrderStatusPending,
					}
					if _, err := s.orders.InsertOrder(ctx, row); err != nil {
						return err
					}
					s.logger.Info(ctx, "Embedded stop-loss adopted", tradeFields(t, map[string]interface{}{"orderID": o.OrderID}))
					return nil
				}
			}
		}
	}
	s.logger.Warn(ctx, "No stop-loss on record, setting one", tradeFields(t))
	return s.place(ctx, t)
}
