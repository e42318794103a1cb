package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openPending places a resting long entry at 98 with stop 95 and TPs 101/102/103.
func openPending(t *testing.T, h *harness) *domain.Trade {
	t.Helper()
	trade, err := h.placer.Initiate(context.Background(), longSignal(domain.EntryLimit, 98, 101, 102, 103))
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusPending, trade.Status)
	return trade
}

func TestTradeMonitor_PendingFillActivatesAndPlacesTakeProfits(t *testing.T) {
	h := newHarness(t, 2)
	trade := openPending(t, h)

	h.cycle(t)
	assert.Equal(t, domain.TradeStatusPending, h.store.trade(t, trade.ID).Status)

	h.sim.SetPrice(testSymbol, 97.9)
	h.cycle(t)

	got := h.store.trade(t, trade.ID)
	assert.Equal(t, domain.TradeStatusActive, got.Status)
	assert.Equal(t, h.clock.Now(), got.EntryFilledAt)
	assert.Equal(t, "BTCUSDT:0", got.PositionID)
	assert.InDelta(t, 98, got.EntryPrice, 1e-9)

	entry := h.store.ordersOfType(trade.ID, domain.OrderTypeEntry)
	require.Len(t, entry, 1)
	assert.Equal(t, domain.OrderStatusFilled, entry[0].Status)

	tps := h.store.ordersOfType(trade.ID, domain.OrderTypeTakeProfit)
	require.Len(t, tps, 3)
	for _, o := range tps {
		assert.InDelta(t, 11.11, o.Quantity, 1e-9)
	}
	assert.Len(t, h.store.ordersOfType(trade.ID, domain.OrderTypeStopLoss), 1)
}

func TestTradeMonitor_PendingCancelledWhenStopCrossed(t *testing.T) {
	h := newHarness(t, 2)
	trade := openPending(t, h)
	h.exchange.tickerFn = func(string) (float64, error) { return 94, nil }

	h.cycle(t)

	assert.Equal(t, domain.TradeStatusCancelled, h.store.trade(t, trade.ID).Status)
	hist, err := h.sim.GetOrderHistory(context.Background(), ports.OrderQuery{Symbol: testSymbol, OrderID: trade.OrderID})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, ports.ExchangeStatusCancelled, hist[0].Status)
	for _, o := range h.store.ordersOfType(trade.ID, domain.OrderTypeStopLoss) {
		assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	}
}

func TestTradeMonitor_PendingTakeProfitCrossedKeepsWaiting(t *testing.T) {
	h := newHarness(t, 2)
	trade := openPending(t, h)
	h.exchange.tickerFn = func(string) (float64, error) { return 101.5, nil }

	h.cycle(t)
	assert.Equal(t, domain.TradeStatusPending, h.store.trade(t, trade.ID).Status)
}

func TestTradeMonitor_PendingExpires(t *testing.T) {
	h := newHarness(t, 2)
	trade := openPending(t, h)

	h.clock.Advance(2 * time.Hour)
	h.cycle(t)

	assert.Equal(t, domain.TradeStatusCancelled, h.store.trade(t, trade.ID).Status)
}

func TestTradeMonitor_ExpiryRacesWithFill(t *testing.T) {
	h := newHarness(t, 2)
	trade := openPending(t, h)

	h.sim.SetPrice(testSymbol, 97.9)
	h.clock.Advance(2 * time.Hour)
	h.cycle(t)

	assert.Equal(t, domain.TradeStatusActive, h.store.trade(t, trade.ID).Status)
}

func TestTradeMonitor_BreakevenThenCompleted(t *testing.T) {
	h := newHarness(t, 2)
	trade := openPending(t, h)
	h.sim.SetPrice(testSymbol, 97.9)
	h.cycle(t)

	h.sim.SetPrice(testSymbol, 101.5)
	h.cycle(t)
	got := h.store.trade(t, trade.ID)
	assert.False(t, got.StopLossBreakeven)

	h.sim.SetPrice(testSymbol, 102.5)
	h.cycle(t)
	got = h.store.trade(t, trade.ID)
	assert.True(t, got.StopLossBreakeven)
	assert.InDelta(t, 98, got.StopLoss, 1e-9)
	require.Len(t, h.store.ordersOfType(trade.ID, domain.OrderTypeBreakevenLimit), 1)
	stops := h.store.ordersOfType(trade.ID, domain.OrderTypeStopLoss)
	require.Len(t, stops, 1)
	assert.Equal(t, domain.OrderStatusCancelled, stops[0].Status)

	// A further cycle does not move the stop again.
	h.cycle(t)
	assert.Len(t, h.store.ordersOfType(trade.ID, domain.OrderTypeBreakevenLimit), 1)

	h.sim.SetPrice(testSymbol, 103.5)
	h.cycle(t)
	got = h.store.trade(t, trade.ID)
	assert.Equal(t, domain.TradeStatusCompleted, got.Status)
	assert.True(t, got.StopLossBreakeven)
	assert.InDelta(t, 102, got.ExitPrice, 1e-9)
	assert.InDelta(t, 11.11*12, got.PnL, 1e-6)
	be := h.store.ordersOfType(trade.ID, domain.OrderTypeBreakevenLimit)
	assert.Equal(t, domain.OrderStatusCancelled, be[0].Status)
}

func TestTradeMonitor_StopLossFillStopsTrade(t *testing.T) {
	h := newHarness(t, 2)
	trade := openPending(t, h)
	h.sim.SetPrice(testSymbol, 97.9)
	h.cycle(t)

	h.sim.SetPrice(testSymbol, 94.9)
	h.cycle(t)

	got := h.store.trade(t, trade.ID)
	assert.Equal(t, domain.TradeStatusStopped, got.Status)
	assert.InDelta(t, 94.9, got.ExitPrice, 1e-9)
	assert.InDelta(t, (94.9-98)*33.33, got.PnL, 1e-6)
	assert.InDelta(t, domain.PnLPercent(domain.DirectionLong, 98, 94.9, 10), got.PnLPercentage, 1e-9)
	for _, o := range h.store.ordersOfType(trade.ID, domain.OrderTypeTakeProfit) {
		assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	}

	// Terminal trades are left alone.
	h.cycle(t)
	assert.Equal(t, domain.TradeStatusStopped, h.store.trade(t, trade.ID).Status)
}

func TestTradeMonitor_StopCrossedWithoutConfirmationMarksStopped(t *testing.T) {
	h := newHarness(t, 2)
	trade := openPending(t, h)
	h.sim.SetPrice(testSymbol, 97.9)
	h.cycle(t)

	h.exchange.tickerFn = func(string) (float64, error) { return 94, nil }
	h.cycle(t)

	got := h.store.trade(t, trade.ID)
	assert.Equal(t, domain.TradeStatusStopped, got.Status)
	assert.InDelta(t, 95, got.ExitPrice, 1e-9)

	// The position was never confirmed flat, so its protection stays on the venue.
	stops := h.store.ordersOfType(trade.ID, domain.OrderTypeStopLoss)
	require.Len(t, stops, 1)
	assert.Equal(t, domain.OrderStatusPending, stops[0].Status)
	for _, o := range h.store.ordersOfType(trade.ID, domain.OrderTypeTakeProfit) {
		assert.Equal(t, domain.OrderStatusPending, o.Status)
	}
	open, err := h.sim.GetOpenOrders(context.Background(), testSymbol, "")
	require.NoError(t, err)
	var resting bool
	for _, o := range open {
		if o.OrderID == stops[0].OrderID {
			resting = true
		}
	}
	assert.True(t, resting, "stop %s should still rest on the venue", stops[0].OrderID)
}

func TestTradeMonitor_PartialFillSurvivesCancel(t *testing.T) {
	h := newHarness(t, 2)
	trade := openPending(t, h)
	h.exchange.tickerFn = func(string) (float64, error) { return 94, nil }
	h.exchange.positionsFn = func(string) ([]*domain.Position, error) {
		return []*domain.Position{{Symbol: testSymbol, Side: domain.Buy, Size: 10, EntryPrice: 98}}, nil
	}

	h.cycle(t)

	got := h.store.trade(t, trade.ID)
	assert.Equal(t, domain.TradeStatusActive, got.Status)
	assert.InDelta(t, 10, got.Quantity, 1e-9)
	assert.InDelta(t, 98, got.EntryPrice, 1e-9)

	entry := h.store.ordersOfType(trade.ID, domain.OrderTypeEntry)
	require.Len(t, entry, 1)
	assert.Equal(t, domain.OrderStatusFilled, entry[0].Status)
	stops := h.store.ordersOfType(trade.ID, domain.OrderTypeStopLoss)
	require.NotEmpty(t, stops)
	var pending int
	for _, o := range stops {
		if o.Status == domain.OrderStatusPending {
			pending++
		}
	}
	assert.Equal(t, 1, pending)
}

func TestTradeMonitor_SkipsOtherChannelsAndFailingSymbols(t *testing.T) {
	h := newHarness(t, 2)
	trade := openPending(t, h)
	other := &domain.Trade{TradingPair: "ETHUSDT", Channel: "beta", Direction: domain.DirectionLong, Status: domain.TradeStatusPending}
	_, err := h.store.InsertTrade(context.Background(), other)
	require.NoError(t, err)

	calls := 0
	h.exchange.tickerFn = func(symbol string) (float64, error) {
		calls++
		return 0, ports.ErrConnectionFailed
	}

	for i := 0; i < 3; i++ {
		err := h.monitor.RunCycle(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ports.ErrConnectionFailed))
	}
	assert.Equal(t, 3, calls, "only the channel's own trade is evaluated")

	// Tripped: skipped for the two cooldown cycles.
	require.NoError(t, h.monitor.RunCycle(context.Background()))
	require.NoError(t, h.monitor.RunCycle(context.Background()))
	assert.Equal(t, 3, calls)

	h.exchange.tickerFn = nil
	h.cycle(t)
	assert.Equal(t, domain.TradeStatusPending, h.store.trade(t, trade.ID).Status)
}

func TestTradeMonitor_RunStopsOnSignal(t *testing.T) {
	h := newHarness(t, 2)
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- h.monitor.Run(context.Background(), stop) }()

	close(stop)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestClosedStatus(t *testing.T) {
	trade := &domain.Trade{Direction: domain.DirectionLong, StopLoss: 95}
	tp := func(st domain.OrderStatus) *domain.Order {
		return &domain.Order{OrderType: domain.OrderTypeTakeProfit, Status: st}
	}

	assert.Equal(t, domain.TradeStatusCompleted, closedStatus(trade, []*domain.Order{tp(domain.OrderStatusFilled), tp(domain.OrderStatusFilled)}, 110))
	assert.Equal(t, domain.TradeStatusClosed, closedStatus(trade, []*domain.Order{tp(domain.OrderStatusFilled), tp(domain.OrderStatusPending)}, 101))
	assert.Equal(t, domain.TradeStatusStopped, closedStatus(trade, []*domain.Order{tp(domain.OrderStatusPending)}, 94))
	assert.Equal(t, domain.TradeStatusClosed, closedStatus(trade, nil, 100))
}
