package simexchange

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

func newTestExchange(opts ...Option) *Exchange {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	opts = append(opts, WithClock(func() time.Time { return clock }))
	ex := New(nil, "USDT", 10000, opts...)
	ex.SetPrice("BTCUSDT", 100)
	return ex
}

func TestExchange_LimitEntryRestsThenFills(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()
	require.NoError(t, ex.SetLeverage(ctx, "BTCUSDT", 10))

	o, err := ex.SubmitOrder(ctx, ports.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Type: ports.OrderTypeLimit, Quantity: 2, Price: 98, TimeInForce: ports.TimeInForceGTC,
	})
	require.NoError(t, err)
	assert.Equal(t, ports.ExchangeStatusNew, o.Status)

	open, err := ex.GetOpenOrders(ctx, "BTCUSDT", o.OrderID)
	require.NoError(t, err)
	require.Len(t, open, 1)

	ex.SetPrice("BTCUSDT", 97.5)

	open, err = ex.GetOpenOrders(ctx, "BTCUSDT", o.OrderID)
	require.NoError(t, err)
	assert.Empty(t, open)

	hist, err := ex.GetOrderHistory(ctx, ports.OrderQuery{Symbol: "BTCUSDT", OrderID: o.OrderID})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, ports.ExchangeStatusFilled, hist[0].Status)
	assert.InDelta(t, 98, hist[0].FillPrice(), 1e-9)

	positions, err := ex.GetPositions(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.Buy, positions[0].Side)
	assert.InDelta(t, 2, positions[0].Size, 1e-12)
}

func TestExchange_IOCNotMarketableIsCancelled(t *testing.T) {
	ex := newTestExchange()
	o, err := ex.SubmitOrder(context.Background(), ports.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Type: ports.OrderTypeLimit, Quantity: 1, Price: 99, TimeInForce: ports.TimeInForceIOC,
	})
	require.NoError(t, err)
	assert.Equal(t, ports.ExchangeStatusCancelled, o.Status)
}

func TestExchange_TakeProfitAndStopLifecycle(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()

	entry, err := ex.SubmitOrder(ctx, ports.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Type: ports.OrderTypeLimit, Quantity: 4, Price: 100, TimeInForce: ports.TimeInForceIOC,
	})
	require.NoError(t, err)
	require.Equal(t, ports.ExchangeStatusFilled, entry.Status)

	stopID, err := ex.SetTradingStop(ctx, ports.TradingStopRequest{Symbol: "BTCUSDT", Direction: domain.DirectionLong, StopLoss: 95})
	require.NoError(t, err)
	require.NotEmpty(t, stopID)

	tp, err := ex.SubmitOrder(ctx, ports.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Sell, Type: ports.OrderTypeLimit, Quantity: 1, Price: 105, ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ports.ExchangeStatusNew, tp.Status)

	ex.SetPrice("BTCUSDT", 106)
	pnl, err := ex.GetClosedPnL(ctx, "BTCUSDT", time.Time{})
	require.NoError(t, err)
	require.Len(t, pnl, 1)
	assert.InDelta(t, 5, pnl[0].PnL, 1e-9)

	ex.SetPrice("BTCUSDT", 94)
	positions, err := ex.GetPositions(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, positions[0].IsOpen())

	pnl, err = ex.GetClosedPnL(ctx, "BTCUSDT", time.Time{})
	require.NoError(t, err)
	require.Len(t, pnl, 2)
	assert.InDelta(t, 3, pnl[1].Quantity, 1e-12)
	assert.InDelta(t, -18, pnl[1].PnL, 1e-9)
	assert.InDelta(t, 10000+5-18, ex.Balance(), 1e-9)

	execs, err := ex.GetExecutions(ctx, "BTCUSDT", time.Time{})
	require.NoError(t, err)
	assert.Len(t, execs, 3)
}

func TestExchange_EmbeddedStopCreatedOnFill(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange(WithEmbeddedStopLoss())
	assert.True(t, ex.SupportsEmbeddedStopLoss())

	_, err := ex.SubmitOrder(ctx, ports.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Sell, Type: ports.OrderTypeLimit, Quantity: 1, Price: 101, StopLoss: 110,
	})
	require.NoError(t, err)
	ex.SetPrice("BTCUSDT", 101)

	open, err := ex.GetOpenOrders(ctx, "BTCUSDT", "")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.Buy, open[0].Side)
	assert.InDelta(t, 110, open[0].StopPrice, 1e-9)
}

func TestExchange_ReduceOnlyRejectedWithoutPosition(t *testing.T) {
	ex := newTestExchange()
	_, err := ex.SubmitOrder(context.Background(), ports.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Sell, Type: ports.OrderTypeMarket, Quantity: 1, ReduceOnly: true,
	})
	assert.True(t, errors.Is(err, ports.ErrOrderPlacementFailed))
}

func TestExchange_PositionLimitBracket(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()
	ex.SetLeverageBracket("BTCUSDT", 5000, 5)
	require.NoError(t, ex.SetLeverage(ctx, "BTCUSDT", 20))

	req := ports.OrderRequest{Symbol: "BTCUSDT", Side: domain.Buy, Type: ports.OrderTypeLimit, Quantity: 60, Price: 100}
	_, err := ex.SubmitOrder(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrPositionLimit))
	assert.Contains(t, err.Error(), "max allowed leverage is 5")

	require.NoError(t, ex.SetLeverage(ctx, "BTCUSDT", 5))
	_, err = ex.SubmitOrder(ctx, req)
	require.NoError(t, err)
}

func TestExchange_CancelOrder(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()
	o, err := ex.SubmitOrder(ctx, ports.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.Buy, Type: ports.OrderTypeLimit, Quantity: 1, Price: 90,
	})
	require.NoError(t, err)
	require.NoError(t, ex.CancelOrder(ctx, "BTCUSDT", o.OrderID))
	assert.True(t, errors.Is(ex.CancelOrder(ctx, "BTCUSDT", o.OrderID), ports.ErrOrderNotFound))
}

func TestExchange_SetTradingStopRejectsCrossed(t *testing.T) {
	ex := newTestExchange()
	_, err := ex.SetTradingStop(context.Background(), ports.TradingStopRequest{
		Symbol: "BTCUSDT", Direction: domain.DirectionLong, StopLoss: 101,
	})
	assert.True(t, errors.Is(err, ports.ErrInvalidRequest))
}
