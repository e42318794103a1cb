package binanceclient

import (
	"errors"
	"testing"

	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
)

func TestMapAPICode(t *testing.T) {
	tests := []struct {
		code int64
		want error
	}{
		{-1003, ports.ErrRateLimited},
		{-2013, ports.ErrOrderNotFound},
		{-2011, ports.ErrOrderNotFound},
		{-2019, ports.ErrInsufficientFunds},
		{-2027, ports.ErrPositionLimit},
		{-1111, ports.ErrInvalidRequest},
		{-9999, ports.ErrUnknown},
	}
	for _, tt := range tests {
		assert.True(t, errors.Is(mapAPICode(tt.code), tt.want), "code %d", tt.code)
	}
}

func TestFormatDecimal(t *testing.T) {
	assert.Equal(t, "0.1", formatDecimal(0.1))
	assert.Equal(t, "27150.5", formatDecimal(27150.5))
	assert.Equal(t, "3", formatDecimal(3))
	assert.Equal(t, "0.00012", formatDecimal(0.00012))
}

func TestWholeLeverage(t *testing.T) {
	assert.Equal(t, 1, wholeLeverage(0.4))
	assert.Equal(t, 12, wholeLeverage(12.9))
	assert.Equal(t, 20, wholeLeverage(20))
}

func TestLeverageForNotional(t *testing.T) {
	tiers := []bracketTier{
		{floor: 0, cap: 50000, leverage: 125},
		{floor: 50000, cap: 250000, leverage: 100},
		{floor: 250000, cap: 1000000, leverage: 50},
	}
	lev, ok := leverageForNotional(tiers, 10000)
	assert.True(t, ok)
	assert.Equal(t, 125, lev)

	lev, ok = leverageForNotional(tiers, 300000)
	assert.True(t, ok)
	assert.Equal(t, 50, lev)

	_, ok = leverageForNotional(tiers, 5000000)
	assert.False(t, ok)
}

func TestTranslateOrder(t *testing.T) {
	o := &futures.Order{
		Symbol:           "BTCUSDT",
		OrderID:          42,
		ClientOrderID:    "link-1",
		Price:            "27000",
		AvgPrice:         "26990.5",
		OrigQuantity:     "0.010",
		ExecutedQuantity: "0.004",
		Status:           futures.OrderStatusTypePartiallyFilled,
		Side:             futures.SideTypeBuy,
		Type:             futures.OrderTypeLimit,
		ReduceOnly:       true,
		UpdateTime:       1700000000000,
	}
	got := translateOrder(o)
	assert.Equal(t, "42", got.OrderID)
	assert.Equal(t, "link-1", got.LinkID)
	assert.Equal(t, domain.Buy, got.Side)
	assert.Equal(t, ports.ExchangeStatusPartiallyFilled, got.Status)
	assert.InDelta(t, 26990.5, got.FillPrice(), 1e-9)
	assert.InDelta(t, 0.004, got.ExecutedQty, 1e-12)
	assert.True(t, got.ReduceOnly)
	assert.Nil(t, translateOrder(nil))
}

func TestTranslatePositionRisk(t *testing.T) {
	p := translatePositionRisk(&futures.PositionRisk{
		Symbol:           "ETHUSDT",
		PositionAmt:      "-1.5",
		EntryPrice:       "1800",
		MarkPrice:        "1790",
		Leverage:         "10",
		UnRealizedProfit: "15",
		MaxNotionalValue: "2000000",
		PositionSide:     "BOTH",
	})
	assert.Equal(t, domain.Sell, p.Side)
	assert.InDelta(t, 1.5, p.Size, 1e-12)
	assert.Equal(t, 0, p.PositionIdx)
	assert.True(t, p.IsOpen())
	assert.InDelta(t, 2000000, p.MaxNotionalValue, 1e-9)
}
