package precision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalTradeBot/internal/domain"
)

type mockLogger struct {
	warnMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockSource struct {
	inst  *domain.Instrument
	err   error
	calls int
}

func (m *mockSource) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	m.calls++
	return m.inst, m.err
}

func TestRoundPrice(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		precision int
		tick      float64
		want      float64
	}{
		{"nearest tick down", 101.37, 2, 0.05, 101.35},
		{"nearest tick up", 101.38, 2, 0.05, 101.4},
		{"precision only", 0.123456, 4, 0, 0.1235},
		{"tick larger than price ignored", 0.5, 3, 1, 0.5},
		{"integer tick", 27123.4, 0, 10, 27120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RoundPrice(tt.value, tt.precision, tt.tick), 1e-12)
		})
	}
}

func TestFloorQuantity(t *testing.T) {
	assert.Equal(t, 1.23, FloorQuantity(1.239, 2, 0))
	assert.Equal(t, 0.3, FloorQuantity(0.3, 1, 0.1), "exact multiples survive float error")
	assert.Equal(t, 15.0, FloorQuantity(17.9, 0, 5))
	assert.Equal(t, 0.007, FloorQuantity(0.0079, 3, 0.001))
	assert.Zero(t, FloorQuantity(-1, 2, 0))
}

func TestDecimals(t *testing.T) {
	assert.Equal(t, 0, Decimals(100))
	assert.Equal(t, 2, Decimals(101.25))
	assert.Equal(t, 5, Decimals(0.00001))
}

func TestAdapter_ResolveFromExchange(t *testing.T) {
	src := &mockSource{inst: &domain.Instrument{Symbol: "BTCUSDT", TickSize: 0.1, QtyStep: 0.001, MinOrderQty: 0.001, MaxOrderQty: 100}}
	a := NewAdapter(src, &mockLogger{})

	r := a.Resolve(context.Background(), "BTCUSDT", 27000, 2000)
	assert.True(t, r.FromExchange)
	assert.Equal(t, 3, r.QtyPrecision)
	assert.Equal(t, 1, r.PricePrecision)
	assert.Equal(t, 0.001, r.MinQty)

	a.Resolve(context.Background(), "BTCUSDT", 27000, 2000)
	assert.Equal(t, 1, src.calls, "metadata is cached")
}

func TestAdapter_ResolveFallbacks(t *testing.T) {
	logger := &mockLogger{}
	a := NewAdapter(&mockSource{err: errors.New("down")}, logger)

	r := a.Resolve(context.Background(), "XYZUSDT", 1.2345, 500)
	assert.False(t, r.FromExchange)
	assert.Equal(t, 4, r.PricePrecision)
	assert.Equal(t, 2, r.QtyPrecision, "about 405 units")
	assert.NotEmpty(t, logger.warnMsgs)

	r = a.Resolve(context.Background(), "XYZUSDT", 30000, 100)
	assert.Equal(t, 6, r.QtyPrecision, "tiny unit count keeps more decimals")
}

func TestAdapter_TickLargerThanPrice(t *testing.T) {
	src := &mockSource{inst: &domain.Instrument{TickSize: 1, QtyStep: 1}}
	a := NewAdapter(src, &mockLogger{})

	r := a.Resolve(context.Background(), "PEPEUSDT", 0.000123, 50)
	assert.Zero(t, r.TickSize)
	assert.Equal(t, 6, r.PricePrecision)
	assert.InDelta(t, 0.000123, r.RoundPrice(0.0001234), 1e-12)
}

func TestSplit(t *testing.T) {
	got := Split(10, 3, Rules{QtyPrecision: 2})
	assert.Equal(t, []float64{3.34, 3.33, 3.33}, got)

	assert.Equal(t, []float64{7.777}, Split(7.777, 1, Rules{QtyPrecision: 0}), "single level is untouched")
}

func TestSplit_SumsToTotalWithinOneStep(t *testing.T) {
	rules := []Rules{
		{QtyPrecision: 2},
		{QtyPrecision: 3, QtyStep: 0.005},
		{QtyPrecision: 0, QtyStep: 1},
	}
	totals := []float64{0.5, 1, 3.7, 10, 123.456, 9999}
	for _, r := range rules {
		for _, total := range totals {
			total = r.FloorQty(total)
			for n := 1; n <= 6; n++ {
				sum := 0.0
				for _, q := range Split(total, n, r) {
					sum += q
				}
				assert.InDelta(t, total, sum, r.Unit()+1e-9, "total=%v n=%d rules=%+v", total, n, r)
			}
		}
	}
}

func TestDistribute(t *testing.T) {
	prices := []float64{101, 102, 103}

	t.Run("no minimum", func(t *testing.T) {
		got := Distribute(10, prices, Rules{QtyPrecision: 2})
		require.Len(t, got, 3)
		assert.Equal(t, Level{Index: 1, Price: 101, Quantity: 3.34}, got[0])
		assert.Equal(t, 3, got[2].Index)
	})

	t.Run("drops farthest until minimum holds", func(t *testing.T) {
		got := Distribute(10, prices, Rules{QtyPrecision: 2, MinQty: 5})
		require.Len(t, got, 2)
		assert.Equal(t, 5.0, got[0].Quantity)
		assert.Equal(t, 5.0, got[1].Quantity)
		assert.Equal(t, 102.0, got[1].Price)
	})

	t.Run("only one level can hold the minimum", func(t *testing.T) {
		got := Distribute(10, prices, Rules{QtyPrecision: 2, MinQty: 6})
		require.Len(t, got, 1)
		assert.Equal(t, Level{Index: 1, Price: 101, Quantity: 10}, got[0])
	})

	t.Run("tops up from spare quantity", func(t *testing.T) {
		// step 2 gives [7,2,2]; the spare 4 on level one covers the shortfall of 2
		got := Distribute(11, prices, Rules{QtyStep: 2, MinQty: 3})
		require.Len(t, got, 3)
		sum := 0.0
		for _, l := range got {
			assert.GreaterOrEqual(t, l.Quantity, 3.0)
			sum += l.Quantity
		}
		assert.Equal(t, 5.0, got[0].Quantity)
		assert.InDelta(t, 11, sum, 1e-9)
	})

	t.Run("nothing fits", func(t *testing.T) {
		assert.Empty(t, Distribute(1, prices, Rules{QtyPrecision: 2, MinQty: 5}))
	})

	t.Run("clamps to maximum", func(t *testing.T) {
		got := Distribute(300, prices[:2], Rules{QtyPrecision: 0, MaxQty: 100})
		require.Len(t, got, 2)
		assert.Equal(t, 100.0, got[0].Quantity)
		assert.Equal(t, 100.0, got[1].Quantity)
	})

	t.Run("zero quantity levels are dropped", func(t *testing.T) {
		got := Distribute(0.01, prices, Rules{QtyPrecision: 2})
		require.Len(t, got, 1)
		assert.Equal(t, 0.01, got[0].Quantity)
	})
}

func TestDistribute_EveryLevelMeetsMinimum(t *testing.T) {
	for _, total := range []float64{1, 2.5, 7, 10, 33.3, 100} {
		for _, minQty := range []float64{0.5, 1, 3, 12} {
			r := Rules{QtyPrecision: 2, MinQty: minQty}
			got := Distribute(total, []float64{1, 2, 3, 4}, r)
			assert.LessOrEqual(t, len(got), 4)
			for _, l := range got {
				assert.GreaterOrEqual(t, l.Quantity, minQty, "total=%v min=%v", total, minQty)
			}
		}
	}
}
