package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalTradeBot/internal/ports"
)

func TestPositionSizer_Size(t *testing.T) {
	sizer := NewPositionSizer(3)

	got, err := sizer.Size(SizingInput{Balance: 10000, RiskPercentage: 1, EntryPrice: 100, StopPrice: 95, RequestedLeverage: 10})
	require.NoError(t, err)
	assert.InDelta(t, 2000, got.Notional, 1e-9)
	assert.InDelta(t, 20, got.Quantity, 1e-9)
	assert.InDelta(t, 100, got.RiskAmount, 1e-9)
	assert.InDelta(t, 200, got.Margin, 1e-9)
	assert.Equal(t, 10.0, got.Leverage)
}

func TestPositionSizer_NotionalIndependentOfLeverage(t *testing.T) {
	sizer := NewPositionSizer(0)
	for _, lev := range []float64{0, 1, 2.5, 20, 125} {
		got, err := sizer.Size(SizingInput{Balance: 5000, RiskPercentage: 2, EntryPrice: 40, StopPrice: 42, RequestedLeverage: lev})
		require.NoError(t, err)
		assert.InDelta(t, 5000*2.0/100/(2.0/40), got.Notional, 1e-6, "leverage %v", lev)
	}
}

func TestPositionSizer_EffectiveLeverage(t *testing.T) {
	assert.Equal(t, 7.0, NewPositionSizer(3).EffectiveLeverage(7))
	assert.Equal(t, 3.0, NewPositionSizer(3).EffectiveLeverage(0))
	assert.Equal(t, 1.0, NewPositionSizer(0).EffectiveLeverage(0))
}

func TestPositionSizer_Errors(t *testing.T) {
	sizer := NewPositionSizer(1)
	tests := []struct {
		name string
		in   SizingInput
	}{
		{"zero entry", SizingInput{Balance: 100, RiskPercentage: 1, EntryPrice: 0, StopPrice: 1}},
		{"entry equals stop", SizingInput{Balance: 100, RiskPercentage: 1, EntryPrice: 10, StopPrice: 10}},
		{"no balance", SizingInput{Balance: 0, RiskPercentage: 1, EntryPrice: 10, StopPrice: 9}},
		{"risk above 100", SizingInput{Balance: 100, RiskPercentage: 120, EntryPrice: 10, StopPrice: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sizer.Size(tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrSizing)
		})
	}
}

func TestExposureGuard_Adjust(t *testing.T) {
	guard := NewExposureGuard(0.8)

	lev, reduced := guard.Adjust(ExposureInput{Balance: 1000, Leverage: 10, NewNotional: 5000})
	assert.False(t, reduced)
	assert.Equal(t, 10.0, lev)

	// limit = 1000*10*0.8 = 8000, combined 16000 -> floor(10*0.5) = 5
	lev, reduced = guard.Adjust(ExposureInput{Balance: 1000, Leverage: 10, PositionNotional: 6000, PendingNotional: 4000, NewNotional: 6000})
	assert.True(t, reduced)
	assert.Equal(t, 5.0, lev)

	// venue cap wins when known: 0.8*10000 = 8000 vs 9000
	lev, reduced = guard.Adjust(ExposureInput{Balance: 1e6, Leverage: 20, NewNotional: 9000, VenueMaxNotional: 10000})
	assert.True(t, reduced)
	assert.Equal(t, 17.0, lev)

	lev, reduced = guard.Adjust(ExposureInput{Balance: 10, Leverage: 1, NewNotional: 1e6})
	assert.False(t, reduced, "already at the floor")
	assert.Equal(t, 1.0, lev)
}

func TestParseSuggestedLeverage(t *testing.T) {
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{"position limit exceeded, please lower leverage to 10x", 10, true},
		{"Risk limit exceeded. Reduce your leverage to 12.5", 12.5, true},
		{"Exceeded the maximum allowable position at current leverage. max allowed leverage is 20", 20, true},
		{"maximum leverage: 7.5x", 7.5, true},
		{"leverage must not exceed 25 for this notional", 25, true},
		{"use 8x or lower for this size", 8, true},
		{"suggested leverage=3", 3, true},
		{"Exceeded the maximum allowable position at current leverage.", 0, false},
		{"lower leverage to 0x", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ParseSuggestedLeverage(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
