package analytics

import (
	"strings"
	"testing"
	"time"

	"signalTradeBot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedTrade(channel string, status domain.TradeStatus, pnl float64, entry, exit time.Time) *domain.Trade {
	return &domain.Trade{
		Channel:       channel,
		TradingPair:   "BTCUSDT",
		Status:        status,
		PnL:           pnl,
		EntryFilledAt: entry,
		ExitFilledAt:  exit,
	}
}

func TestAnalyzePerformance(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := []*domain.Trade{
		closedTrade("alpha", domain.TradeStatusStopped, -50, start.Add(2*time.Hour), start.Add(4*time.Hour)),
		closedTrade("alpha", domain.TradeStatusCompleted, 100, start, start.Add(time.Hour)),
		closedTrade("beta", domain.TradeStatusClosed, 30, start.Add(5*time.Hour), start.Add(8*time.Hour)),
		{Channel: "beta", Status: domain.TradeStatusCancelled},
		{Channel: "beta", Status: domain.TradeStatusActive, PnL: 999},
	}

	m := AnalyzePerformance(trades, 1000)

	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 1, m.CancelledTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 2.0/3.0, m.WinRate, 1e-9)
	assert.InDelta(t, 80, m.TotalProfit, 1e-9)
	assert.InDelta(t, 1080, m.FinalBalance, 1e-9)
	assert.InDelta(t, 0.08, m.ReturnOnInvestment, 1e-9)
	assert.InDelta(t, 65, m.AverageWin, 1e-9)
	assert.InDelta(t, -50, m.AverageLoss, 1e-9)
	assert.InDelta(t, 2.6, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 50.0/1100.0, m.MaxDrawdown, 1e-9)
	assert.Equal(t, 1, m.MaxConsecutiveWins)
	assert.Equal(t, 1, m.MaxConsecutiveLosses)
	assert.Equal(t, 2*time.Hour, m.AverageHoldTime)

	assert.Equal(t, map[domain.TradeStatus]int{
		domain.TradeStatusStopped:   1,
		domain.TradeStatusCompleted: 1,
		domain.TradeStatusClosed:    1,
		domain.TradeStatusCancelled: 1,
	}, m.ByStatus)
	assert.Equal(t, []string{"alpha", "beta"}, m.Channels())
	assert.InDelta(t, 50, m.ByChannel["alpha"].PnL, 1e-9)
	assert.InDelta(t, 0.5, m.ByChannel["alpha"].WinRate(), 1e-9)

	require.Len(t, m.EquityCurve, 3)
	assert.InDelta(t, 1100, m.EquityCurve[0].Value, 1e-9, "ordered by exit time")
	assert.InDelta(t, 1050, m.EquityCurve[1].Value, 1e-9)

	monthly := m.GetMonthlyReturns()
	require.Len(t, monthly, 1)
	assert.InDelta(t, 80, monthly[0].Return, 1e-9)
}

func TestAnalyzePerformance_NoClosedTrades(t *testing.T) {
	m := AnalyzePerformance([]*domain.Trade{{Status: domain.TradeStatusPending}}, 500)

	assert.Zero(t, m.TotalTrades)
	assert.Equal(t, 500.0, m.FinalBalance)
	assert.Empty(t, m.EquityCurve)
}

func TestWriteReport(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	m := AnalyzePerformance([]*domain.Trade{
		closedTrade("alpha", domain.TradeStatusCompleted, 100, start, start.Add(time.Hour)),
	}, 1000)

	var buf strings.Builder
	require.NoError(t, WriteReport(&buf, m))
	out := buf.String()
	assert.Contains(t, out, "Closed trades")
	assert.Contains(t, out, "100.00%")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "2024-03")
}
