// Package analytics summarises the outcome of finished trades.
package analytics

import (
	"math"
	"sort"
	"time"

	"signalTradeBot/internal/domain"
)

// PerformanceMetrics holds the performance of a set of terminal trades.
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades        int // trades that held a position
	CancelledTrades    int // entries that never filled
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalProfit        float64
	GrossProfit        float64
	GrossLoss          float64
	MaxDrawdown        float64
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64
	FinalBalance       float64
	ReturnOnInvestment float64

	// Advanced Metrics
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageHoldTime      time.Duration
	Expectancy           float64
	BreakevenMoves       int
	ByStatus             map[domain.TradeStatus]int
	ByChannel            map[string]*ChannelSummary
	MonthlyReturns       map[string]float64
	EquityCurve          []EquityPoint
}

// ChannelSummary is the per-channel slice of the metrics.
type ChannelSummary struct {
	Trades  int
	Winning int
	PnL     float64
}

// WinRate returns the share of winning trades in the channel.
func (c *ChannelSummary) WinRate() float64 {
	if c.Trades == 0 {
		return 0
	}
	return float64(c.Winning) / float64(c.Trades)
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance calculates metrics from terminal trades. Open trades are
// ignored; cancelled trades are only counted.
func AnalyzePerformance(trades []*domain.Trade, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		ByStatus:       make(map[domain.TradeStatus]int),
		ByChannel:      make(map[string]*ChannelSummary),
		MonthlyReturns: make(map[string]float64),
		EquityCurve:    make([]EquityPoint, 0),
	}

	closed := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if !t.Status.IsTerminal() {
			continue
		}
		metrics.ByStatus[t.Status]++
		if t.Status == domain.TradeStatusCancelled {
			metrics.CancelledTrades++
			continue
		}
		closed = append(closed, t)
	}
	if len(closed) == 0 {
		return metrics
	}

	sort.SliceStable(closed, func(i, j int) bool {
		return exitTime(closed[i]).Before(exitTime(closed[j]))
	})

	currentBalance := initialBalance
	peakBalance := initialBalance
	var consecutiveWins, consecutiveLosses int
	var totalHold time.Duration
	var held int

	for _, trade := range closed {
		metrics.TotalTrades++
		ch := metrics.ByChannel[trade.Channel]
		if ch == nil {
			ch = &ChannelSummary{}
			metrics.ByChannel[trade.Channel] = ch
		}
		ch.Trades++
		ch.PnL += trade.PnL

		if trade.PnL > 0 {
			metrics.WinningTrades++
			ch.Winning++
			metrics.GrossProfit += trade.PnL
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			metrics.LosingTrades++
			metrics.GrossLoss += -trade.PnL
			consecutiveLosses++
			consecutiveWins = 0
		}
		metrics.MaxConsecutiveWins = max(metrics.MaxConsecutiveWins, consecutiveWins)
		metrics.MaxConsecutiveLosses = max(metrics.MaxConsecutiveLosses, consecutiveLosses)
		if trade.StopLossBreakeven {
			metrics.BreakevenMoves++
		}

		if !trade.EntryFilledAt.IsZero() && !trade.ExitFilledAt.IsZero() {
			totalHold += trade.ExitFilledAt.Sub(trade.EntryFilledAt)
			held++
		}

		currentBalance += trade.PnL
		metrics.TotalProfit += trade.PnL
		metrics.MonthlyReturns[exitTime(trade).Format("2006-01")] += trade.PnL

		peakBalance = math.Max(peakBalance, currentBalance)
		drawdown := 0.0
		if peakBalance > 0 {
			drawdown = (peakBalance - currentBalance) / peakBalance
		}
		metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, drawdown)
		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{
			Time:     exitTime(trade),
			Value:    currentBalance,
			Drawdown: drawdown,
		})
	}

	metrics.FinalBalance = currentBalance
	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = metrics.GrossProfit / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = -metrics.GrossLoss / float64(metrics.LosingTrades)
	}
	if metrics.GrossLoss > 0 {
		metrics.ProfitFactor = metrics.GrossProfit / metrics.GrossLoss
	}
	if initialBalance > 0 {
		metrics.ReturnOnInvestment = (metrics.FinalBalance - initialBalance) / initialBalance
	}
	if held > 0 {
		metrics.AverageHoldTime = totalHold / time.Duration(held)
	}
	metrics.Expectancy = metrics.WinRate*metrics.AverageWin + (1-metrics.WinRate)*metrics.AverageLoss

	return metrics
}

// Channels returns the channel names in sorted order.
func (m *PerformanceMetrics) Channels() []string {
	names := make([]string, 0, len(m.ByChannel))
	for name := range m.ByChannel {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{
			Month:  date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}

func exitTime(t *domain.Trade) time.Time {
	if !t.ExitFilledAt.IsZero() {
		return t.ExitFilledAt
	}
	return t.UpdatedAt
}
