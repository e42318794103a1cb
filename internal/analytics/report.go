package analytics

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"signalTradeBot/internal/domain"
)

// WriteReport prints a human-readable summary of m.
func WriteReport(out io.Writer, m *PerformanceMetrics) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Closed trades\t%d\n", m.TotalTrades)
	fmt.Fprintf(w, "Cancelled entries\t%d\n", m.CancelledTrades)
	fmt.Fprintf(w, "Win rate\t%.2f%%\n", m.WinRate*100)
	fmt.Fprintf(w, "Total PnL\t%.4f\n", m.TotalProfit)
	fmt.Fprintf(w, "Average win / loss\t%.4f / %.4f\n", m.AverageWin, m.AverageLoss)
	fmt.Fprintf(w, "Profit factor\t%.2f\n", m.ProfitFactor)
	fmt.Fprintf(w, "Expectancy\t%.4f\n", m.Expectancy)
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(w, "Return\t%.2f%%\n", m.ReturnOnInvestment*100)
	fmt.Fprintf(w, "Final balance\t%.2f\n", m.FinalBalance)
	fmt.Fprintf(w, "Max consecutive wins / losses\t%d / %d\n", m.MaxConsecutiveWins, m.MaxConsecutiveLosses)
	fmt.Fprintf(w, "Average hold time\t%s\n", m.AverageHoldTime)
	fmt.Fprintf(w, "Stops moved to breakeven\t%d\n", m.BreakevenMoves)

	if len(m.ByStatus) > 0 {
		fmt.Fprintln(w, "\nStatus\tTrades")
		statuses := make([]string, 0, len(m.ByStatus))
		for s := range m.ByStatus {
			statuses = append(statuses, string(s))
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Fprintf(w, "%s\t%d\n", s, m.ByStatus[domain.TradeStatus(s)])
		}
	}

	if len(m.ByChannel) > 0 {
		fmt.Fprintln(w, "\nChannel\tTrades\tWinRate\tPnL")
		for _, name := range m.Channels() {
			c := m.ByChannel[name]
			fmt.Fprintf(w, "%s\t%d\t%.2f%%\t%.4f\n", name, c.Trades, c.WinRate()*100, c.PnL)
		}
	}

	if monthly := m.GetMonthlyReturns(); len(monthly) > 0 {
		fmt.Fprintln(w, "\nMonth\tPnL")
		for _, r := range monthly {
			fmt.Fprintf(w, "%s\t%.4f\n", r.Month.Format("2006-01"), r.Return)
		}
	}
	return w.Flush()
}
