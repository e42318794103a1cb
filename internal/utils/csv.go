package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"signalTradeBot/internal/domain"
)

// PricePoint is one mark price observation of a scripted price path.
type PricePoint struct {
	Time   time.Time
	Symbol string
	Price  float64
}

// ReadPricePathFromCSV reads "time,symbol,price" rows, RFC3339 times, sorted
// by time. A header row is optional.
func ReadPricePathFromCSV(filename string) ([]PricePoint, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadPricePath(file)
}

// ReadPricePath parses a price path from r.
func ReadPricePath(r io.Reader) ([]PricePoint, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	points := make([]PricePoint, 0, len(records))
	for i, rec := range records {
		if i == 0 && strings.EqualFold(rec[0], "time") {
			continue
		}
		ts, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid time %q: %w", i+1, rec[0], err)
		}
		price, err := strconv.ParseFloat(rec[2], 64)
		if err != nil || price <= 0 {
			return nil, fmt.Errorf("row %d: invalid price %q", i+1, rec[2])
		}
		points = append(points, PricePoint{Time: ts, Symbol: strings.ToUpper(rec[1]), Price: price})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	return points, nil
}

// WriteTradesToCSV writes one row per trade for offline analysis.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteTrades(file, trades)
}

// WriteTrades writes the trade rows to w.
func WriteTrades(w io.Writer, trades []*domain.Trade) error {
	writer := csv.NewWriter(w)

	writer.Write([]string{
		"id", "channel", "trading_pair", "direction", "status", "leverage", "quantity",
		"entry_price", "stop_loss", "exit_price", "pnl", "pnl_percentage", "breakeven",
		"entry_filled_at", "exit_filled_at", "created_at",
	})

	for _, t := range trades {
		writer.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.Channel,
			t.TradingPair,
			string(t.ResolvedDirection()),
			string(t.Status),
			formatFloat(t.Leverage),
			formatFloat(t.Quantity),
			formatFloat(t.EntryPrice),
			formatFloat(t.StopLoss),
			formatFloat(t.ExitPrice),
			formatFloat(t.PnL),
			formatFloat(t.PnLPercentage),
			strconv.FormatBool(t.StopLossBreakeven),
			formatTime(t.EntryFilledAt),
			formatTime(t.ExitFilledAt),
			formatTime(t.CreatedAt),
		})
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
