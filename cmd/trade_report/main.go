package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"signalTradeBot/config"
	"signalTradeBot/internal/adapters/logger"
	"signalTradeBot/internal/adapters/sqlite"
	"signalTradeBot/internal/analytics"
	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/utils"
)

var (
	dbPath   = flag.String("db", "", "sqlite file (default: DB_PATH)")
	channel  = flag.String("channel", "", "only trades from this channel")
	since    = flag.Duration("since", 0, "only trades created within this window, e.g. 168h")
	balance  = flag.Float64("balance", 10000, "starting balance for drawdown and return figures")
	csvOut   = flag.String("csv", "", "also write the selected trades to this CSV file")
	statuses = flag.String("status", "", "comma-separated statuses (default: all terminal)")
	prune    = flag.Bool("prune-cancelled", false, "after reporting, delete the selected cancelled trades and their orders")
)

func main() {
	flag.Parse()

	path := *dbPath
	level := logger.LevelWarn
	if path == "" {
		cfg, err := config.LoadConfig()
		if err != nil {
			log.Fatalf("FATAL: Failed to load configuration: %v", err)
		}
		path = cfg.DBPath
		level = cfg.LogLevel
	}

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: path, Logger: logger.NewStdLogger(level)})
	if err != nil {
		log.Fatalf("FATAL: Failed to open %s: %v", path, err)
	}
	defer repo.Close()

	wanted := []domain.TradeStatus{
		domain.TradeStatusCancelled, domain.TradeStatusStopped, domain.TradeStatusCompleted, domain.TradeStatusClosed,
	}
	if *statuses != "" {
		wanted = wanted[:0]
		for _, s := range strings.Split(*statuses, ",") {
			st, err := domain.ParseTradeStatus(strings.TrimSpace(s))
			if err != nil {
				log.Fatalf("FATAL: %v", err)
			}
			wanted = append(wanted, st)
		}
	}

	trades, err := repo.GetTradesByStatus(context.Background(), wanted...)
	if err != nil {
		log.Fatalf("FATAL: Failed to load trades: %v", err)
	}
	trades = filter(trades, *channel, *since, time.Now())
	if len(trades) == 0 {
		log.Println("No trades match the selection.")
		return
	}

	if err := analytics.WriteReport(os.Stdout, analytics.AnalyzePerformance(trades, *balance)); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	if *csvOut != "" {
		if err := utils.WriteTradesToCSV(trades, *csvOut); err != nil {
			log.Fatalf("FATAL: Failed to write %s: %v", *csvOut, err)
		}
	}
	if *prune {
		pruned := 0
		for _, t := range trades {
			if t.Status != domain.TradeStatusCancelled {
				continue
			}
			if err := repo.DeleteTrade(context.Background(), t.ID); err != nil {
				log.Printf("Failed to delete trade %d: %v", t.ID, err)
				continue
			}
			pruned++
		}
		log.Printf("Pruned %d cancelled trades.", pruned)
	}
}

func filter(trades []*domain.Trade, channel string, window time.Duration, now time.Time) []*domain.Trade {
	out := trades[:0]
	for _, t := range trades {
		if channel != "" && t.Channel != channel {
			continue
		}
		if window > 0 && t.CreatedAt.Before(now.Add(-window)) {
			continue
		}
		out = append(out, t)
	}
	return out
}
