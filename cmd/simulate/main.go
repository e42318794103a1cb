package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"signalTradeBot/config"
	"signalTradeBot/internal/adapters/logger"
	"signalTradeBot/internal/adapters/simexchange"
	"signalTradeBot/internal/adapters/sqlite"
	"signalTradeBot/internal/analytics"
	"signalTradeBot/internal/app"
	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/simulation"
	"signalTradeBot/internal/utils"
)

var (
	scenarioPath = flag.String("scenario", "examples/sim/scenario.toml", "TOML file with instruments and timed signals")
	pricesPath   = flag.String("prices", "examples/sim/prices.csv", "CSV price path: time,symbol,price")
	dbPath       = flag.String("db", "", "sqlite file for simulated trades (default: a temporary file)")
	tradesOut    = flag.String("out", "", "write the resulting trades to this CSV file")
)

func main() {
	flag.Parse()

	// The simulated venue never needs exchange credentials.
	os.Setenv("EXCHANGE", config.ExchangeSim)
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scenario, err := simulation.LoadScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	signals, err := scenario.Schedule()
	if err != nil {
		log.Fatalf("FATAL: Invalid scenario signals: %v", err)
	}
	path, err := utils.ReadPricePathFromCSV(*pricesPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to read price path %s: %v", *pricesPath, err)
	}
	if len(path) == 0 {
		log.Fatalf("FATAL: Price path %s is empty", *pricesPath)
	}

	db := *dbPath
	if db == "" {
		dir, err := os.MkdirTemp("", "simulate-*")
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		defer os.RemoveAll(dir)
		db = filepath.Join(dir, "trades.db")
	}
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: db, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	clock := simulation.NewClock(path[0].Time)
	exchange := scenario.Exchange(appLogger, simexchange.WithClock(clock.Now))
	engine, err := app.BuildEngine(settings(cfg, scenario), app.Deps{
		Logger:   appLogger,
		Exchange: exchange,
		Trades:   repo,
		Orders:   repo,
		Now:      clock.Now,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize engine: %v", err)
	}

	res, err := simulation.NewRunner(appLogger, engine, exchange, clock, cfg.WithChannelDefaults).Run(ctx, signals, path)
	if err != nil {
		appLogger.Error(ctx, err, "Simulation interrupted")
	}
	appLogger.Info(ctx, "Simulation finished", map[string]interface{}{
		"steps":       res.Steps,
		"submitted":   res.Submitted,
		"rejected":    res.Rejected,
		"undelivered": res.Undelivered,
		"cycleErrors": res.CycleErrors,
		"balance":     res.FinalBalance,
	})

	trades, err := repo.GetTradesByStatus(context.Background(),
		domain.TradeStatusPending, domain.TradeStatusActive, domain.TradeStatusFilled,
		domain.TradeStatusCancelled, domain.TradeStatusStopped, domain.TradeStatusCompleted, domain.TradeStatusClosed)
	if err != nil {
		log.Fatalf("FATAL: Failed to load simulated trades: %v", err)
	}
	if err := analytics.WriteReport(os.Stdout, analytics.AnalyzePerformance(trades, scenario.Balance)); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	if *tradesOut != "" {
		if err := utils.WriteTradesToCSV(trades, *tradesOut); err != nil {
			log.Fatalf("FATAL: Failed to write %s: %v", *tradesOut, err)
		}
	}
}

// settings mirrors the live wiring with accelerated monitors for every
// channel the scenario or the configuration names.
func settings(cfg *config.Config, scenario *simulation.Scenario) app.Settings {
	seen := make(map[string]bool)
	var channels []app.ChannelSettings
	for _, ch := range cfg.Channels {
		seen[ch.Name] = true
		channels = append(channels, app.ChannelSettings{Name: ch.Name})
	}
	for _, name := range scenario.Channels() {
		if !seen[name] {
			channels = append(channels, app.ChannelSettings{Name: name})
		}
	}
	return app.Settings{
		Placer: app.PlacerConfig{
			QuoteCoin:             scenario.QuoteCoin,
			AccountName:           "simulation",
			DefaultRiskPercentage: cfg.RiskPercentage,
			EntryTimeout:          cfg.EntryTimeout,
		},
		BaseLeverage:          cfg.BaseLeverage,
		ExposureGuardFraction: cfg.ExposureGuardFraction,
		BatchTakeProfits:      true,
		Monitor: app.MonitorConfig{
			Accelerated:          true,
			ErrorBackoffMax:      cfg.ErrorBackoffMax,
			BreakevenAfterTPs:    cfg.BreakevenAfterTPs,
			SymbolFailureLimit:   cfg.SymbolFailureLimit,
			SymbolCooldownCycles: cfg.SymbolCooldownCycles,
		},
		Channels:    channels,
		StopTimeout: cfg.StopTimeout,
	}
}
