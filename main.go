package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalTradeBot/config"
	"signalTradeBot/internal/adapters/binanceclient"
	"signalTradeBot/internal/adapters/logger"
	"signalTradeBot/internal/adapters/simexchange"
	"signalTradeBot/internal/adapters/sqlite"
	"signalTradeBot/internal/app"
	"signalTradeBot/internal/metrics"
	"signalTradeBot/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Client
	exchange, err := newExchange(cfg, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize exchange client")
		log.Fatalf("FATAL: Failed to initialize exchange client: %v", err)
	}
	appLogger.Info(ctx, "Exchange client initialized", map[string]interface{}{"exchange": exchange.Name()})

	// 5. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	botMetrics := metrics.New(registry)
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error(ctx, err, "Metrics server stopped")
			}
		}()
		defer srv.Close()
		appLogger.Info(ctx, "Metrics endpoint listening", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	// 6. Engine
	engine, err := app.BuildEngine(engineSettings(cfg), app.Deps{
		Logger:   appLogger,
		Exchange: exchange,
		Trades:   repo,
		Orders:   repo,
		Metrics:  botMetrics,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize engine")
		log.Fatalf("FATAL: Failed to initialize engine: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLogger.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})
		if err := engine.Stop(); err != nil {
			appLogger.Error(ctx, err, "Engine did not stop cleanly")
		}
	}()

	// 7. Run until stopped
	if err := engine.Run(ctx); err != nil {
		appLogger.Error(ctx, err, "Engine exited with error")
		log.Fatalf("FATAL: Engine exited with error: %v", err)
	}
	appLogger.Info(ctx, "Application finished gracefully.")
}

func newExchange(cfg *config.Config, appLogger ports.Logger) (ports.ExchangeClient, error) {
	if cfg.Exchange == config.ExchangeSim {
		return simexchange.New(appLogger, cfg.QuoteCoin, cfg.SimBalance), nil
	}
	return binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
}

func engineSettings(cfg *config.Config) app.Settings {
	channels := make([]app.ChannelSettings, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels = append(channels, app.ChannelSettings{Name: ch.Name, PollInterval: cfg.PollIntervalFor(ch)})
	}
	return app.Settings{
		Placer: app.PlacerConfig{
			QuoteCoin:             cfg.QuoteCoin,
			AccountName:           cfg.AccountName,
			DefaultRiskPercentage: cfg.RiskPercentage,
			EntryTimeout:          cfg.EntryTimeout,
		},
		BaseLeverage:          cfg.BaseLeverage,
		ExposureGuardFraction: cfg.ExposureGuardFraction,
		BatchTakeProfits:      true,
		Monitor: app.MonitorConfig{
			PollInterval:         cfg.PollInterval,
			ErrorBackoffMax:      cfg.ErrorBackoffMax,
			Accelerated:          cfg.Accelerated,
			BreakevenAfterTPs:    cfg.BreakevenAfterTPs,
			SymbolFailureLimit:   cfg.SymbolFailureLimit,
			SymbolCooldownCycles: cfg.SymbolCooldownCycles,
		},
		Channels:    channels,
		StopTimeout: cfg.StopTimeout,
	}
}
