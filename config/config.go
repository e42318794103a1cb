package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"signalTradeBot/internal/adapters/logger"
	"signalTradeBot/internal/domain"
)

// Exchange names accepted by EXCHANGE.
const (
	ExchangeBinance = "binance"
	ExchangeSim     = "sim"
)

// Config holds all application configuration.
type Config struct {
	// Exchange
	APIKey      string
	SecretKey   string
	IsTestnet   bool
	Exchange    string
	AccountName string
	QuoteCoin   string
	SimBalance  float64 // starting wallet of the simulated exchange

	// Sizing
	BaseLeverage   float64
	RiskPercentage float64

	// Monitor
	EntryTimeout          time.Duration
	PollInterval          time.Duration
	ErrorBackoffMax       time.Duration
	Accelerated           bool
	BreakevenAfterTPs     int
	ExposureGuardFraction float64
	SymbolFailureLimit    int
	SymbolCooldownCycles  int
	StopTimeout           time.Duration

	// Database
	DBPath string

	// Metrics endpoint; empty disables the HTTP listener
	MetricsAddr string

	Channels []ChannelConfig

	// Logging
	LogLevel logger.LogLevel
}

// ChannelConfig is one monitored signal source.
type ChannelConfig struct {
	Name           string   `toml:"name"`
	PollInterval   Duration `toml:"poll_interval"`
	RiskPercentage float64  `toml:"risk_percentage"`
	Leverage       float64  `toml:"leverage"`
}

// Duration decodes TOML strings such as "45s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type channelFile struct {
	Channel []ChannelConfig `toml:"channel"`
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	cfg.Exchange = strings.ToLower(getEnv("EXCHANGE", ExchangeBinance))
	if cfg.Exchange != ExchangeBinance && cfg.Exchange != ExchangeSim {
		errs = append(errs, fmt.Sprintf("EXCHANGE must be %q or %q", ExchangeBinance, ExchangeSim))
	}

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	if cfg.Exchange == ExchangeBinance {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set")
		}
	}
	cfg.AccountName = getEnv("ACCOUNT_NAME", "default")
	cfg.QuoteCoin = strings.ToUpper(getEnv("QUOTE_COIN", "USDT"))

	cfg.SimBalance, err = getEnvAsFloatRequired("SIM_BALANCE", 10000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SIM_BALANCE: %v", err))
	}

	cfg.BaseLeverage, err = getEnvAsFloatRequired("BASE_LEVERAGE", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BASE_LEVERAGE: %v", err))
	} else if cfg.BaseLeverage < 0 {
		errs = append(errs, "BASE_LEVERAGE cannot be negative")
	}

	cfg.RiskPercentage, err = getEnvAsFloatRequired("RISK_PERCENTAGE", 1.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_PERCENTAGE: %v", err))
	} else if cfg.RiskPercentage <= 0 || cfg.RiskPercentage > 100 {
		errs = append(errs, "RISK_PERCENTAGE must be in (0, 100]")
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"ENTRY_TIMEOUT", 24 * time.Hour, &cfg.EntryTimeout},
		{"POLL_INTERVAL", 30 * time.Second, &cfg.PollInterval},
		{"ERROR_BACKOFF_MAX", 5 * time.Minute, &cfg.ErrorBackoffMax},
		{"STOP_TIMEOUT", 10 * time.Second, &cfg.StopTimeout},
	}
	for _, d := range durations {
		*d.dest, err = getEnvAsDurationRequired(d.key, d.def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", d.key, err))
		} else if *d.dest <= 0 {
			errs = append(errs, d.key+" must be positive")
		}
	}
	if cfg.ErrorBackoffMax < cfg.PollInterval {
		cfg.ErrorBackoffMax = cfg.PollInterval
	}

	cfg.Accelerated = getEnvAsBool("ACCELERATED", false)

	cfg.BreakevenAfterTPs, err = getEnvAsIntRequired("BREAKEVEN_AFTER_TPS", 2)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BREAKEVEN_AFTER_TPS: %v", err))
	} else if cfg.BreakevenAfterTPs < 0 {
		errs = append(errs, "BREAKEVEN_AFTER_TPS cannot be negative")
	}

	cfg.ExposureGuardFraction, err = getEnvAsFloatRequired("EXPOSURE_GUARD_FRACTION", 0.8)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid EXPOSURE_GUARD_FRACTION: %v", err))
	} else if cfg.ExposureGuardFraction <= 0 || cfg.ExposureGuardFraction > 1 {
		errs = append(errs, "EXPOSURE_GUARD_FRACTION must be in (0, 1]")
	}

	cfg.SymbolFailureLimit = getEnvAsInt("SYMBOL_FAILURE_LIMIT", 5)
	cfg.SymbolCooldownCycles = getEnvAsInt("SYMBOL_COOLDOWN_CYCLES", 3)
	if cfg.SymbolFailureLimit <= 0 || cfg.SymbolCooldownCycles < 0 {
		errs = append(errs, "SYMBOL_FAILURE_LIMIT must be positive and SYMBOL_COOLDOWN_CYCLES non-negative")
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/trades.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	if _, set := os.LookupEnv("METRICS_ADDR"); !set {
		cfg.MetricsAddr = ":9102"
	}

	if path := getEnv("CHANNELS_FILE", ""); path != "" {
		cfg.Channels, err = LoadChannels(path)
		if err != nil {
			errs = append(errs, err.Error())
		}
	} else {
		for _, name := range strings.Split(getEnv("CHANNELS", "default"), ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Channels = append(cfg.Channels, ChannelConfig{Name: name})
			}
		}
	}
	if len(cfg.Channels) == 0 {
		errs = append(errs, "at least one channel must be configured")
	}
	seen := make(map[string]bool)
	for _, ch := range cfg.Channels {
		if seen[ch.Name] {
			errs = append(errs, fmt.Sprintf("channel %q configured twice", ch.Name))
		}
		seen[ch.Name] = true
	}

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// LoadChannels decodes a TOML file of [[channel]] tables.
func LoadChannels(path string) ([]ChannelConfig, error) {
	var f channelFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to decode channels file %s: %w", path, err)
	}
	for i, ch := range f.Channel {
		if strings.TrimSpace(ch.Name) == "" {
			return nil, fmt.Errorf("channel #%d in %s has no name", i+1, path)
		}
		if ch.PollInterval.Duration < 0 || ch.RiskPercentage < 0 || ch.RiskPercentage > 100 || ch.Leverage < 0 {
			return nil, fmt.Errorf("channel %q in %s has out-of-range settings", ch.Name, path)
		}
	}
	return f.Channel, nil
}

// PollIntervalFor returns the channel override or the global interval.
func (c *Config) PollIntervalFor(ch ChannelConfig) time.Duration {
	if ch.PollInterval.Duration > 0 {
		return ch.PollInterval.Duration
	}
	return c.PollInterval
}

// WithChannelDefaults fills a signal's missing risk and leverage from its
// channel's overrides.
func (c *Config) WithChannelDefaults(sig domain.Signal) domain.Signal {
	for _, ch := range c.Channels {
		if ch.Name != sig.Channel {
			continue
		}
		if sig.RiskPercentage == 0 && ch.RiskPercentage > 0 {
			sig.RiskPercentage = ch.RiskPercentage
		}
		if sig.Leverage == 0 && ch.Leverage > 0 {
			sig.Leverage = ch.Leverage
		}
		break
	}
	return sig
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDurationRequired(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
