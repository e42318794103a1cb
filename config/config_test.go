package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"signalTradeBot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_SimDefaults(t *testing.T) {
	t.Setenv("EXCHANGE", "sim")
	t.Setenv("CHANNELS", "alpha, beta")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ExchangeSim, cfg.Exchange)
	assert.Equal(t, 1.0, cfg.BaseLeverage)
	assert.Equal(t, 24*time.Hour, cfg.EntryTimeout)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 2, cfg.BreakevenAfterTPs)
	assert.Equal(t, "USDT", cfg.QuoteCoin)
	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, "beta", cfg.Channels[1].Name)
}

func TestLoadConfig_BinanceRequiresKeys(t *testing.T) {
	t.Setenv("EXCHANGE", "binance")
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY must be set")
}

func TestLoadConfig_CollectsValidationErrors(t *testing.T) {
	t.Setenv("EXCHANGE", "sim")
	t.Setenv("RISK_PERCENTAGE", "150")
	t.Setenv("POLL_INTERVAL", "soon")
	t.Setenv("EXPOSURE_GUARD_FRACTION", "0")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RISK_PERCENTAGE")
	assert.Contains(t, err.Error(), "invalid POLL_INTERVAL")
	assert.Contains(t, err.Error(), "EXPOSURE_GUARD_FRACTION")
}

func TestLoadChannels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.toml")
	content := `
[[channel]]
name = "alpha"
poll_interval = "45s"
risk_percentage = 0.5

[[channel]]
name = "beta"
leverage = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	chans, err := LoadChannels(path)
	require.NoError(t, err)
	require.Len(t, chans, 2)
	assert.Equal(t, 45*time.Second, chans[0].PollInterval.Duration)
	assert.Equal(t, 0.5, chans[0].RiskPercentage)
	assert.Equal(t, 5.0, chans[1].Leverage)

	cfg := &Config{PollInterval: time.Minute}
	assert.Equal(t, 45*time.Second, cfg.PollIntervalFor(chans[0]))
	assert.Equal(t, time.Minute, cfg.PollIntervalFor(chans[1]))
}

func TestLoadChannels_RejectsUnnamed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[channel]]\nrisk_percentage = 1\n"), 0o600))

	_, err := LoadChannels(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no name")
}

func TestWithChannelDefaults(t *testing.T) {
	cfg := &Config{Channels: []ChannelConfig{
		{Name: "alpha", RiskPercentage: 0.5, Leverage: 5},
		{Name: "beta"},
	}}

	got := cfg.WithChannelDefaults(domain.Signal{Channel: "alpha"})
	assert.Equal(t, 0.5, got.RiskPercentage)
	assert.Equal(t, 5.0, got.Leverage)

	got = cfg.WithChannelDefaults(domain.Signal{Channel: "alpha", RiskPercentage: 2, Leverage: 10})
	assert.Equal(t, 2.0, got.RiskPercentage, "signal values win")
	assert.Equal(t, 10.0, got.Leverage)

	got = cfg.WithChannelDefaults(domain.Signal{Channel: "beta"})
	assert.Zero(t, got.RiskPercentage)
	assert.Zero(t, got.Leverage)
}
