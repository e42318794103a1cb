package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestStdLogger_FiltersAndSortsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelInfo)
	ctx := context.Background()

	l.Debug(ctx, "hidden")
	assert.Empty(t, buf.String())

	l.Info(ctx, "placed", map[string]interface{}{"symbol": "BTCUSDT", "orderID": "42", "tradeID": 7})
	assert.Contains(t, buf.String(), "[INFO] placed | orderID=42 symbol=BTCUSDT tradeID=7")

	buf.Reset()
	l.Error(ctx, errors.New("boom"), "failed")
	assert.Contains(t, buf.String(), "[ERROR] failed | error: boom")
}

func TestStdLogger_WithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelDebug).With(map[string]interface{}{"channel": "alpha"})

	l.Warn(context.Background(), "slow", map[string]interface{}{"symbol": "ETHUSDT"})
	assert.Contains(t, buf.String(), "[WARN] slow | channel=alpha symbol=ETHUSDT")

	buf.Reset()
	l.Info(context.Background(), "tick")
	assert.Contains(t, buf.String(), "[INFO] tick | channel=alpha")
}
