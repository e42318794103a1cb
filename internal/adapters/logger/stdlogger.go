package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"signalTradeBot/internal/ports"
)

var _ ports.Logger = (*StdLogger)(nil)

// StdLogger implements the ports.Logger interface using the standard log package.
type StdLogger struct {
	logger *log.Logger
	level  LogLevel
	fields map[string]interface{}
}

// LogLevel defines the logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string level to LogLevel.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// NewStdLogger creates a logger writing to os.Stderr.
func NewStdLogger(level LogLevel) *StdLogger {
	return NewWriterLogger(os.Stderr, level)
}

// NewWriterLogger creates a logger writing to w.
func NewWriterLogger(w io.Writer, level LogLevel) *StdLogger {
	return &StdLogger{
		logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		level:  level,
	}
}

// With returns a logger that adds fields to every line, e.g. the channel a monitor serves.
func (l *StdLogger) With(fields map[string]interface{}) ports.Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &StdLogger{logger: l.logger, level: l.level, fields: merged}
}

func (l *StdLogger) log(_ context.Context, level LogLevel, msg string, err error, fields ...map[string]interface{}) {
	if level < l.level {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", level.String(), msg))

	if err != nil {
		sb.WriteString(fmt.Sprintf(" | error: %v", err))
	}

	all := l.fields
	if len(fields) > 0 && fields[0] != nil {
		all = make(map[string]interface{}, len(l.fields)+len(fields[0]))
		for k, v := range l.fields {
			all[k] = v
		}
		for k, v := range fields[0] {
			all[k] = v
		}
	}
	if len(all) > 0 {
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" |")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf(" %s=%v", k, all[k]))
		}
	}

	l.logger.Println(sb.String())
}

// Debug logs a message at Debug level.
func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelDebug, msg, nil, fields...)
}

// Info logs a message at Info level.
func (l *StdLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelInfo, msg, nil, fields...)
}

// Warn logs a message at Warning level.
func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelWarn, msg, nil, fields...)
}

// Error logs an error message at Error level.
func (l *StdLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelError, msg, err, fields...)
}
