// Package logging provides the single operational logger used by every
// BetterMQ component that logs (broker, engine, RPC server and adapter,
// sweeper, daemon bootstrap).
package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	opLogger.Store(slog.New(newHandler("text", logLevel)))
}

func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

// Op returns the operational logger used for broker/engine/RPC and
// sweeper diagnostics.
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetLevel changes the level of the operational logger.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString sets the log level from a config string. Unknown
// values are ignored, leaving the previous level in place.
func SetLevelFromString(level string) {
	switch level {
	case "debug", "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "info", "INFO":
		logLevel.Set(slog.LevelInfo)
	case "warn", "WARN", "warning", "WARNING":
		logLevel.Set(slog.LevelWarn)
	case "error", "ERROR":
		logLevel.Set(slog.LevelError)
	}
}

// InitStructured switches the operational logger's output format and
// level in one call, driven by config.LoggingConfig ("text" or "json").
func InitStructured(format, level string) {
	SetLevelFromString(level)
	opLogger.Store(slog.New(newHandler(format, logLevel)))
}

// OpWithTrace returns the operational logger with trace/span id fields
// attached, so a log line can be correlated with the span it occurred in.
func OpWithTrace(traceID, spanID string) *slog.Logger {
	l := Op()
	if traceID == "" {
		return l
	}
	args := []any{"trace_id", traceID}
	if spanID != "" {
		args = append(args, "span_id", spanID)
	}
	return l.With(args...)
}
