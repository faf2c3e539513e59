// Package vlog provides the logr.Logger used across the control plane,
// backed by zap the same way the teacher wires go-logr/zapr.
package vlog

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerKey struct{}

var root logr.Logger

func init() {
	root = New("info")
}

// New builds a root logr.Logger backed by zap at the given level
// ("debug", "info", "warning"/"warn", "error").
func New(level string) logr.Logger {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warning", "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Falling back to a no-op core keeps callers from having to
		// handle a constructor error for what is effectively stdout
		// plumbing.
		zl = zap.NewNop()
	}

	return zapr.NewLogger(zl)
}

// SetRoot overrides the package-level root logger, used once at process
// startup after flags/configuration have been parsed.
func SetRoot(l logr.Logger) {
	root = l
}

// IntoContext attaches l to ctx.
func IntoContext(ctx context.Context, l logr.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logr.Logger attached to ctx, or the root logger
// if none was attached.
func FromContext(ctx context.Context) logr.Logger {
	if l, ok := ctx.Value(loggerKey{}).(logr.Logger); ok {
		return l
	}
	return root
}
