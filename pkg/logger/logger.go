package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mailwatch/pkg/trace"
)

// NewLogger builds the production JSON logger. An unknown or empty level
// falls back to info.
func NewLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return l
}

// WithTrace adds the trace_id carried by ctx to logger.
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := trace.FromContext(ctx)
	if traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}

// WithUser tags logger with the tenant the work belongs to.
func WithUser(logger *zap.Logger, userID string) *zap.Logger {
	if userID == "" {
		return logger.With(zap.String("user_id", "global"))
	}
	return logger.With(zap.String("user_id", userID))
}
