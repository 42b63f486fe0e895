package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const loggerKey contextKey = "logger"

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// FromContextOr retrieves the logger from context, or fallback when none is set
func FromContextOr(ctx context.Context, fallback *Logger) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return fallback
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext tags base with a fresh trace ID and stores it in ctx
func WithTraceContext(ctx context.Context, base *Logger) (context.Context, *Logger) {
	l := base.WithTraceID(uuid.New().String())
	return NewContext(ctx, l), l
}

// TradeContext creates a logger context for order placement
func TradeContext(base *Logger, coin, side string, size, price float64) *Logger {
	return base.WithFields(map[string]interface{}{
		"coin":  coin,
		"side":  side,
		"size":  size,
		"price": price,
	})
}

// SignalContext creates a logger context for an evaluated signal
func SignalContext(base *Logger, coin, direction string, confidence float64) *Logger {
	return base.WithFields(map[string]interface{}{
		"coin":       coin,
		"direction":  direction,
		"confidence": confidence,
	})
}

// RiskContext creates a logger context for automation gate decisions
func RiskContext(base *Logger, tradesLastHour int, dailyPnL float64) *Logger {
	return base.WithFields(map[string]interface{}{
		"trades_last_hour": tradesLastHour,
		"daily_pnl":        dailyPnL,
	})
}

// APIContext creates a logger context for a served request
func APIContext(base *Logger, method, path string, statusCode int) *Logger {
	return base.WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
	})
}
