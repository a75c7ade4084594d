package logger

import (
	"context"

	"go.uber.org/zap"
)

type contextKey struct{}

var defaultLogger = zap.NewNop()

// Get returns the logger stored in ctx, or the process logger when there is none.
func Get(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return defaultLogger
}

// With returns a copy of ctx carrying l.
func With(ctx context.Context, l *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, l)
}
