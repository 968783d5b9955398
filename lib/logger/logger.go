// Package logger provides a context-carried structured logger.
//
// Handlers and managers pass the logger through context so request-scoped
// attributes (request IDs, build IDs) survive across package boundaries
// without threading a *slog.Logger through every call.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

// New creates a JSON slog logger writing to stdout.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// WithContext returns a context carrying the given logger.
func WithContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger stored in the context, or the default
// logger when none is set.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
