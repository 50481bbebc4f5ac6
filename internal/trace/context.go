package trace

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithCorrelation returns a context carrying the given correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// CorrelationFrom extracts the correlation id from the context,
// or "" if none is attached.
func CorrelationFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger returns a logger annotated with the context's correlation id.
// With no id attached, the logger is returned unchanged.
func Logger(ctx context.Context, log *slog.Logger) *slog.Logger {
	if id := CorrelationFrom(ctx); id != "" {
		return log.With("correlation_id", id)
	}
	return log
}
