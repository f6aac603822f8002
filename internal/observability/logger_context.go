package observability

import (
	"context"
	"log/slog"
)

// loggerCtxKey is the private context key a *slog.Logger is stashed under.
type loggerCtxKey struct{}

// subscriptionCtxKey is the private context key a running subscription's id
// is stashed under, so a handler invoked deep inside a consume loop can log
// with the same correlation id the subscription's own loop uses.
type subscriptionCtxKey struct{}

// ContextWithLogger attaches a non-nil logger to ctx.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey{}, lg)
}

// LoggerFromContext returns the logger stashed in ctx, or the default slog
// logger when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if v := ctx.Value(loggerCtxKey{}); v != nil {
		if lg, ok := v.(*slog.Logger); ok && lg != nil {
			return lg
		}
	}
	return slog.Default()
}

// ContextWithSubscriptionID stores a running subscription's id in ctx so
// downstream handler code and any broker client it calls back into can
// correlate their logs with the subscription's lifetime.
func ContextWithSubscriptionID(ctx context.Context, subscriptionID string) context.Context {
	if ctx == nil || subscriptionID == "" {
		return ctx
	}
	return context.WithValue(ctx, subscriptionCtxKey{}, subscriptionID)
}

// SubscriptionIDFromContext retrieves the subscription id from ctx, or an
// empty string when none is present.
func SubscriptionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(subscriptionCtxKey{}); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
