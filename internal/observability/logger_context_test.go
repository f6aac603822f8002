package observability

import (
	"context"
	"log/slog"
	"testing"
)

func TestContextWithLoggerAndLoggerFromContext(t *testing.T) {
	lg := slog.Default()

	baseCtx := context.Background()

	// Attaching a logger should return a derived context
	ctxWithLogger := ContextWithLogger(baseCtx, lg)
	if ctxWithLogger == baseCtx {
		t.Fatal("expected a derived context when attaching a logger")
	}

	// Logger should round-trip through context
	if got := LoggerFromContext(ctxWithLogger); got != lg {
		t.Fatalf("LoggerFromContext did not return original logger, got %v", got)
	}

	// When logger is nil, original context should be returned unchanged
	if got := ContextWithLogger(baseCtx, nil); got != baseCtx {
		t.Fatal("expected original context when logger is nil")
	}

	// Default logger should be returned when context has no logger
	if got := LoggerFromContext(context.Background()); got == nil {
		t.Fatal("expected default logger for empty context")
	}
}

func TestContextWithSubscriptionIDAndSubscriptionIDFromContext(t *testing.T) {
	ctx := context.Background()
	subID := "orders/consumer-group-1"
	ctxWithID := ContextWithSubscriptionID(ctx, subID)

	if ctxWithID == ctx {
		t.Fatal("expected a derived context when setting subscription id")
	}

	if got := SubscriptionIDFromContext(ctxWithID); got != subID {
		t.Fatalf("SubscriptionIDFromContext() = %q, want %q", got, subID)
	}

	// Missing subscription id should return empty string
	if got := SubscriptionIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty string when no subscription id present, got %q", got)
	}

	// Empty subscription id should not be stored
	if got := ContextWithSubscriptionID(ctx, ""); got != ctx {
		t.Fatal("expected original context when subscription id is empty")
	}
}
