package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DeadlineEstimator tracks a moving deadline for a single external
// collaborator (the schema registry today; any future ObservableClient
// target tomorrow), shrinking it when calls finish well under budget and
// growing it when calls fail or time out.
type DeadlineEstimator struct {
	mu sync.RWMutex

	base  time.Duration
	floor time.Duration
	cap   time.Duration

	shrinkFactor float64
	growFactor   float64
	timeoutGrow  float64

	current time.Duration

	successes int64
	failures  int64
	timeouts  int64
	updatedAt time.Time
}

// NewDeadlineEstimator seeds the estimator at base, never shrinking below
// floor nor growing past cap.
func NewDeadlineEstimator(base, floor, cap time.Duration) *DeadlineEstimator {
	return &DeadlineEstimator{
		base:         base,
		floor:        floor,
		cap:          cap,
		current:      base,
		shrinkFactor: 0.95,
		growFactor:   1.05,
		timeoutGrow:  1.10,
	}
}

// Deadline returns the current estimated deadline.
func (d *DeadlineEstimator) Deadline() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// RecordSuccess narrows the deadline when a call finished comfortably
// inside the current budget.
func (d *DeadlineEstimator) RecordSuccess(took time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.successes++
	if took < d.current/2 {
		if next := time.Duration(float64(d.current) * d.shrinkFactor); next >= d.floor {
			d.current = next
			slog.Info("call deadline narrowed after fast success",
				slog.Duration("deadline", d.current), slog.Duration("call_duration", took))
		}
	}
	d.updatedAt = time.Now()
}

// RecordFailure widens the deadline after a non-timeout failure.
func (d *DeadlineEstimator) RecordFailure(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failures++
	if next := time.Duration(float64(d.current) * d.growFactor); next <= d.cap {
		d.current = next
		slog.Info("call deadline widened after failure",
			slog.Duration("deadline", d.current), slog.String("error", err.Error()))
	}
	d.updatedAt = time.Now()
}

// RecordTimeout widens the deadline more aggressively than RecordFailure
// after the deadline itself was exceeded.
func (d *DeadlineEstimator) RecordTimeout() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.timeouts++
	if next := time.Duration(float64(d.current) * d.timeoutGrow); next <= d.cap {
		d.current = next
		slog.Info("call deadline widened after timeout", slog.Duration("deadline", d.current))
	}
	d.updatedAt = time.Now()
}

// WithDeadline derives a child context bounded by the current estimate.
func (d *DeadlineEstimator) WithDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.Deadline())
}

// GetStats returns a snapshot suitable for a health/diagnostics endpoint.
func (d *DeadlineEstimator) GetStats() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	total := d.successes + d.failures + d.timeouts
	successRate := float64(0)
	if total > 0 {
		successRate = float64(d.successes) / float64(total) * 100
	}

	return map[string]interface{}{
		"deadline":     d.current.String(),
		"floor":        d.floor.String(),
		"cap":          d.cap.String(),
		"successes":    d.successes,
		"failures":     d.failures,
		"timeouts":     d.timeouts,
		"success_rate": fmt.Sprintf("%.2f%%", successRate),
		"updated_at":   d.updatedAt.Format(time.RFC3339),
	}
}

// Reset returns the estimator to its seeded state.
func (d *DeadlineEstimator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.current = d.base
	d.successes = 0
	d.failures = 0
	d.timeouts = 0
	d.updatedAt = time.Now()

	slog.Info("call deadline estimator reset")
}
