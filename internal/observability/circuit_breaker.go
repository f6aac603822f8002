// Package observability provides the runtime wrappers (circuit breaker,
// adaptive timeout, adaptive poller, observable client) shared by the
// client pool, schema binder, and typed producer/consumer layers whenever
// they talk to a broker bucket or the schema registry.
package observability

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the lifecycle state of a CircuitBreaker guarding one
// pooled broker connection or registry endpoint.
type BreakerState int

const (
	// BreakerClosed allows rents/calls through normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects rents/calls until the reset timeout elapses.
	BreakerOpen
	// BreakerHalfOpen allows a trial batch through to probe recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after maxFailures consecutive failures on a single
// key (a pool bucket's construct calls, or the schema binder's registry
// calls), rejecting further attempts for resetTimeout before admitting a
// half-open trial batch.
type CircuitBreaker struct {
	mu sync.RWMutex

	maxFailures    int
	resetTimeout   time.Duration
	closeThreshold float64

	state        BreakerState
	failures     int
	trialSuccess int
	openedAt     time.Time

	attempts      int64
	failuresTotal int64
	successTotal  int64
	trips         int64
}

// NewCircuitBreaker constructs a CircuitBreaker. closeThreshold is the
// fraction of a half-open trial batch that must succeed before the breaker
// closes again.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, closeThreshold float64) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:    maxFailures,
		resetTimeout:   resetTimeout,
		closeThreshold: closeThreshold,
		state:          BreakerClosed,
	}
}

// CanExecute reports whether a rent/call against the guarded key should be
// attempted right now, flipping an expired open breaker to half-open as a
// side effect.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.RLock()
	state := cb.state
	openedAt := cb.openedAt
	cb.mu.RUnlock()

	switch state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(openedAt) < cb.resetTimeout {
			return false
		}
		cb.mu.Lock()
		defer cb.mu.Unlock()
		if cb.state != BreakerOpen {
			// another goroutine already flipped it while we waited for the lock
			return true
		}
		cb.state = BreakerHalfOpen
		cb.failures = 0
		cb.trialSuccess = 0
		cb.trips++
		slog.Info("circuit breaker entering half-open trial",
			slog.Duration("reset_timeout", cb.resetTimeout))
		return true
	default:
		return false
	}
}

// RecordSuccess marks one successful attempt, closing a half-open breaker
// once enough of the trial batch has succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.attempts++
	cb.successTotal++

	if cb.state != BreakerHalfOpen {
		cb.failures = 0
		return
	}
	cb.trialSuccess++
	if cb.trialSuccess >= int(float64(cb.trialSuccess+cb.failures)*cb.closeThreshold) {
		cb.state = BreakerClosed
		cb.failures = 0
		cb.trialSuccess = 0
		slog.Info("circuit breaker closed after recovering trial batch",
			slog.Int("trial_successes", cb.trialSuccess),
			slog.Float64("close_threshold", cb.closeThreshold))
	}
}

// RecordFailure marks one failed attempt, tripping the breaker open when
// maxFailures is reached from closed, or immediately from half-open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.attempts++
	cb.failuresTotal++
	cb.failures++
	cb.openedAt = time.Now()

	switch cb.state {
	case BreakerClosed:
		if cb.failures >= cb.maxFailures {
			cb.state = BreakerOpen
			cb.trips++
			slog.Warn("circuit breaker tripped open",
				slog.Int("failures", cb.failures),
				slog.Int("max_failures", cb.maxFailures))
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.trips++
		slog.Warn("circuit breaker re-opened during half-open trial",
			slog.Int("failures", cb.failures))
	}
}

// State returns the breaker's current lifecycle state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns a snapshot suitable for a health/diagnostics endpoint.
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	successRate := float64(0)
	if cb.attempts > 0 {
		successRate = float64(cb.successTotal) / float64(cb.attempts) * 100
	}

	return map[string]interface{}{
		"state":           cb.state.String(),
		"max_failures":    cb.maxFailures,
		"reset_timeout":   cb.resetTimeout.String(),
		"close_threshold": cb.closeThreshold,
		"failures":        cb.failures,
		"trial_successes": cb.trialSuccess,
		"attempts":        cb.attempts,
		"failures_total":  cb.failuresTotal,
		"success_total":   cb.successTotal,
		"success_rate":    successRate,
		"trips":           cb.trips,
		"opened_at":       cb.openedAt.Format(time.RFC3339),
	}
}

// Reset clears the breaker back to closed with zeroed counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = BreakerClosed
	cb.failures = 0
	cb.trialSuccess = 0
	cb.attempts = 0
	cb.failuresTotal = 0
	cb.successTotal = 0
	cb.trips = 0
	cb.openedAt = time.Time{}

	slog.Info("circuit breaker reset to closed")
}
