package observability

import (
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"
)

// MaintenanceCadence paces a Pool's maintenance loop: it speeds up toward
// minInterval while trim/optimize passes keep succeeding, and backs off
// toward maxInterval (with jitter, to avoid every bucket's maintenance
// goroutine waking in lockstep) once passes start failing.
type MaintenanceCadence struct {
	mu sync.RWMutex

	baseInterval  time.Duration
	maxInterval   time.Duration
	minInterval   time.Duration
	backoffFactor float64

	passesOK        int
	passesFailed    int
	streakOK        int
	streakFailed    int
	lastPassAt      time.Time
	lastSuccessAt   time.Time
	lastFailureAt   time.Time
	degraded        bool
}

// NewMaintenanceCadence seeds a cadence around baseInterval. Backoff is
// capped at 10s and speedup is floored at 500ms; the speedup path is not
// capped, so a baseInterval above 10s yields intervals above 10s while
// passes succeed.
func NewMaintenanceCadence(baseInterval time.Duration) *MaintenanceCadence {
	return &MaintenanceCadence{
		baseInterval:  baseInterval,
		maxInterval:   10 * time.Second,
		minInterval:   500 * time.Millisecond,
		backoffFactor: 1.2,
	}
}

// NextInterval returns how long to wait before the next maintenance pass.
func (c *MaintenanceCadence) NextInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streakFailed >= 10 {
		c.degraded = true
		slog.Warn("maintenance cadence holding at max interval after repeated pass failures",
			slog.Int("consecutive_failures", c.streakFailed),
			slog.Duration("interval", c.maxInterval))
		return c.maxInterval
	}

	if c.passesFailed > c.passesOK {
		backoffMultiplier := math.Pow(c.backoffFactor, float64(c.streakFailed))
		interval := float64(c.baseInterval) * backoffMultiplier

		jitter := interval * 0.1 * (0.5 - rand.Float64())
		interval += jitter

		if interval > float64(c.maxInterval) {
			interval = float64(c.maxInterval)
		}
		slog.Debug("maintenance cadence backing off",
			slog.Duration("interval", time.Duration(interval)),
			slog.Int("consecutive_failures", c.streakFailed))
		return time.Duration(interval)
	}

	speedup := math.Max(0.5, 1.0/float64(c.streakOK+1))
	interval := float64(c.baseInterval) * speedup
	if interval < float64(c.minInterval) {
		interval = float64(c.minInterval)
	}

	c.degraded = false
	slog.Debug("maintenance cadence speeding up",
		slog.Duration("interval", time.Duration(interval)),
		slog.Int("consecutive_successes", c.streakOK))
	return time.Duration(interval)
}

// RecordSuccess marks one maintenance pass as having completed cleanly.
func (c *MaintenanceCadence) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.passesOK++
	c.streakOK++
	c.streakFailed = 0
	c.lastSuccessAt = time.Now()
	c.lastPassAt = time.Now()
	c.degraded = false
}

// RecordFailure marks one maintenance pass as having errored.
func (c *MaintenanceCadence) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.passesFailed++
	c.streakFailed++
	c.streakOK = 0
	c.lastFailureAt = time.Now()
	c.lastPassAt = time.Now()
	c.degraded = true
}

// Degraded reports whether the cadence currently considers maintenance
// unhealthy: set by any failed pass, cleared by a successful pass, by Reset,
// or when NextInterval takes the speedup path.
func (c *MaintenanceCadence) Degraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

// GetStats returns a snapshot suitable for a health/diagnostics endpoint.
func (c *MaintenanceCadence) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.passesOK + c.passesFailed
	successRate := 0.0
	if total > 0 {
		successRate = float64(c.passesOK) / float64(total)
	}

	return map[string]interface{}{
		"base_interval":        c.baseInterval,
		"max_interval":         c.maxInterval,
		"min_interval":         c.minInterval,
		"passes_ok":            c.passesOK,
		"passes_failed":        c.passesFailed,
		"consecutive_ok":       c.streakOK,
		"consecutive_failures": c.streakFailed,
		"total_passes":         total,
		"success_rate":         successRate,
		"degraded":             c.degraded,
		"last_pass_at":         c.lastPassAt,
		"last_success_at":      c.lastSuccessAt,
		"last_failure_at":      c.lastFailureAt,
	}
}

// Reset clears the cadence's pass history back to a healthy starting point.
func (c *MaintenanceCadence) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.passesOK = 0
	c.passesFailed = 0
	c.streakOK = 0
	c.streakFailed = 0
	c.degraded = false

	slog.Info("maintenance cadence reset")
}
