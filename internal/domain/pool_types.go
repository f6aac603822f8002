package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

// RawClient is the minimal surface the pool needs from a broker client to
// manage its lifecycle, regardless of whether it wraps a producer or a
// consumer.
type RawClient interface {
	Close()
}

// PooledClient is a raw client plus the bookkeeping the pool needs: when it
// was created and last used, how many times it has been rented, whether it
// is currently considered healthy, and (consumers only) its current
// partition assignment.
type PooledClient struct {
	Client      RawClient
	CreatedAt   time.Time
	LastUsedAt  time.Time
	UsageCount  int64
	Healthy     bool
	Assignment  []TopicPartition
}

// TopicPartition identifies a single partition of a topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// ActiveInstance is a rented pooled client plus the rental bookkeeping the
// caller needs to return it.
type ActiveInstance struct {
	Pooled   *PooledClient
	RentedAt time.Time
	Active   bool
}

// PoolMetrics accumulates per-key pool counters. All mutation goes through
// the exported methods, which hold the lock; readers take a snapshot via
// Snapshot.
type PoolMetrics struct {
	mu              sync.Mutex
	Created         int64
	CreationFailures int64
	Rented          int64
	Returned        int64
	Discarded       int64
	Disposed        int64
	Active          int64
}

// PoolMetricsSnapshot is an immutable copy of PoolMetrics safe to read
// without holding the lock.
type PoolMetricsSnapshot struct {
	Created          int64
	CreationFailures int64
	Rented           int64
	Returned         int64
	Discarded        int64
	Disposed         int64
	Active           int64
	FailureRate      float64
}

func (m *PoolMetrics) IncCreated() {
	atomic.AddInt64(&m.Created, 1)
}

func (m *PoolMetrics) IncCreationFailures() {
	atomic.AddInt64(&m.CreationFailures, 1)
}

func (m *PoolMetrics) IncRented() {
	atomic.AddInt64(&m.Rented, 1)
	atomic.AddInt64(&m.Active, 1)
}

func (m *PoolMetrics) IncReturned() {
	atomic.AddInt64(&m.Returned, 1)
	atomic.AddInt64(&m.Active, -1)
}

func (m *PoolMetrics) IncDiscarded() {
	atomic.AddInt64(&m.Discarded, 1)
	atomic.AddInt64(&m.Active, -1)
}

func (m *PoolMetrics) IncDisposed(n int64) {
	atomic.AddInt64(&m.Disposed, n)
}

// Snapshot returns a point-in-time copy of the counters, with the derived
// failure-rate field computed.
func (m *PoolMetrics) Snapshot() PoolMetricsSnapshot {
	created := atomic.LoadInt64(&m.Created)
	failures := atomic.LoadInt64(&m.CreationFailures)
	rate := 0.0
	if created > 0 {
		rate = float64(failures) / float64(created)
	} else if failures > 0 {
		// every construction attempt so far has failed
		rate = 1
	}
	return PoolMetricsSnapshot{
		Created:          created,
		CreationFailures: failures,
		Rented:           atomic.LoadInt64(&m.Rented),
		Returned:         atomic.LoadInt64(&m.Returned),
		Discarded:        atomic.LoadInt64(&m.Discarded),
		Disposed:         atomic.LoadInt64(&m.Disposed),
		Active:           atomic.LoadInt64(&m.Active),
		FailureRate:      rate,
	}
}

// HealthLevel is the aggregated health verdict for the pool or the façade.
type HealthLevel string

const (
	HealthHealthy  HealthLevel = "healthy"
	HealthWarning  HealthLevel = "warning"
	HealthCritical HealthLevel = "critical"
)

// PoolHealth is the result of Pool.Health(): an overall level plus the
// specific issues that produced it.
type PoolHealth struct {
	Level  HealthLevel
	Issues []string
}

// Worse returns the more severe of two health levels.
func Worse(a, b HealthLevel) HealthLevel {
	rank := map[HealthLevel]int{HealthHealthy: 0, HealthWarning: 1, HealthCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
