package pool

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// GroupIDFunc extracts a consumer group id from a pool key, for keys that
// carry one (domain.ConsumerKey). Pool keys without a group concept should
// not use the rebalance monitor.
type GroupIDFunc[K comparable] func(key K) string

// RebalanceMonitor observes per-group load imbalance (usage-count spread
// within a group) across a consumer pool's buckets and records suggestions.
// Per the open question on whether an "overloaded consumer" suggestion
// should act (restart/reassign), this monitor only logs and leaves action
// to an operator; partition ownership itself remains the broker group
// coordinator's responsibility.
type RebalanceMonitor[K comparable] struct {
	pool    *Pool[K]
	groupID GroupIDFunc[K]
}

// NewRebalanceMonitor constructs a monitor over pool's consumer buckets.
func NewRebalanceMonitor[K comparable](pool *Pool[K], groupID GroupIDFunc[K]) *RebalanceMonitor[K] {
	return &RebalanceMonitor[K]{pool: pool, groupID: groupID}
}

// Start runs the monitor loop until ctx is cancelled.
func (m *RebalanceMonitor[K]) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.scan()
			}
		}
	}()
}

func (m *RebalanceMonitor[K]) scan() {
	m.pool.mu.RLock()
	byGroup := make(map[string][]int64)
	for key, b := range m.pool.buckets {
		if !m.pool.isConsumer(key) {
			continue
		}
		group := m.groupID(key)
		snap := b.metrics.Snapshot()
		byGroup[group] = append(byGroup[group], snap.Rented)
	}
	m.pool.mu.RUnlock()

	for group, usages := range byGroup {
		if len(usages) < 2 {
			continue
		}
		spread := usageSpread(usages)
		if spread > 0.5 {
			slog.Warn("rebalance monitor: load imbalance detected",
				slog.String("group_id", group),
				slog.Float64("usage_spread", spread))
		}
	}
}

// usageSpread is (max-min)/max across a group's per-member usage counts, in
// [0,1]; 0 means perfectly balanced.
func usageSpread(usages []int64) float64 {
	minV, maxV := usages[0], usages[0]
	for _, u := range usages[1:] {
		minV = int64(math.Min(float64(minV), float64(u)))
		maxV = int64(math.Max(float64(maxV), float64(u)))
	}
	if maxV == 0 {
		return 0
	}
	return float64(maxV-minV) / float64(maxV)
}
