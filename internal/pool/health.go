package pool

import (
	"fmt"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
)

// Health aggregates key's failure rate and overload state into a single
// verdict. A bucket is "overloaded" when it is empty while its active count
// exceeds OverloadedThreshold of max_pool_size.
func (p *Pool[K]) Health(key K) domain.PoolHealth {
	b := p.bucketFor(key)
	snap := b.metrics.Snapshot()

	level := domain.HealthHealthy
	var issues []string

	if snap.FailureRate > 0.5 {
		level = domain.Worse(level, domain.HealthCritical)
		issues = append(issues, fmt.Sprintf("failure rate %.2f exceeds 0.5", snap.FailureRate))
	} else if snap.FailureRate > 0.1 {
		level = domain.Worse(level, domain.HealthWarning)
		issues = append(issues, fmt.Sprintf("failure rate %.2f exceeds 0.1", snap.FailureRate))
	}

	if len(b.idle) == 0 && float64(snap.Active) > p.cfg.OverloadedThreshold*float64(p.cfg.MaxPoolSize) {
		level = domain.Worse(level, domain.HealthWarning)
		issues = append(issues, "bucket empty while active count exceeds overload threshold")
	}

	if !b.breaker.CanExecute() {
		level = domain.Worse(level, domain.HealthCritical)
		issues = append(issues, "circuit breaker open")
	}

	return domain.PoolHealth{Level: level, Issues: issues}
}

// OverallHealth merges every bucket's health into the worst observed level.
func (p *Pool[K]) OverallHealth() domain.PoolHealth {
	p.mu.RLock()
	keys := make([]K, 0, len(p.buckets))
	for k := range p.buckets {
		keys = append(keys, k)
	}
	p.mu.RUnlock()

	overall := domain.PoolHealth{Level: domain.HealthHealthy}
	for _, k := range keys {
		h := p.Health(k)
		overall.Level = domain.Worse(overall.Level, h.Level)
		overall.Issues = append(overall.Issues, h.Issues...)
	}
	return overall
}
