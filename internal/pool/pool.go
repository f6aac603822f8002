// Package pool implements the Client Pool (component A): it pools raw
// producer and consumer clients keyed by a configuration fingerprint, owns
// their creation, health checks, idle eviction, and capacity limits.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/config"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/observability"
)

// ConstructFunc builds a new raw client for key. Called by the pool on a
// bucket-empty Rent. Retried internally with bounded exponential backoff
// per cfg.Retry when construction fails.
type ConstructFunc[K comparable] func(ctx context.Context, key K) (domain.RawClient, error)

// ProbeFunc reports whether an already-constructed client's underlying
// handle is still open. Any error probing the handle counts as unhealthy.
type ProbeFunc func(client domain.RawClient) bool

// IsConsumerKeyFunc distinguishes consumer buckets from producer buckets,
// since idle-timeout health and the rebalance-monitor loop only apply to
// consumers.
type IsConsumerKeyFunc[K comparable] func(key K) bool

type bucket[K comparable] struct {
	key     K
	idle    chan *domain.PooledClient
	metrics *domain.PoolMetrics
	breaker *observability.CircuitBreaker
}

// Pool is a generic, key-bucketed client pool. K is typically
// domain.ProducerKey or domain.ConsumerKey.
type Pool[K comparable] struct {
	cfg       config.PoolConfig
	construct ConstructFunc[K]
	probe     ProbeFunc
	isConsumer IsConsumerKeyFunc[K]
	poller    *observability.MaintenanceCadence

	mu      sync.RWMutex
	buckets map[K]*bucket[K]

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Pool. construct and probe are required; isConsumer may
// be nil, in which case every key is treated as a producer key (no
// idle-timeout eviction, no rebalance monitor).
func New[K comparable](cfg config.PoolConfig, construct ConstructFunc[K], probe ProbeFunc, isConsumer IsConsumerKeyFunc[K]) *Pool[K] {
	if isConsumer == nil {
		isConsumer = func(K) bool { return false }
	}
	return &Pool[K]{
		cfg:        cfg,
		construct:  construct,
		probe:      probe,
		isConsumer: isConsumer,
		poller:     observability.NewMaintenanceCadence(cfg.MaintenanceInterval),
		buckets:    make(map[K]*bucket[K]),
		stopCh:     make(chan struct{}),
	}
}

func (p *Pool[K]) bucketFor(key K) *bucket[K] {
	p.mu.RLock()
	b, ok := p.buckets[key]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.buckets[key]; ok {
		return b
	}
	b = &bucket[K]{
		key:     key,
		idle:    make(chan *domain.PooledClient, p.cfg.MaxPoolSize),
		metrics: &domain.PoolMetrics{},
		breaker: observability.NewCircuitBreaker(p.cfg.CircuitMaxFailures, p.cfg.CircuitResetTimeout, 0.5),
	}
	p.buckets[key] = b
	return b
}

// Rent dequeues a pooled client from key's bucket, constructing a new one
// if the bucket is empty. Returns PoolExhausted when the circuit breaker for
// this key is open or resident capacity is reached with no healthy client
// available; ClientInitFailed on any other construction failure.
func (p *Pool[K]) Rent(ctx context.Context, key K) (*domain.ActiveInstance, error) {
	b := p.bucketFor(key)

	if !b.breaker.CanExecute() {
		return nil, fmt.Errorf("%w: circuit open for key %v", domain.ErrPoolExhausted, key)
	}

	for {
		select {
		case pooled := <-b.idle:
			if !p.isHealthy(key, pooled) {
				pooled.Client.Close()
				b.metrics.IncDisposed(1)
				continue
			}
			pooled.LastUsedAt = time.Now()
			pooled.UsageCount++
			b.metrics.IncRented()
			return &domain.ActiveInstance{Pooled: pooled, RentedAt: time.Now(), Active: true}, nil
		default:
			return p.construct_(ctx, key, b)
		}
	}
}

func (p *Pool[K]) construct_(ctx context.Context, key K, b *bucket[K]) (*domain.ActiveInstance, error) {
	if int64(len(b.idle))+b.metrics.Snapshot().Active >= int64(p.cfg.MaxPoolSize) {
		return nil, fmt.Errorf("%w: capacity reached for key %v", domain.ErrPoolExhausted, key)
	}

	client, err := p.constructWithRetry(ctx, key)
	if err != nil {
		b.metrics.IncCreationFailures()
		b.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %v", domain.ErrClientInitFailed, err)
	}
	b.breaker.RecordSuccess()
	b.metrics.IncCreated()

	pooled := &domain.PooledClient{
		Client:     client,
		CreatedAt:  time.Now(),
		LastUsedAt: time.Now(),
		UsageCount: 1,
		Healthy:    true,
	}
	b.metrics.IncRented()
	return &domain.ActiveInstance{Pooled: pooled, RentedAt: time.Now(), Active: true}, nil
}

// constructWithRetry calls p.construct once, then retries on failure with
// bounded exponential backoff if p.cfg.Retry.MaxElapsedTime is set. A zero
// MaxElapsedTime (the default for a PoolConfig that never set Retry) means
// exactly one attempt, same as before this retry path existed.
func (p *Pool[K]) constructWithRetry(ctx context.Context, key K) (domain.RawClient, error) {
	if p.cfg.Retry.MaxElapsedTime <= 0 {
		return p.construct(ctx, key)
	}

	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = p.cfg.Retry.MaxElapsedTime
	retry.InitialInterval = p.cfg.Retry.InitialInterval
	retry.MaxInterval = p.cfg.Retry.MaxInterval
	retry.Multiplier = p.cfg.Retry.Multiplier

	var client domain.RawClient
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		c, err := p.construct(ctx, key)
		if err != nil {
			slog.Warn("pool client construction attempt failed, retrying",
				slog.Any("key", key), slog.Int("attempt", attempt), slog.String("error", err.Error()))
			return err
		}
		client = c
		return nil
	}, backoff.WithContext(retry, ctx))
	return client, err
}

// Return releases a rented instance back to key's bucket. Unhealthy clients
// and overflow beyond max_pool_size are destroyed ("overflow discard"); the
// freshly-returned client is the one discarded on overflow, so older idle
// clients stay warm (LIFO-preserves-warmth).
func (p *Pool[K]) Return(key K, instance *domain.ActiveInstance) {
	b := p.bucketFor(key)
	b.metrics.IncReturned()

	if !p.isHealthy(key, instance.Pooled) {
		instance.Pooled.Client.Close()
		b.metrics.IncDisposed(1)
		return
	}

	if len(b.idle) >= p.cfg.MaxPoolSize {
		instance.Pooled.Client.Close()
		b.metrics.IncDiscarded()
		return
	}

	instance.Pooled.LastUsedAt = time.Now()
	instance.Active = false
	select {
	case b.idle <- instance.Pooled:
	default:
		instance.Pooled.Client.Close()
		b.metrics.IncDiscarded()
	}
}

func (p *Pool[K]) isHealthy(key K, pooled *domain.PooledClient) bool {
	if !pooled.Healthy {
		return false
	}
	if p.probe != nil && !func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		return p.probe(pooled.Client)
	}() {
		return false
	}
	if p.isConsumer(key) && time.Since(pooled.LastUsedAt) > p.cfg.IdleTimeout {
		return false
	}
	return true
}

// Metrics returns a snapshot of key's pool metrics.
func (p *Pool[K]) Metrics(key K) domain.PoolMetricsSnapshot {
	return p.bucketFor(key).metrics.Snapshot()
}

// DisposeAll closes every idle pooled client across every bucket. Active
// (rented) clients are not reachable from here and must be returned or
// disposed by their renter; idempotent.
func (p *Pool[K]) DisposeAll() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, b := range p.buckets {
		for {
			select {
			case pooled := <-b.idle:
				pooled.Client.Close()
				b.metrics.IncDisposed(1)
			default:
				goto next
			}
		}
	next:
	}
}

// StartMaintenance launches the pool's maintenance loop: trim idle/unhealthy
// clients, then shrink underutilized buckets. Cadence is paced by a
// MaintenanceCadence rather than a strictly fixed interval, speeding up
// while passes succeed and backing off once they start failing.
func (p *Pool[K]) StartMaintenance(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			interval := p.poller.NextInterval()
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-time.After(interval):
				if err := p.runMaintenancePass(); err != nil {
					slog.Error("pool maintenance pass failed", slog.String("error", err.Error()))
					p.poller.RecordFailure()
					continue
				}
				p.poller.RecordSuccess()
			}
		}
	}()
}

func (p *Pool[K]) runMaintenancePass() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("maintenance pass panic: %v", r)
		}
	}()

	p.mu.RLock()
	buckets := make([]*bucket[K], 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.RUnlock()

	for _, b := range buckets {
		p.trim(b)
		p.optimize(b)
	}
	return nil
}

// trim drops idle-timeout-exceeded or unhealthy clients in a single pass
// over the bucket, re-enqueuing survivors in original order.
func (p *Pool[K]) trim(b *bucket[K]) {
	n := len(b.idle)
	for i := 0; i < n; i++ {
		select {
		case pooled := <-b.idle:
			if p.isHealthy(b.key, pooled) {
				b.idle <- pooled
			} else {
				pooled.Client.Close()
				b.metrics.IncDisposed(1)
			}
		default:
			return
		}
	}
}

// optimize shrinks a bucket whose rolling utilization is below
// UnderutilizedThreshold toward max(min_pool_size, size/2).
func (p *Pool[K]) optimize(b *bucket[K]) {
	snap := b.metrics.Snapshot()
	size := len(b.idle) + int(snap.Active)
	if size == 0 {
		return
	}
	utilization := float64(snap.Active) / float64(size)
	if utilization >= p.cfg.UnderutilizedThreshold {
		return
	}
	target := size / 2
	if target < p.cfg.MinPoolSize {
		target = p.cfg.MinPoolSize
	}
	for len(b.idle) > target {
		select {
		case pooled := <-b.idle:
			pooled.Client.Close()
			b.metrics.IncDisposed(1)
		default:
			return
		}
	}
}
