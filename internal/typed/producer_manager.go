package typed

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/broker"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/config"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/observability"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/pool"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/registry"
)

type typedProducerEntry struct {
	producer any // *TypedProducer[T], type-erased
	stats    *domain.ProducerTypeStats
}

// ProducerManager caches at most one typed producer per entity type,
// backed by a single Client Pool whose raw clients are rented per
// (entity type, topic, config fingerprint).
type ProducerManager struct {
	clientCfg       config.ClientConfig
	binder          *registry.Binder
	recorderFactory func(topic, entityType string) observability.MetricsRecorder

	pool *pool.Pool[domain.ProducerKey]

	mu        sync.RWMutex
	byType    map[reflect.Type]*typedProducerEntry
	descByKey map[domain.ProducerKey]*domain.EntityDescriptor
	process   *domain.ProcessProducerStats
}

// NewProducerManager constructs a ProducerManager. recorderFactory may be
// nil, in which case every typed producer records no metrics; otherwise it
// is called once per entity type (on cache miss) to bind a recorder tagged
// with that type's topic and entity type.
func NewProducerManager(cfg config.PoolConfig, clientCfg config.ClientConfig, binder *registry.Binder, recorderFactory func(topic, entityType string) observability.MetricsRecorder) *ProducerManager {
	m := &ProducerManager{
		clientCfg:       clientCfg,
		binder:          binder,
		recorderFactory: recorderFactory,
		byType:          make(map[reflect.Type]*typedProducerEntry),
		descByKey:       make(map[domain.ProducerKey]*domain.EntityDescriptor),
		process:         domain.NewProcessProducerStats(),
	}
	m.pool = pool.New[domain.ProducerKey](cfg, broker.NewProducerConstructor(clientCfg, m.descriptorForKey), broker.Probe, nil)
	return m
}

func (m *ProducerManager) descriptorForKey(key domain.ProducerKey) (*domain.EntityDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.descByKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: no descriptor registered for producer key %s", domain.ErrConfiguration, key)
	}
	return d, nil
}

// GetProducer returns the cached typed producer for T, constructing one on
// cache miss. No pool client is rented here; each Send rents and returns one.
func GetProducer[T any](ctx context.Context, m *ProducerManager) (*TypedProducer[T], error) {
	var zero T
	t := reflect.TypeOf(zero)

	m.mu.RLock()
	if entry, ok := m.byType[t]; ok {
		m.mu.RUnlock()
		return entry.producer.(*TypedProducer[T]), nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.byType[t]; ok {
		return entry.producer.(*TypedProducer[T]), nil
	}

	d, err := domain.DescriptorFor[T]()
	if err != nil {
		return nil, err
	}

	key := domain.ProducerKey{
		EntityType:        t.String(),
		Topic:             d.Topic,
		ConfigFingerprint: m.clientCfg.Fingerprint(),
	}
	m.descByKey[key] = d

	encoders, err := m.binder.GetEncoders(ctx, d)
	if err != nil {
		return nil, err
	}

	var recorder observability.MetricsRecorder
	if m.recorderFactory != nil {
		recorder = m.recorderFactory(d.Topic, t.String())
	}

	stats := &domain.ProducerTypeStats{}
	producer := NewTypedProducer[T](key, d, m.pool, encoders, stats, m.process, recorder)
	m.byType[t] = &typedProducerEntry{producer: producer, stats: stats}
	m.process.RecordProducerCreated()
	stats.ProducersCreated++

	return producer, nil
}

// SendBatchOptimized delegates to T's cached typed producer, creating it on
// first use.
func SendBatchOptimized[T any](ctx context.Context, m *ProducerManager, values []T, msgCtx *domain.MessageContext) (domain.BatchDeliveryResult, error) {
	p, err := GetProducer[T](ctx, m)
	if err != nil {
		return domain.BatchDeliveryResult{}, err
	}
	return p.SendBatch(ctx, values, msgCtx)
}

// Stats returns a snapshot of every registered type's producer stats plus
// the process-wide aggregate.
func (m *ProducerManager) Stats() (map[string]domain.ProducerTypeStatsSnapshot, domain.ProcessProducerStats) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.ProducerTypeStatsSnapshot, len(m.byType))
	for t, entry := range m.byType {
		out[t.String()] = entry.stats.Snapshot()
	}
	return out, *m.process
}

// Health reports the underlying pool's aggregated health.
func (m *ProducerManager) Health() domain.PoolHealth {
	return m.pool.OverallHealth()
}

// StartMaintenance launches the underlying pool's maintenance loop.
func (m *ProducerManager) StartMaintenance(ctx context.Context) {
	m.pool.StartMaintenance(ctx)
}

// DisposeAll closes every cached producer's pooled clients and clears the
// cache. Idempotent.
func (m *ProducerManager) DisposeAll() {
	m.pool.DisposeAll()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byType = make(map[reflect.Type]*typedProducerEntry)
}
