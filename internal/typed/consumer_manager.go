package typed

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/broker"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/config"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/observability"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/pool"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/registry"
)

type consumerKeyMeta struct {
	descriptor *domain.EntityDescriptor
	options    domain.SubscriptionOptions
}

// ConsumerManager creates typed consumers, registers subscriptions, runs
// their background handler loops, and exposes commit/seek by (type, group).
type ConsumerManager struct {
	clientCfg       config.ClientConfig
	binder          *registry.Binder
	recorderFactory func(topic, entityType string) observability.MetricsRecorder

	pool *pool.Pool[domain.ConsumerKey]

	mu            sync.RWMutex
	metaByKey     map[domain.ConsumerKey]consumerKeyMeta
	subscriptions map[string]*domain.Subscription
	consumers     map[string]func() // id -> close func for the underlying typed consumer
}

// NewConsumerManager constructs a ConsumerManager. recorderFactory may be
// nil, in which case every typed consumer records no metrics; otherwise it
// is called on every consumer creation (each NewConsumerFor call) to bind a
// recorder tagged with that type's topic and entity type.
func NewConsumerManager(cfg config.PoolConfig, clientCfg config.ClientConfig, binder *registry.Binder, recorderFactory func(topic, entityType string) observability.MetricsRecorder) *ConsumerManager {
	m := &ConsumerManager{
		clientCfg:       clientCfg,
		binder:          binder,
		recorderFactory: recorderFactory,
		metaByKey:       make(map[domain.ConsumerKey]consumerKeyMeta),
		subscriptions:   make(map[string]*domain.Subscription),
		consumers:       make(map[string]func()),
	}
	isConsumer := func(domain.ConsumerKey) bool { return true }
	m.pool = pool.New[domain.ConsumerKey](cfg, broker.NewConsumerConstructor(clientCfg, m.descriptorForKey, m.optionsForKey), broker.Probe, isConsumer)
	return m
}

// StartMaintenance launches the underlying pool's maintenance loop.
func (m *ConsumerManager) StartMaintenance(ctx context.Context) {
	m.pool.StartMaintenance(ctx)
}

// StartRebalanceMonitor launches a log-only load-imbalance monitor over this
// manager's consumer groups.
func (m *ConsumerManager) StartRebalanceMonitor(ctx context.Context, interval time.Duration) {
	monitor := pool.NewRebalanceMonitor[domain.ConsumerKey](m.pool, func(key domain.ConsumerKey) string { return key.GroupID })
	monitor.Start(ctx, interval)
}

func (m *ConsumerManager) descriptorForKey(key domain.ConsumerKey) (*domain.EntityDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.metaByKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: no descriptor registered for consumer key %s", domain.ErrConfiguration, key)
	}
	return meta.descriptor, nil
}

func (m *ConsumerManager) optionsForKey(key domain.ConsumerKey) domain.SubscriptionOptions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metaByKey[key].options
}

// NewConsumerFor builds a typed consumer for T bound to opts, registering
// its descriptor with the manager so the pool's construct function can find
// it. Used both by Subscribe's background loop and by callers that want a
// consumer without the subscription bookkeeping (the façade's stream and
// fetch paths).
func NewConsumerFor[T any](ctx context.Context, m *ConsumerManager, opts domain.SubscriptionOptions) (*TypedConsumer[T], domain.ConsumerKey, error) {
	var zero T
	t := reflect.TypeOf(zero)

	d, err := domain.DescriptorFor[T]()
	if err != nil {
		return nil, domain.ConsumerKey{}, err
	}

	key := domain.ConsumerKey{EntityType: t.String(), Topic: d.Topic, GroupID: opts.GroupID}

	m.mu.Lock()
	m.metaByKey[key] = consumerKeyMeta{descriptor: d, options: opts}
	m.mu.Unlock()

	decoders, err := m.binder.GetDecoders(ctx, d)
	if err != nil {
		return nil, domain.ConsumerKey{}, err
	}

	var recorder observability.MetricsRecorder
	if m.recorderFactory != nil {
		recorder = m.recorderFactory(d.Topic, t.String())
	}

	return NewTypedConsumer[T](key, d, opts, m.pool, decoders, &domain.ConsumerTypeStats{}, recorder), key, nil
}

// Subscribe builds a typed consumer for T, assigns a subscription id, and
// starts a background handler loop. Fails with ErrSubscriptionDuplicate if
// a subscription with the same (type, group, options) is already running.
func Subscribe[T any](ctx context.Context, m *ConsumerManager, handler func(context.Context, domain.Envelope[T]) error, opts domain.SubscriptionOptions) (string, error) {
	var zero T
	entityType := reflect.TypeOf(zero).String()
	id := domain.SubscriptionID(entityType, opts.GroupID, opts)

	m.mu.Lock()
	if _, exists := m.subscriptions[id]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: subscription %s", domain.ErrSubscriptionDuplicate, id)
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &domain.Subscription{
		ID: id, EntityType: entityType, GroupID: opts.GroupID,
		Options: opts, StartedAt: time.Now(), State: domain.SubscriptionRegistered,
		Cancel: cancel,
	}
	m.subscriptions[id] = sub
	m.mu.Unlock()

	consumer, _, err := NewConsumerFor[T](ctx, m, opts)
	if err != nil {
		m.mu.Lock()
		delete(m.subscriptions, id)
		m.mu.Unlock()
		cancel()
		return "", err
	}

	m.mu.Lock()
	m.consumers[id] = consumer.Close
	m.mu.Unlock()

	go runSubscriptionLoop(subCtx, m, sub, consumer, handler)

	return id, nil
}

// setSubState and the stats incrementers below all take m.mu, the same lock
// Subscriptions() reads under, since *domain.Subscription is plain data with
// no lock of its own and Subscriptions() copies it by value for its snapshot.
func (m *ConsumerManager) setSubState(sub *domain.Subscription, state domain.SubscriptionState) {
	m.mu.Lock()
	sub.State = state
	m.mu.Unlock()
}

func (m *ConsumerManager) incSubProcessed(sub *domain.Subscription) {
	m.mu.Lock()
	sub.Stats.Processed++
	m.mu.Unlock()
}

func (m *ConsumerManager) incSubFailed(sub *domain.Subscription) {
	m.mu.Lock()
	sub.Stats.Failed++
	m.mu.Unlock()
}

func runSubscriptionLoop[T any](ctx context.Context, m *ConsumerManager, sub *domain.Subscription, consumer *TypedConsumer[T], handler func(context.Context, domain.Envelope[T]) error) {
	defer func() {
		m.mu.Lock()
		sub.State = domain.SubscriptionTerminated
		delete(m.subscriptions, sub.ID)
		delete(m.consumers, sub.ID)
		m.mu.Unlock()
		consumer.Close()
	}()

	m.setSubState(sub, domain.SubscriptionRunning)
	ctx = observability.ContextWithSubscriptionID(ctx, sub.ID)
	logger := observability.LoggerFromContext(ctx).With(slog.String("subscription_id", sub.ID))
	envelopes, errCh := consumer.Consume(ctx)

	for {
		select {
		case <-ctx.Done():
			m.setSubState(sub, domain.SubscriptionDraining)
			return
		case err, ok := <-errCh:
			if ok && err != nil {
				logger.Error("subscription loop terminated by fatal error", slog.Any("error", err))
			}
			m.setSubState(sub, domain.SubscriptionDraining)
			return
		case env, ok := <-envelopes:
			if !ok {
				m.setSubState(sub, domain.SubscriptionDraining)
				return
			}
			if err := handler(ctx, env); err != nil {
				m.incSubFailed(sub)
				logger.Warn("subscription handler failed", slog.Any("error", err))
				if sub.Options.StopOnError {
					m.setSubState(sub, domain.SubscriptionDraining)
					return
				}
				continue
			}
			m.incSubProcessed(sub)
		}
	}
}

// Unsubscribe cancels the subscription matching (entityType, groupID).
func (m *ConsumerManager) Unsubscribe(entityType, groupID string) error {
	m.mu.RLock()
	var target *domain.Subscription
	for _, sub := range m.subscriptions {
		if sub.EntityType == entityType && sub.GroupID == groupID {
			target = sub
			break
		}
	}
	m.mu.RUnlock()

	if target == nil {
		return fmt.Errorf("%w: no subscription for %s/%s", domain.ErrConfiguration, entityType, groupID)
	}
	target.Cancel()
	return nil
}

// Subscriptions returns a snapshot of every active subscription's state.
func (m *ConsumerManager) Subscriptions() []domain.Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		out = append(out, *sub)
	}
	return out
}

// Health reports the underlying pool's aggregated health.
func (m *ConsumerManager) Health() domain.PoolHealth {
	return m.pool.OverallHealth()
}

// DisposeAll cancels every active subscription (waiting for them to drain),
// then disposes the pool. Idempotent.
func (m *ConsumerManager) DisposeAll() {
	m.mu.RLock()
	subs := make([]*domain.Subscription, 0, len(m.subscriptions))
	for _, s := range m.subscriptions {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	for _, s := range subs {
		s.Cancel()
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.RLock()
		remaining := len(m.subscriptions)
		m.mu.RUnlock()
		if remaining == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	m.pool.DisposeAll()
}
