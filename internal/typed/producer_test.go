package typed

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/config"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/pool"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type testEvent struct {
	EventID string
	Amount  float64
}

type fakeRegistryCollaborator struct {
	schemas map[string]string
}

func (f *fakeRegistryCollaborator) Register(ctx context.Context, subject, schemaText string) (int, error) {
	if f.schemas == nil {
		f.schemas = make(map[string]string)
	}
	f.schemas[subject] = schemaText
	return len(f.schemas), nil
}
func (f *fakeRegistryCollaborator) Latest(ctx context.Context, subject string) (int, int, string, error) {
	return 1, 1, f.schemas[subject], nil
}
func (f *fakeRegistryCollaborator) Compatible(ctx context.Context, subject, schemaText string) (bool, error) {
	return true, nil
}

// init registers testEvent's descriptor once for the package, since
// GetProducer and NewConsumerFor look descriptors up by type.
func init() {
	d, err := domain.NewEntityDescriptor(
		reflect.TypeOf(testEvent{}), "events",
		[]string{"EventID"}, []int{0}, nil,
		domain.TopicSettings{Partitions: 1, ReplicationFactor: 1},
	)
	if err != nil {
		panic(err)
	}
	if err := domain.RegisterEntity[testEvent](d); err != nil {
		panic(err)
	}
}

func testEventDescriptor(t *testing.T) *domain.EntityDescriptor {
	t.Helper()
	d, err := domain.NewEntityDescriptor(
		reflect.TypeOf(testEvent{}), "events",
		[]string{"EventID"}, []int{0}, nil,
		domain.TopicSettings{Partitions: 1, ReplicationFactor: 1},
	)
	require.NoError(t, err)
	return d
}

type fakeProducerRawClient struct {
	failNext bool
}

func (f *fakeProducerRawClient) Close() {}

func (f *fakeProducerRawClient) Produce(ctx context.Context, r *kgo.Record, cb func(*kgo.Record, error)) {
	if f.failNext {
		cb(r, errors.New("broker unavailable"))
		return
	}
	r.Topic = "events"
	r.Partition = 0
	r.Offset = 42
	r.Timestamp = time.Now()
	cb(r, nil)
}

func testPoolConfigForTyped() config.PoolConfig {
	return config.PoolConfig{
		MinPoolSize: 1, MaxPoolSize: 2, IdleTimeout: time.Minute,
		MaintenanceInterval: time.Minute, OverloadedThreshold: 0.8,
		UnderutilizedThreshold: 0.1, CircuitMaxFailures: 5, CircuitResetTimeout: time.Second,
	}
}

func newTestProducer(t *testing.T, failNext bool) *TypedProducer[testEvent] {
	t.Helper()
	d := testEventDescriptor(t)
	binder := registry.NewBinder(&fakeRegistryCollaborator{})
	encoders, err := binder.GetEncoders(context.Background(), d)
	require.NoError(t, err)

	p := pool.New[domain.ProducerKey](testPoolConfigForTyped(), func(ctx context.Context, key domain.ProducerKey) (domain.RawClient, error) {
		return &fakeProducerRawClient{failNext: failNext}, nil
	}, func(domain.RawClient) bool { return true }, nil)

	key := domain.ProducerKey{EntityType: "testEvent", Topic: "events", ConfigFingerprint: "fp"}
	return NewTypedProducer[testEvent](key, d, p, encoders, &domain.ProducerTypeStats{}, domain.NewProcessProducerStats(), nil)
}

func TestTypedProducer_Send_Success(t *testing.T) {
	p := newTestProducer(t, false)
	result, err := p.Send(context.Background(), testEvent{EventID: "evt-1", Amount: 9.5}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliverySuccess, result.Status)
	assert.Equal(t, int64(42), result.Offset)
}

func TestTypedProducer_Send_BrokerFailurePropagates(t *testing.T) {
	p := newTestProducer(t, true)
	_, err := p.Send(context.Background(), testEvent{EventID: "evt-2"}, nil)
	require.ErrorIs(t, err, domain.ErrSendFailed)
}

func TestTypedProducer_SendBatch_PartialFailureNeverAborts(t *testing.T) {
	calls := 0
	d := testEventDescriptor(t)
	binder := registry.NewBinder(&fakeRegistryCollaborator{})
	encoders, err := binder.GetEncoders(context.Background(), d)
	require.NoError(t, err)

	cfg := testPoolConfigForTyped()
	cfg.MaxPoolSize = 8
	p := pool.New[domain.ProducerKey](cfg, func(ctx context.Context, key domain.ProducerKey) (domain.RawClient, error) {
		calls++
		return &fakeProducerRawClient{failNext: calls%2 == 0}, nil
	}, func(domain.RawClient) bool { return true }, nil)

	key := domain.ProducerKey{EntityType: "testEvent", Topic: "events", ConfigFingerprint: "fp"}
	producer := NewTypedProducer[testEvent](key, d, p, encoders, &domain.ProducerTypeStats{}, domain.NewProcessProducerStats(), nil)

	values := []testEvent{{EventID: "a"}, {EventID: "b"}, {EventID: "c"}, {EventID: "d"}}
	result, err := producer.SendBatch(context.Background(), values, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total)
	assert.False(t, result.AllSuccessful())
	assert.NotEmpty(t, result.Errors)
	assert.NotEmpty(t, result.Results)
}

func TestTypedProducer_SendBatch_EmptyIsNoOp(t *testing.T) {
	p := newTestProducer(t, false)
	result, err := p.SendBatch(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
}
