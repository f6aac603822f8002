package facade

import (
	"context"
	"testing"
	"time"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/config"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/registry"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/typed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		MinPoolSize: 1, MaxPoolSize: 2, IdleTimeout: time.Minute,
		MaintenanceInterval: time.Minute, OverloadedThreshold: 0.8,
		UnderutilizedThreshold: 0.1, CircuitMaxFailures: 5, CircuitResetTimeout: time.Second,
	}
}

func testClientConfig() config.ClientConfig {
	return config.ClientConfig{Brokers: []string{"localhost:9092"}, ClientID: "test"}
}

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	binder := registry.NewBinder(&fakeRegistryCollaborator{})
	producers := typed.NewProducerManager(testPoolConfig(), testClientConfig(), binder, nil)
	consumers := typed.NewConsumerManager(testPoolConfig(), testClientConfig(), binder, nil)
	return New(producers, consumers, binder)
}

func TestSendBatch_EmptyIsNoOp(t *testing.T) {
	f := newTestFacade(t)
	result, err := SendBatch[testEvent](context.Background(), f, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
}

func TestHealthReport_HealthyWithNoActivity(t *testing.T) {
	f := newTestFacade(t)
	report := f.HealthReport()
	assert.Equal(t, domain.HealthHealthy, report.Level)
	assert.Equal(t, domain.HealthHealthy, report.Producer.Level)
	assert.Equal(t, domain.HealthHealthy, report.Consumer.Level)
	assert.Equal(t, domain.HealthHealthy, report.SchemaCache.Level)
}

func TestDiagnostics_ReportsProcessCounters(t *testing.T) {
	f := newTestFacade(t)
	diag := f.Diagnostics()
	assert.Empty(t, diag.ProducerStats)
	assert.Empty(t, diag.Subscriptions)
	assert.Positive(t, diag.Goroutines)
}

func TestDisposeAll_Idempotent(t *testing.T) {
	f := newTestFacade(t)
	f.DisposeAll()
	f.DisposeAll()
}

func TestFetch_MaxMessagesZeroReturnsEmptyWithoutConsumer(t *testing.T) {
	f := newTestFacade(t)
	// This facade's pool has no reachable broker; if Fetch tried to build a
	// consumer before checking MaxMessages, ConsumeBatch would block on
	// opts.Timeout (1s) waiting on a dial that never succeeds. Finishing
	// well under that confirms the MaxMessages==0 short-circuit fired
	// before any consumer was constructed.
	start := time.Now()
	values, err := Fetch[testEvent](context.Background(), f, domain.FetchOptions{
		ConsumerGroupID: "fetch-zero-test",
		MaxMessages:     0,
		Timeout:         time.Second,
	})
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, []testEvent{}, values)
	assert.Less(t, elapsed, 200*time.Millisecond)
}
