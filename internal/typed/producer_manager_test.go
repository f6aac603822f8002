package typed

import (
	"context"
	"testing"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/config"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClientConfig() config.ClientConfig {
	return config.ClientConfig{Brokers: []string{"localhost:9092"}, ClientID: "test"}
}

func newTestProducerManager(t *testing.T) *ProducerManager {
	t.Helper()
	binder := registry.NewBinder(&fakeRegistryCollaborator{})
	return NewProducerManager(testPoolConfigForTyped(), testClientConfig(), binder, nil)
}

func TestGetProducer_CachesByType(t *testing.T) {
	m := newTestProducerManager(t)
	defer m.DisposeAll()

	p1, err := GetProducer[testEvent](context.Background(), m)
	require.NoError(t, err)
	p2, err := GetProducer[testEvent](context.Background(), m)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestProducerManager_Stats_ReflectsCreatedProducers(t *testing.T) {
	m := newTestProducerManager(t)
	defer m.DisposeAll()

	_, err := GetProducer[testEvent](context.Background(), m)
	require.NoError(t, err)

	byType, process := m.Stats()
	assert.Len(t, byType, 1)
	assert.Equal(t, int64(1), process.TotalProducersCreated)
}

func TestProducerManager_DisposeAll_ClearsCache(t *testing.T) {
	m := newTestProducerManager(t)
	_, err := GetProducer[testEvent](context.Background(), m)
	require.NoError(t, err)

	m.DisposeAll()
	byType, _ := m.Stats()
	assert.Empty(t, byType)
}

func TestProducerManager_DescriptorForKey_UnknownKeyErrors(t *testing.T) {
	m := newTestProducerManager(t)
	defer m.DisposeAll()

	_, err := m.descriptorForKey(domain.ProducerKey{EntityType: "nope"})
	require.ErrorIs(t, err, domain.ErrConfiguration)
}
