package typed

import (
	"context"
	"testing"
	"time"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsumerManager(t *testing.T) *ConsumerManager {
	t.Helper()
	binder := registry.NewBinder(&fakeRegistryCollaborator{})
	return NewConsumerManager(testConsumerPoolConfig(), testClientConfig(), binder, nil)
}

func noopHandler(ctx context.Context, env domain.Envelope[testEvent]) error { return nil }

func TestSubscribe_RejectsDuplicateSubscription(t *testing.T) {
	m := newTestConsumerManager(t)
	opts := domain.DefaultSubscriptionOptions("group-a")

	id1, err := Subscribe[testEvent](context.Background(), m, noopHandler, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	_, err = Subscribe[testEvent](context.Background(), m, noopHandler, opts)
	require.ErrorIs(t, err, domain.ErrSubscriptionDuplicate)

	require.NoError(t, m.Unsubscribe("typed.testEvent", "group-a"))
}

func TestUnsubscribe_UnknownSubscriptionErrors(t *testing.T) {
	m := newTestConsumerManager(t)
	err := m.Unsubscribe("testEvent", "nonexistent-group")
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestSubscribe_TracksSubscriptionUntilCancelled(t *testing.T) {
	m := newTestConsumerManager(t)
	opts := domain.DefaultSubscriptionOptions("group-b")

	id, err := Subscribe[testEvent](context.Background(), m, noopHandler, opts)
	require.NoError(t, err)

	subs := m.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, id, subs[0].ID)
	assert.Equal(t, "typed.testEvent", subs[0].EntityType)

	require.NoError(t, m.Unsubscribe("typed.testEvent", "group-b"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.Subscriptions()) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Empty(t, m.Subscriptions())
}
