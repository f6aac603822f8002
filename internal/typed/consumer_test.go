package typed

import (
	"context"
	"testing"
	"time"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/config"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/pool"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

func newTestConsumer(t *testing.T) *TypedConsumer[testEvent] {
	t.Helper()
	d := testEventDescriptor(t)
	binder := registry.NewBinder(&fakeRegistryCollaborator{})
	decoders, err := binder.GetDecoders(context.Background(), d)
	require.NoError(t, err)

	p := pool.New[domain.ConsumerKey](testConsumerPoolConfig(), func(ctx context.Context, key domain.ConsumerKey) (domain.RawClient, error) {
		return nil, nil
	}, func(domain.RawClient) bool { return true }, nil)

	key := domain.ConsumerKey{EntityType: "testEvent", Topic: "events", GroupID: "g1"}
	opts := domain.DefaultSubscriptionOptions("g1")
	return NewTypedConsumer[testEvent](key, d, opts, p, decoders, &domain.ConsumerTypeStats{}, nil)
}

func testConsumerPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		MinPoolSize: 1, MaxPoolSize: 2, IdleTimeout: time.Minute,
		MaintenanceInterval: time.Minute, OverloadedThreshold: 0.8,
		UnderutilizedThreshold: 0.1, CircuitMaxFailures: 5, CircuitResetTimeout: time.Second,
	}
}

func TestTypedConsumer_Decode_MalformedValueFails(t *testing.T) {
	c := newTestConsumer(t)
	record := &kgo.Record{Topic: "events", Value: []byte("not valid avro")}
	_, err := c.decode(record)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDecodeFailed)
}

func TestClassifyFetchErrors_EmptyFetchesHasNone(t *testing.T) {
	var fetches kgo.Fetches
	fatal, retriable := classifyFetchErrors(fetches)
	assert.Empty(t, fatal)
	assert.Empty(t, retriable)
}

func TestClassifyFetchErrors_RetriableBrokerErrorIsNotFatal(t *testing.T) {
	fetches := kgo.Fetches{
		{
			Topics: []kgo.FetchTopic{
				{
					Topic: "events",
					Partitions: []kgo.FetchPartition{
						{Partition: 0, Err: kerr.LeaderNotAvailable},
					},
				},
			},
		},
	}

	fatal, retriable := classifyFetchErrors(fetches)
	assert.Empty(t, fatal)
	require.Len(t, retriable, 1)
	assert.Equal(t, "events", retriable[0].Topic)
	assert.ErrorIs(t, retriable[0].Err, kerr.LeaderNotAvailable)
}

func TestClassifyFetchErrors_NonRetriableBrokerErrorIsFatal(t *testing.T) {
	fetches := kgo.Fetches{
		{
			Topics: []kgo.FetchTopic{
				{
					Topic: "events",
					Partitions: []kgo.FetchPartition{
						{Partition: 0, Err: kerr.TopicAuthorizationFailed},
					},
				},
			},
		},
	}

	fatal, retriable := classifyFetchErrors(fetches)
	assert.Empty(t, retriable)
	require.Len(t, fatal, 1)
	assert.ErrorIs(t, fatal[0].Err, kerr.TopicAuthorizationFailed)
}

func TestTypedConsumer_Assignment_EmptyBeforeRent(t *testing.T) {
	c := newTestConsumer(t)
	assert.Nil(t, c.Assignment())
}
