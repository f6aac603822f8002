package broker

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/config"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
)

// NewConsumerConstructor returns a pool.ConstructFunc that builds a raw
// consumer-group client for a domain.ConsumerKey, ensuring the entity's
// topic exists on first use. optionsFor supplies the SubscriptionOptions
// that shaped this key, since the pool's ConstructFunc signature only
// carries the key.
func NewConsumerConstructor(
	cfg config.ClientConfig,
	descriptorFor func(key domain.ConsumerKey) (*domain.EntityDescriptor, error),
	optionsFor func(key domain.ConsumerKey) domain.SubscriptionOptions,
) func(ctx context.Context, key domain.ConsumerKey) (domain.RawClient, error) {
	return func(ctx context.Context, key domain.ConsumerKey) (domain.RawClient, error) {
		d, err := descriptorFor(key)
		if err != nil {
			return nil, err
		}
		opts := optionsFor(key)

		tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
		hooks := kotel.NewKotel(kotel.WithTracer(tracer))

		resetOffset := kgo.NewOffset().AtEnd()
		if opts.AutoOffsetReset == domain.OffsetEarliest {
			resetOffset = kgo.NewOffset().AtStart()
		}

		kgoOpts := []kgo.Opt{
			kgo.SeedBrokers(cfg.Brokers...),
			kgo.ClientID(cfg.ClientID),
			kgo.ConsumerGroup(key.GroupID),
			kgo.ConsumeTopics(key.Topic),
			kgo.ConsumeResetOffset(resetOffset),
			kgo.SessionTimeout(opts.SessionTimeout),
			kgo.HeartbeatInterval(opts.HeartbeatInterval),
			kgo.RebalanceTimeout(opts.MaxPollInterval),
			kgo.DialTimeout(cfg.DialTimeout),
			kgo.WithHooks(hooks.Hooks()...),
		}
		if !opts.AutoCommit {
			kgoOpts = append(kgoOpts, kgo.DisableAutoCommit())
		}
		if opts.MaxPollRecords > 0 {
			kgoOpts = append(kgoOpts, kgo.FetchMaxPartitionBytes(int32(opts.MaxPollRecords*4096)))
		}

		client, err := kgo.NewClient(kgoOpts...)
		if err != nil {
			return nil, fmt.Errorf("new consumer client: %w", err)
		}

		if err := EnsureTopic(ctx, client, key.Topic, d.TopicSettings); err != nil {
			client.Close()
			return nil, fmt.Errorf("ensure topic %s: %w", key.Topic, err)
		}

		return &Client{Client: client}, nil
	}
}
