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

// NewProducerConstructor returns a pool.ConstructFunc that builds a raw
// producer client for a domain.ProducerKey, idempotent and with
// OpenTelemetry hooks, ensuring the entity's topic exists on first use.
func NewProducerConstructor(cfg config.ClientConfig, descriptorFor func(key domain.ProducerKey) (*domain.EntityDescriptor, error)) func(ctx context.Context, key domain.ProducerKey) (domain.RawClient, error) {
	return func(ctx context.Context, key domain.ProducerKey) (domain.RawClient, error) {
		d, err := descriptorFor(key)
		if err != nil {
			return nil, err
		}

		tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
		hooks := kotel.NewKotel(kotel.WithTracer(tracer))

		opts := []kgo.Opt{
			kgo.SeedBrokers(cfg.Brokers...),
			kgo.ClientID(cfg.ClientID),
			kgo.RequestRetries(cfg.RequestRetries),
			kgo.ProducerBatchMaxBytes(int32(cfg.ProducerBatchBytes)),
			kgo.DialTimeout(cfg.DialTimeout),
			kgo.WithHooks(hooks.Hooks()...),
			// Idempotent production is kgo's default; a transactional id is only
			// set when the caller configured one, since transactions serialize
			// all producers sharing that id onto a single in-flight transaction.
			kgo.DefaultProduceTopic(key.Topic),
			// MessageContext.TargetPartition (buildRecord) sets Record.Partition
			// explicitly; targetPartitioner honors that and falls back to the
			// default sticky key partitioner for records that leave it unset.
			kgo.RecordPartitioner(newTargetPartitioner()),
		}
		if cfg.TransactionalID != "" {
			opts = append(opts, kgo.TransactionalID(cfg.TransactionalID))
		}

		client, err := kgo.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("new producer client: %w", err)
		}

		if err := EnsureTopic(ctx, client, key.Topic, d.TopicSettings); err != nil {
			client.Close()
			return nil, fmt.Errorf("ensure topic %s: %w", key.Topic, err)
		}

		return &Client{Client: client}, nil
	}
}
