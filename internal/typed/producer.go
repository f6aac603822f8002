// Package typed implements the Typed Producer and Typed Consumer
// (components C and D): per-entity-type encode/publish and
// subscribe/poll/decode built on a rented pool.Pool client and a
// registry.Binder encoder/decoder pair.
package typed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/observability"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/pool"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/registry"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TypedProducer encodes and publishes values of type T. A zero-value
// MessageContext is treated as no headers, no target partition, no timeout.
type TypedProducer[T any] struct {
	key        domain.ProducerKey
	descriptor *domain.EntityDescriptor
	pool       *pool.Pool[domain.ProducerKey]
	encoders   registry.EncoderPair
	stats      *domain.ProducerTypeStats
	process    *domain.ProcessProducerStats
	recorder   observability.MetricsRecorder
}

// NewTypedProducer constructs a producer for T bound to key. stats and
// process are owned by the Producer Manager and shared across calls.
func NewTypedProducer[T any](
	key domain.ProducerKey,
	descriptor *domain.EntityDescriptor,
	p *pool.Pool[domain.ProducerKey],
	encoders registry.EncoderPair,
	stats *domain.ProducerTypeStats,
	process *domain.ProcessProducerStats,
	recorder observability.MetricsRecorder,
) *TypedProducer[T] {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &TypedProducer[T]{
		key: key, descriptor: descriptor, pool: p,
		encoders: encoders, stats: stats, process: process, recorder: recorder,
	}
}

type noopRecorder struct{}

func (noopRecorder) RecordOperation(observability.ConnectionType, string, bool, time.Duration) {}

// Send encodes value, publishes it, and returns the delivery outcome. msgCtx
// may be nil.
func (p *TypedProducer[T]) Send(ctx context.Context, value T, msgCtx *domain.MessageContext) (domain.DeliveryResult, error) {
	start := time.Now()

	record, err := p.buildRecord(value, msgCtx)
	if err != nil {
		return domain.DeliveryResult{}, err
	}

	instance, err := p.pool.Rent(ctx, p.key)
	if err != nil {
		return domain.DeliveryResult{}, err
	}
	defer p.pool.Return(p.key, instance)

	client := instance.Pooled.Client.(interface {
		Produce(context.Context, *kgo.Record, func(*kgo.Record, error))
	})

	var produceErr error
	var result *kgo.Record
	var wg sync.WaitGroup
	wg.Add(1)
	client.Produce(ctx, record, func(r *kgo.Record, err error) {
		defer wg.Done()
		result = r
		produceErr = err
	})
	wg.Wait()

	latency := time.Since(start)
	p.stats.RecordSend(produceErr == nil, latency)
	if p.process != nil {
		p.process.RecordSend(latency)
	}
	p.recorder.RecordOperation(observability.ConnectionTypeProducer, "send", produceErr == nil, latency)

	if produceErr != nil {
		return domain.DeliveryResult{Status: domain.DeliveryFailed, Error: produceErr, Latency: latency},
			fmt.Errorf("%w: %v", domain.ErrSendFailed, produceErr)
	}

	return domain.DeliveryResult{
		Topic:     result.Topic,
		Partition: result.Partition,
		Offset:    result.Offset,
		Timestamp: result.Timestamp,
		Status:    domain.DeliverySuccess,
		Latency:   latency,
	}, nil
}

// SendBatch publishes every value concurrently and waits for every delivery
// report, never aborting early on a partial failure.
func (p *TypedProducer[T]) SendBatch(ctx context.Context, values []T, msgCtx *domain.MessageContext) (domain.BatchDeliveryResult, error) {
	out := domain.BatchDeliveryResult{Total: len(values)}
	if len(values) == 0 {
		return out, nil
	}

	results := make([]domain.DeliveryResult, len(values))
	errs := make([]error, len(values))

	var wg sync.WaitGroup
	for i, v := range values {
		wg.Add(1)
		go func(i int, v T) {
			defer wg.Done()
			res, err := p.Send(ctx, v, msgCtx)
			results[i] = res
			errs[i] = err
		}(i, v)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			out.FailedCount++
			out.Errors = append(out.Errors, domain.IndexedError{Index: i, Value: values[i], Error: err})
			continue
		}
		out.SuccessfulCount++
		out.Results = append(out.Results, results[i])
	}

	if p.process != nil {
		p.process.RecordBatch()
	}
	p.stats.RecordBatch(out.AllSuccessful())
	p.recorder.RecordOperation(observability.ConnectionTypeProducer, "send_batch", out.AllSuccessful(), 0)

	return out, nil
}

func (p *TypedProducer[T]) buildRecord(value T, msgCtx *domain.MessageContext) (*kgo.Record, error) {
	keyVal, err := p.descriptor.KeyProjection(value)
	if err != nil {
		return nil, err
	}

	var keyBytes []byte
	if p.encoders.Key != nil && keyVal != nil {
		keyBytes, err = p.encoders.Key.Encode(keyVal)
		if err != nil {
			return nil, fmt.Errorf("%w: encode key: %v", domain.ErrEncodeFailed, err)
		}
	}

	valueBytes, err := p.encoders.Value.Encode(value)
	if err != nil {
		return nil, fmt.Errorf("%w: encode value: %v", domain.ErrEncodeFailed, err)
	}

	record := &kgo.Record{
		Topic: p.descriptor.Topic,
		Key:   keyBytes,
		Value: valueBytes,
		// -1 means "no explicit target"; broker.targetPartitioner falls back
		// to the default key-hash partitioner when it sees this sentinel.
		Partition: -1,
	}

	if msgCtx != nil {
		for k, v := range msgCtx.Headers {
			record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
		if msgCtx.TargetPartition != nil {
			record.Partition = *msgCtx.TargetPartition
		}
	}

	return record, nil
}
