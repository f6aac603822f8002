package typed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/observability"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/pool"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/registry"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// rawConsumerClient is the subset of *broker.Client (via its embedded
// *kgo.Client) the typed consumer needs. Expressed structurally so this
// package does not import internal/broker.
type rawConsumerClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitUncommittedOffsets(ctx context.Context) error
	SetOffsets(map[string]map[int32]kgo.EpochOffset)
}

// TypedConsumer subscribes, polls, decodes, and exposes records of type T as
// a lazy sequence or a bounded batch. One TypedConsumer rents exactly one
// pooled client for its lifetime; that client's partition assignment is the
// consumer's assignment.
type TypedConsumer[T any] struct {
	key        domain.ConsumerKey
	descriptor *domain.EntityDescriptor
	opts       domain.SubscriptionOptions
	pool       *pool.Pool[domain.ConsumerKey]
	decoders   registry.DecoderPair
	stats      *domain.ConsumerTypeStats
	recorder   observability.MetricsRecorder

	mu       sync.Mutex
	instance *domain.ActiveInstance
}

// NewTypedConsumer constructs a consumer for T bound to key.
func NewTypedConsumer[T any](
	key domain.ConsumerKey,
	descriptor *domain.EntityDescriptor,
	opts domain.SubscriptionOptions,
	p *pool.Pool[domain.ConsumerKey],
	decoders registry.DecoderPair,
	stats *domain.ConsumerTypeStats,
	recorder observability.MetricsRecorder,
) *TypedConsumer[T] {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &TypedConsumer[T]{
		key: key, descriptor: descriptor, opts: opts, pool: p,
		decoders: decoders, stats: stats, recorder: recorder,
	}
}

func (c *TypedConsumer[T]) rent(ctx context.Context) (rawConsumerClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.instance != nil {
		return c.instance.Pooled.Client.(rawConsumerClient), nil
	}
	instance, err := c.pool.Rent(ctx, c.key)
	if err != nil {
		return nil, err
	}
	c.instance = instance
	return instance.Pooled.Client.(rawConsumerClient), nil
}

// Consume returns a channel of decoded envelopes. The channel closes when
// ctx is cancelled or a fatal broker error occurs; a nil error on the
// returned error channel after close means clean cancellation.
func (c *TypedConsumer[T]) Consume(ctx context.Context) (<-chan domain.Envelope[T], <-chan error) {
	out := make(chan domain.Envelope[T])
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		client, err := c.rent(ctx)
		if err != nil {
			errCh <- err
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			pollCtx, cancel := context.WithTimeout(ctx, time.Second)
			fetches := client.PollFetches(pollCtx)
			cancel()

			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}

			fatalErrs, retriableErrs := classifyFetchErrors(fetches)
			for _, re := range retriableErrs {
				slog.Warn("typed consumer: retriable broker error during poll, continuing",
					slog.String("topic", re.Topic), slog.Int32("partition", re.Partition),
					slog.Any("error", re.Err))
			}
			if len(fatalErrs) > 0 {
				errCh <- fmt.Errorf("%w: %v", domain.ErrConsumeFailed, fatalErrs[0].Err)
				return
			}

			var yieldErr error
			fetches.EachRecord(func(record *kgo.Record) {
				if yieldErr != nil {
					return
				}
				env, err := c.decode(record)
				if err != nil {
					slog.Warn("typed consumer: malformed record skipped",
						slog.String("topic", record.Topic), slog.Any("error", err))
					return
				}
				select {
				case out <- env:
					c.recorder.RecordOperation(observability.ConnectionTypeConsumer, "consume", true, 0)
				case <-ctx.Done():
					yieldErr = ctx.Err()
				}
			})
			if yieldErr != nil {
				return
			}
		}
	}()

	return out, errCh
}

// ConsumeBatch accumulates envelopes until maxSize is reached or maxWait
// elapses, then returns. Malformed records are logged and skipped.
func (c *TypedConsumer[T]) ConsumeBatch(ctx context.Context, maxSize int, maxWait time.Duration) ([]domain.Envelope[T], time.Time, time.Time, error) {
	start := time.Now()
	client, err := c.rent(ctx)
	if err != nil {
		return nil, start, start, err
	}

	deadline := start.Add(maxWait)
	batch := make([]domain.Envelope[T], 0, maxSize)

	for len(batch) < maxSize && time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		pollCtx, cancel := context.WithTimeout(ctx, min(remaining, time.Second))
		fetches := client.PollFetches(pollCtx)
		cancel()

		if ctx.Err() != nil {
			break
		}
		fatalErrs, retriableErrs := classifyFetchErrors(fetches)
		for _, re := range retriableErrs {
			slog.Warn("typed consumer: retriable broker error during batch poll, continuing",
				slog.String("topic", re.Topic), slog.Int32("partition", re.Partition),
				slog.Any("error", re.Err))
		}
		if len(fatalErrs) > 0 {
			return batch, start, time.Now(), fmt.Errorf("%w: %v", domain.ErrConsumeFailed, fatalErrs[0].Err)
		}

		fetches.EachRecord(func(record *kgo.Record) {
			if len(batch) >= maxSize {
				return
			}
			env, err := c.decode(record)
			if err != nil {
				slog.Warn("typed consumer: malformed record skipped in batch",
					slog.String("topic", record.Topic), slog.Any("error", err))
				return
			}
			batch = append(batch, env)
		})
	}

	return batch, start, time.Now(), nil
}

// Commit commits current offsets for this consumer's assignment.
func (c *TypedConsumer[T]) Commit(ctx context.Context) error {
	client, err := c.rent(ctx)
	if err != nil {
		return err
	}
	return client.CommitUncommittedOffsets(ctx)
}

// Seek moves the position for tp to offset; takes effect on the next poll.
func (c *TypedConsumer[T]) Seek(ctx context.Context, tp domain.TopicPartition, offset int64) error {
	client, err := c.rent(ctx)
	if err != nil {
		return err
	}
	client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		tp.Topic: {tp.Partition: kgo.EpochOffset{Epoch: -1, Offset: offset}},
	})
	return nil
}

// Assignment returns the consumer's current partition assignment, possibly
// empty pre-rebalance.
func (c *TypedConsumer[T]) Assignment() []domain.TopicPartition {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.instance == nil {
		return nil
	}
	return c.instance.Pooled.Assignment
}

// Close returns the rented client to the pool.
func (c *TypedConsumer[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.instance != nil {
		c.pool.Return(c.key, c.instance)
		c.instance = nil
	}
}

func (c *TypedConsumer[T]) decode(record *kgo.Record) (_ domain.Envelope[T], err error) {
	start := time.Now()
	defer func() {
		c.stats.RecordProcessed(err == nil, time.Since(start))
	}()

	var value T
	if decErr := c.decoders.Value.Decode(record.Value, &value); decErr != nil {
		err = fmt.Errorf("%w: %v", domain.ErrDecodeFailed, decErr)
		return domain.Envelope[T]{}, err
	}

	var keyVal any
	if c.decoders.Key != nil && len(record.Key) > 0 {
		var k any
		if decErr := c.decoders.Key.Decode(record.Key, &k); decErr == nil {
			keyVal = k
		}
	}

	headers := make(map[string][]byte, len(record.Headers))
	for _, h := range record.Headers {
		headers[h.Key] = h.Value
	}

	return domain.Envelope[T]{
		Value:     value,
		Key:       keyVal,
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Timestamp: record.Timestamp,
		Headers:   headers,
	}, nil
}

// classifyFetchErrors splits a poll's per-partition fetch errors into fatal
// ones (the consume loop should stop) and retriable ones (logged, poll
// continues). A context timeout/cancellation on the per-poll deadline is
// never fatal by itself: it just means the bounded poll window expired with
// nothing fetched. Broker-returned error codes that franz-go's kerr package
// marks retriable (e.g. LEADER_NOT_AVAILABLE during a rebalance) are treated
// the same way; everything else is fatal.
func classifyFetchErrors(fetches kgo.Fetches) (fatal []kgo.FetchError, retriable []kgo.FetchError) {
	for _, fe := range fetches.Errors() {
		if fe.Err == nil {
			continue
		}
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			continue
		}
		var kerrErr *kerr.Error
		if errors.As(fe.Err, &kerrErr) && kerrErr.Retriable {
			retriable = append(retriable, fe)
			continue
		}
		fatal = append(fatal, fe)
	}
	return fatal, retriable
}
