// Package facade is the single entry point application code uses: it wraps
// the Producer Manager and Consumer Manager behind send/send-batch/consume/
// fetch operations, starts the tracing spans named in the runtime's
// observability surface, and merges both managers' health and diagnostics
// into one report.
package facade

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/observability"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/registry"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/typed"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the tracer scope; span names (kafka.send, kafka.consume_stream,
// ...) are attached per call and are what the observability surface documents.
const tracerName = "github.com/fairyhunter13/typed-kafka-runtime/facade"

// throughputLogInterval is how often Consume logs a throughput checkpoint.
const throughputLogInterval = 100

// Facade is the runtime's exposed surface. Construct one per process with
// New; it owns both managers and the schema binder's health view.
type Facade struct {
	producers *typed.ProducerManager
	consumers *typed.ConsumerManager
	binder    *registry.Binder
	tracer    trace.Tracer
}

// New constructs a Facade over already-built managers and binder.
func New(producers *typed.ProducerManager, consumers *typed.ConsumerManager, binder *registry.Binder) *Facade {
	return &Facade{
		producers: producers,
		consumers: consumers,
		binder:    binder,
		tracer:    otel.Tracer(tracerName),
	}
}

// startSpan starts a span named name, linked as a child of msgCtx's
// trace_context when one is supplied.
func (f *Facade) startSpan(ctx context.Context, name string, msgCtx *domain.MessageContext) (context.Context, trace.Span) {
	if msgCtx != nil && len(msgCtx.TraceContext) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msgCtx.TraceContext))
	}
	return f.tracer.Start(ctx, name)
}

// Send publishes value under a kafka.send span, delegating to T's cached
// typed producer (created on first use).
func Send[T any](ctx context.Context, f *Facade, value T, msgCtx *domain.MessageContext) (domain.DeliveryResult, error) {
	ctx, span := f.startSpan(ctx, "kafka.send", msgCtx)
	defer span.End()

	producer, err := typed.GetProducer[T](ctx, f.producers)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.DeliveryResult{}, err
	}

	result, err := producer.Send(ctx, value, msgCtx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// SendBatch publishes values under a kafka.send_batch span. Empty input is
// a no-op. A partial failure returns BatchPartiallyFailedError carrying the
// full result so callers can inspect per-index errors.
func SendBatch[T any](ctx context.Context, f *Facade, values []T, msgCtx *domain.MessageContext) (domain.BatchDeliveryResult, error) {
	ctx, span := f.startSpan(ctx, "kafka.send_batch", msgCtx)
	defer span.End()

	if len(values) == 0 {
		span.SetStatus(codes.Ok, "empty batch")
		return domain.BatchDeliveryResult{}, nil
	}

	producer, err := typed.GetProducer[T](ctx, f.producers)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.BatchDeliveryResult{}, err
	}

	result, err := producer.SendBatch(ctx, values, msgCtx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	if !result.AllSuccessful() {
		span.SetStatus(codes.Error, domain.ErrBatchPartiallyFailed.Error())
		return result, &domain.BatchPartiallyFailedError{Result: result}
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// SendBatchOptimized publishes values through the producer manager's
// optimized batch path under a kafka.batch_send_optimized span, applying
// the same partial-failure contract as SendBatch.
func SendBatchOptimized[T any](ctx context.Context, f *Facade, values []T, msgCtx *domain.MessageContext) (domain.BatchDeliveryResult, error) {
	ctx, span := f.startSpan(ctx, "kafka.batch_send_optimized", msgCtx)
	defer span.End()

	result, err := typed.SendBatchOptimized[T](ctx, f.producers, values, msgCtx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	if !result.AllSuccessful() {
		span.SetStatus(codes.Error, domain.ErrBatchPartiallyFailed.Error())
		return result, &domain.BatchPartiallyFailedError{Result: result}
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// Consume streams T's decoded values under a kafka.consume_stream span. The
// returned channels close when ctx is cancelled; the underlying consumer is
// disposed automatically. Throughput is logged every 100 values.
func Consume[T any](ctx context.Context, f *Facade, opts domain.SubscriptionOptions) (<-chan T, <-chan error, error) {
	spanCtx, span := f.startSpan(ctx, "kafka.consume_stream", nil)

	consumer, _, err := typed.NewConsumerFor[T](spanCtx, f.consumers, opts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, nil, err
	}

	envelopes, errCh := consumer.Consume(spanCtx)
	values := make(chan T)
	outErr := make(chan error, 1)

	go func() {
		defer close(values)
		defer close(outErr)
		defer consumer.Close()
		defer span.End()

		count := 0
		for {
			select {
			case env, ok := <-envelopes:
				if !ok {
					span.SetStatus(codes.Ok, "")
					return
				}
				select {
				case values <- env.Value:
				case <-spanCtx.Done():
					return
				}
				count++
				if count%throughputLogInterval == 0 {
					slog.Info("consume stream throughput checkpoint",
						slog.String("topic", env.Topic), slog.Int("values_streamed", count))
				}
			case err, ok := <-errCh:
				if ok && err != nil {
					span.SetStatus(codes.Error, err.Error())
					outErr <- err
				} else {
					span.SetStatus(codes.Ok, "")
				}
				return
			case <-spanCtx.Done():
				span.SetStatus(codes.Ok, "")
				return
			}
		}
	}()

	return values, outErr, nil
}

// Fetch performs a one-shot bounded pull under a kafka.fetch_batch span: a
// disposable consumer with auto_commit=false drains a single batch, then is
// disposed regardless of outcome.
func Fetch[T any](ctx context.Context, f *Facade, opts domain.FetchOptions) ([]T, error) {
	ctx, span := f.startSpan(ctx, "kafka.fetch_batch", nil)
	defer span.End()

	if opts.MaxMessages == 0 {
		span.SetStatus(codes.Ok, "")
		return []T{}, nil
	}

	subOpts := domain.DefaultSubscriptionOptions(opts.ConsumerGroupID)
	subOpts.AutoCommit = false

	consumer, _, err := typed.NewConsumerFor[T](ctx, f.consumers, subOpts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer consumer.Close()

	maxMessages := opts.MaxMessages
	if maxMessages < 0 {
		maxMessages = 500
	}

	envelopes, _, _, err := consumer.ConsumeBatch(ctx, maxMessages, opts.Timeout)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	values := make([]T, 0, len(envelopes))
	for _, env := range envelopes {
		values = append(values, env.Value)
	}
	span.SetStatus(codes.Ok, "")
	return values, nil
}

// ConsumeBatches repeatedly drains bounded batches under a
// kafka.consume_batches span, invoking handler with each non-empty batch
// until ctx is cancelled or handler returns an error.
func ConsumeBatches[T any](ctx context.Context, f *Facade, opts domain.BatchOptions, handler func(context.Context, []T) error) error {
	ctx, span := f.startSpan(ctx, "kafka.consume_batches", nil)
	defer span.End()

	subOpts := domain.DefaultSubscriptionOptions(opts.ConsumerGroupID)
	subOpts.AutoCommit = opts.AutoCommit

	consumer, _, err := typed.NewConsumerFor[T](ctx, f.consumers, subOpts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer consumer.Close()

	for {
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Ok, "")
			return nil
		default:
		}

		envelopes, _, _, err := consumer.ConsumeBatch(ctx, opts.MaxBatchSize, opts.MaxWaitTime)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if len(envelopes) == 0 && !opts.EnableEmptyBatches {
			continue
		}

		values := make([]T, 0, len(envelopes))
		for _, env := range envelopes {
			values = append(values, env.Value)
		}
		if err := handler(ctx, values); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
}

// HealthReport merges producer, consumer, and schema-cache health; the
// overall level is the worst of the three components.
type HealthReport struct {
	Level       domain.HealthLevel
	Producer    domain.PoolHealth
	Consumer    domain.PoolHealth
	SchemaCache domain.PoolHealth
}

// HealthReport computes the merged health of both managers and the binder.
func (f *Facade) HealthReport() HealthReport {
	producerHealth := f.producers.Health()
	consumerHealth := f.consumers.Health()
	schemaHealth := f.binder.Health()

	overall := domain.Worse(domain.Worse(producerHealth.Level, consumerHealth.Level), schemaHealth.Level)
	return HealthReport{
		Level:       overall,
		Producer:    producerHealth,
		Consumer:    consumerHealth,
		SchemaCache: schemaHealth,
	}
}

// Diagnostics merges producer and consumer diagnostics with process-level
// counters.
type Diagnostics struct {
	ProducerStats   map[string]domain.ProducerTypeStatsSnapshot
	ProducerProcess domain.ProcessProducerStats
	Subscriptions   []domain.Subscription
	Goroutines      int
	HeapAllocBytes  uint64
}

// Diagnostics snapshots both managers' stats plus process memory/goroutine
// counts.
func (f *Facade) Diagnostics() Diagnostics {
	byType, process := f.producers.Stats()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Diagnostics{
		ProducerStats:   byType,
		ProducerProcess: process,
		Subscriptions:   f.consumers.Subscriptions(),
		Goroutines:      runtime.NumGoroutine(),
		HeapAllocBytes:  mem.HeapAlloc,
	}
}

// DisposeAll disposes both managers. Idempotent.
func (f *Facade) DisposeAll() {
	f.consumers.DisposeAll()
	f.producers.DisposeAll()
}

// MetricsRecorder re-exports observability.MetricsRecorder so callers
// wiring a Facade don't need to import internal/observability directly.
type MetricsRecorder = observability.MetricsRecorder
