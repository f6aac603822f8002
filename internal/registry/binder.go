package registry

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/config"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/domain"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/observability"
	"github.com/hamba/avro/v2"
	"github.com/twmb/franz-go/pkg/sr"
)

// EncoderPair is the key/value encoder pair a Typed Producer uses to
// serialize outgoing records.
type EncoderPair struct {
	Key   *sr.Serde
	Value *sr.Serde
}

// DecoderPair is the key/value decoder pair a Typed Consumer uses to
// deserialize incoming records. In this runtime encode and decode share the
// same *sr.Serde (it supports both directions), so DecoderPair is an alias
// in all but name.
type DecoderPair struct {
	Key   *sr.Serde
	Value *sr.Serde
}

type cacheEntry struct {
	encoders EncoderPair
	decoders DecoderPair
}

// Binder is the Schema Binder (component B): given an entity descriptor, it
// returns encoder/decoder pairs, caching by entity type so the registry
// collaborator is consulted at most once per type per process lifetime.
type Binder struct {
	collaborator RegistryCollaborator
	observed     *observability.ObservableClient
	retry        config.RetryConfig

	mu           sync.RWMutex
	cache        map[reflect.Type]*cacheEntry
	bindFailures int
}

// defaultRetryConfig matches the backoff this binder used before RetryConfig
// was wired in, so callers that never set one (via SetRetryConfig) see no
// behavior change.
func defaultRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxElapsedTime:  10 * time.Second,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     60 * time.Second,
		Multiplier:      1.5,
	}
}

// NewBinder constructs a Binder over collaborator. Registration calls are
// wrapped in an ObservableClient so a flaky registry gets adaptive timeouts,
// a circuit breaker, and bounded retry instead of hanging the bind path.
func NewBinder(collaborator RegistryCollaborator) *Binder {
	return &Binder{
		collaborator: collaborator,
		cache:        make(map[reflect.Type]*cacheEntry),
		retry:        defaultRetryConfig(),
		observed: observability.NewObservableClient(
			observability.ConnectionTypeRegistry, observability.OperationTypePublish,
			"schema-registry", "registry", 5*time.Second, 1*time.Second, 20*time.Second, nil,
		),
	}
}

// SetRetryConfig overrides the backoff used by registerSchema. Call it once
// after construction, before the binder serves any traffic.
func (b *Binder) SetRetryConfig(cfg config.RetryConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retry = cfg
}

// registerSchema registers schemaText under subject, retrying transient
// failures with bounded exponential backoff through the ObservableClient.
func (b *Binder) registerSchema(ctx context.Context, subject, schemaText string) (int, error) {
	b.mu.RLock()
	cfg := b.retry
	b.mu.RUnlock()

	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = cfg.MaxElapsedTime
	retry.InitialInterval = cfg.InitialInterval
	retry.MaxInterval = cfg.MaxInterval
	retry.Multiplier = cfg.Multiplier

	var id int
	err := b.observed.ExecuteWithRetry(ctx, "register_schema", func(ctx context.Context) error {
		var err error
		id, err = b.collaborator.Register(ctx, subject, schemaText)
		return err
	}, retry)
	return id, err
}

// Health reports the schema cache's health: critical when the registry
// connection's circuit breaker is open, warning once a bind has ever failed
// but the connection is otherwise up, healthy otherwise.
func (b *Binder) Health() domain.PoolHealth {
	b.mu.RLock()
	failures := b.bindFailures
	b.mu.RUnlock()

	if !b.observed.IsHealthy() {
		return domain.PoolHealth{
			Level:  domain.HealthCritical,
			Issues: []string{"schema registry circuit breaker open or unhealthy"},
		}
	}
	if failures > 0 {
		return domain.PoolHealth{
			Level:  domain.HealthWarning,
			Issues: []string{fmt.Sprintf("%d schema bind failure(s) observed", failures)},
		}
	}
	return domain.PoolHealth{Level: domain.HealthHealthy}
}

// GetEncoders returns the (key, value) encoder pair for d's type, deriving
// and registering Avro schemas on cache miss.
func (b *Binder) GetEncoders(ctx context.Context, d *domain.EntityDescriptor) (EncoderPair, error) {
	entry, err := b.bind(ctx, d)
	if err != nil {
		return EncoderPair{}, err
	}
	return entry.encoders, nil
}

// GetDecoders returns the (key, value) decoder pair for d's type, deriving
// and registering Avro schemas on cache miss.
func (b *Binder) GetDecoders(ctx context.Context, d *domain.EntityDescriptor) (DecoderPair, error) {
	entry, err := b.bind(ctx, d)
	if err != nil {
		return DecoderPair{}, err
	}
	return entry.decoders, nil
}

func (b *Binder) bind(ctx context.Context, d *domain.EntityDescriptor) (*cacheEntry, error) {
	b.mu.RLock()
	entry, ok := b.cache[d.Type]
	b.mu.RUnlock()
	if ok {
		return entry, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if entry, ok := b.cache[d.Type]; ok {
		return entry, nil
	}

	valueSchema, err := avro.Reflect(reflect.New(d.Type).Interface())
	if err != nil {
		b.bindFailures++
		return nil, fmt.Errorf("%w: derive avro schema for %s: %v", domain.ErrSchemaUnavailable, d.Type, err)
	}
	valueID, err := b.registerSchema(ctx, d.ValueSubject(), valueSchema.String())
	if err != nil {
		b.bindFailures++
		return nil, err
	}

	valueSerde := newAvroSerde(valueID, valueSchema, reflect.New(d.Type).Interface())

	var keySerde *sr.Serde
	if len(d.KeyFields) > 0 {
		keySchema, err := keyAvroSchema(d)
		if err != nil {
			b.bindFailures++
			return nil, fmt.Errorf("%w: derive avro key schema for %s: %v", domain.ErrSchemaUnavailable, d.Type, err)
		}
		keyID, err := b.registerSchema(ctx, d.KeySubject(), keySchema.String())
		if err != nil {
			b.bindFailures++
			return nil, err
		}
		keySerde = newAvroSerde(keyID, keySchema, new(any))
	}

	entry = &cacheEntry{
		encoders: EncoderPair{Key: keySerde, Value: valueSerde},
		decoders: DecoderPair{Key: keySerde, Value: valueSerde},
	}
	b.cache[d.Type] = entry
	return entry, nil
}

// CheckCompatibility is an optional pre-flight that asks the collaborator
// whether the locally derived value schema is compatible with the latest
// registered version for d's type.
func (b *Binder) CheckCompatibility(ctx context.Context, d *domain.EntityDescriptor) (bool, error) {
	schema, err := avro.Reflect(reflect.New(d.Type).Interface())
	if err != nil {
		return false, fmt.Errorf("%w: derive avro schema for %s: %v", domain.ErrSchemaUnavailable, d.Type, err)
	}
	return b.collaborator.Compatible(ctx, d.ValueSubject(), schema.String())
}

// newAvroSerde wires hamba/avro's marshal/unmarshal functions into an
// sr.Serde under the Confluent wire format (magic byte + schema id + Avro
// payload), the same subject-per-topic-side convention the registry
// collaborator uses.
func newAvroSerde(id int, schema avro.Schema, zero any) *sr.Serde {
	var serde sr.Serde
	serde.Register(id, zero,
		sr.EncodeFn(func(v any) ([]byte, error) {
			return avro.Marshal(schema, v)
		}),
		sr.DecodeFn(func(b []byte, v any) error {
			return avro.Unmarshal(schema, b, v)
		}),
	)
	return &serde
}

// keyAvroSchema builds a minimal Avro schema covering only the descriptor's
// ordered key fields, for composite or single-field keys. Each field's Avro
// primitive type is derived from its actual Go field type on d.Type (via
// avroPrimitiveType), not assumed to be string, so KeyProjection's output
// (an int64, a bool, etc. for a single-field key) matches what gets marshaled.
func keyAvroSchema(d *domain.EntityDescriptor) (avro.Schema, error) {
	if len(d.KeyFields) == 1 {
		prim, err := avroPrimitiveType(d.Type, d.KeyFields[0])
		if err != nil {
			return nil, err
		}
		return avro.Parse(fmt.Sprintf(`{"type":%q}`, prim))
	}
	fields := make([]string, 0, len(d.KeyFields))
	for _, name := range d.KeyFields {
		prim, err := avroPrimitiveType(d.Type, name)
		if err != nil {
			return nil, err
		}
		fields = append(fields, fmt.Sprintf(`{"name":%q,"type":%q}`, name, prim))
	}
	def := fmt.Sprintf(`{"type":"record","name":"%sKey","fields":[%s]}`, d.Type.Name(), joinComma(fields))
	return avro.Parse(def)
}

// avroPrimitiveType maps the Go kind of goType's named field to an Avro
// primitive type name. Key fields are restricted to primitives the registry
// collaborator can round-trip unambiguously; anything else is a descriptor
// error caught at bind time rather than a silent string coercion.
func avroPrimitiveType(goType reflect.Type, fieldName string) (string, error) {
	sf, ok := goType.FieldByName(fieldName)
	if !ok {
		return "", fmt.Errorf("%w: key field %q not found on %s", domain.ErrEncodeFailed, fieldName, goType)
	}
	switch sf.Type.Kind() {
	case reflect.String:
		return "string", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return "int", nil
	case reflect.Int64:
		return "long", nil
	case reflect.Float32:
		return "float", nil
	case reflect.Float64:
		return "double", nil
	case reflect.Bool:
		return "boolean", nil
	default:
		return "", fmt.Errorf("%w: key field %q has unsupported type %s for avro key schema", domain.ErrEncodeFailed, fieldName, sf.Type)
	}
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
