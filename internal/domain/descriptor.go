package domain

import (
	"fmt"
	"reflect"
	"sync"
)

// FieldAttribute carries optional per-field metadata used by the schema
// binder and key projection: max length, decimal precision, a default
// value, and whether the field is ignored entirely.
type FieldAttribute struct {
	MaxLength        int
	DecimalPrecision int
	Default          any
	Ignore           bool
}

// CleanupPolicy mirrors the broker's topic-level cleanup.policy setting.
type CleanupPolicy string

const (
	CleanupPolicyDelete  CleanupPolicy = "delete"
	CleanupPolicyCompact CleanupPolicy = "compact"
)

// TopicSettings describes the topic a descriptor's entity lives on. Applied
// once, on first producer/consumer construction for that topic.
type TopicSettings struct {
	Partitions        int
	ReplicationFactor int
	RetentionMS       int64
	CleanupPolicy     CleanupPolicy
	// DLQEnabled is carried as inert metadata: no DLQ producer/consumer is
	// implemented by this runtime. See Open Questions.
	DLQEnabled bool
}

// EntityDescriptor is the immutable, per-type metadata the runtime needs to
// bind a Go type to a topic: its name, its ordered key fields, optional
// per-field attributes, and optional topic settings.
//
// Invariant: KeyFieldOrders is a contiguous permutation of 0..n-1 with no
// duplicates; Topic is non-empty; Partitions >= 1; ReplicationFactor >= 1;
// RetentionMS >= 0. NewEntityDescriptor validates these at construction and
// the descriptor is never mutated after that.
type EntityDescriptor struct {
	Type           reflect.Type
	Topic          string
	KeyFields      []string
	KeyFieldOrders []int
	Attributes     map[string]FieldAttribute
	TopicSettings  TopicSettings
}

// NewEntityDescriptor validates and constructs a descriptor for goType.
func NewEntityDescriptor(goType reflect.Type, topic string, keyFields []string, keyFieldOrders []int, attrs map[string]FieldAttribute, settings TopicSettings) (*EntityDescriptor, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: topic must be non-empty", ErrConfiguration)
	}
	if len(keyFields) != len(keyFieldOrders) {
		return nil, fmt.Errorf("%w: key_fields and key_field_orders length mismatch", ErrConfiguration)
	}
	seen := make(map[int]bool, len(keyFieldOrders))
	for _, o := range keyFieldOrders {
		if o < 0 || o >= len(keyFieldOrders) || seen[o] {
			return nil, fmt.Errorf("%w: key_field_orders must be a contiguous permutation of 0..n-1", ErrConfiguration)
		}
		seen[o] = true
	}
	if settings.Partitions < 1 {
		settings.Partitions = 1
	}
	if settings.ReplicationFactor < 1 {
		settings.ReplicationFactor = 1
	}
	if settings.RetentionMS < 0 {
		return nil, fmt.Errorf("%w: retention must be >= 0", ErrConfiguration)
	}
	if settings.CleanupPolicy == "" {
		settings.CleanupPolicy = CleanupPolicyDelete
	}
	if attrs == nil {
		attrs = map[string]FieldAttribute{}
	}
	return &EntityDescriptor{
		Type:           goType,
		Topic:          topic,
		KeyFields:      keyFields,
		KeyFieldOrders: keyFieldOrders,
		Attributes:     attrs,
		TopicSettings:  settings,
	}, nil
}

// KeySubject and ValueSubject follow the `{topic}-key` / `{topic}-value`
// schema registry subject naming convention.
func (d *EntityDescriptor) KeySubject() string   { return d.Topic + "-key" }
func (d *EntityDescriptor) ValueSubject() string { return d.Topic + "-value" }

// KeyProjection extracts the descriptor's ordered key fields from a struct
// value (or pointer to struct) via reflection, returning them in key-field
// order. A single key field yields a single value; multiple fields yield a
// slice, with composite encoding left to the encoder.
func (d *EntityDescriptor) KeyProjection(value any) (any, error) {
	if len(d.KeyFields) == 0 {
		return nil, nil
	}
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("%w: nil value for key projection", ErrEncodeFailed)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: key projection requires a struct value", ErrEncodeFailed)
	}

	ordered := make([]string, len(d.KeyFields))
	for i, order := range d.KeyFieldOrders {
		ordered[order] = d.KeyFields[i]
	}

	values := make([]any, 0, len(ordered))
	for _, name := range ordered {
		fv := v.FieldByName(name)
		if !fv.IsValid() {
			return nil, fmt.Errorf("%w: key field %q not found on %s", ErrEncodeFailed, name, d.Type)
		}
		values = append(values, fv.Interface())
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}

// registry is the compile-time entity descriptor registration map, built by
// RegisterEntity rather than by reflection-driven annotation scanning at
// runtime.
var registry = struct {
	mu   sync.RWMutex
	byType map[reflect.Type]*EntityDescriptor
}{byType: make(map[reflect.Type]*EntityDescriptor)}

// RegisterEntity records the descriptor for T into the process-wide
// descriptor map. Intended to be called once per type, typically from an
// init() in the package that owns T.
func RegisterEntity[T any](d *EntityDescriptor) error {
	var zero T
	t := reflect.TypeOf(zero)
	d.Type = t
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.byType[t]; exists {
		return fmt.Errorf("%w: descriptor for %s already registered", ErrConfiguration, t)
	}
	registry.byType[t] = d
	return nil
}

// DescriptorFor returns the registered descriptor for T, or an error if none
// was registered.
func DescriptorFor[T any]() (*EntityDescriptor, error) {
	var zero T
	t := reflect.TypeOf(zero)
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	d, ok := registry.byType[t]
	if !ok {
		return nil, fmt.Errorf("%w: no descriptor registered for %s", ErrConfiguration, t)
	}
	return d, nil
}
