// Package config defines the runtime's configuration shapes. Loading from
// the process environment is provided for convenience; every constructor in
// the runtime also accepts an explicit struct literal, so configuration
// loading itself remains a collaborator concern.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// ClientConfig configures a single raw producer or consumer client:
// broker addresses, the transactional/idempotent knobs, and request-level
// timeouts.
type ClientConfig struct {
	Brokers            []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:19092"`
	ClientID           string        `env:"KAFKA_CLIENT_ID" envDefault:"typed-messaging-runtime"`
	TransactionalID    string        `env:"KAFKA_TRANSACTIONAL_ID"`
	RequestRetries     int           `env:"KAFKA_REQUEST_RETRIES" envDefault:"10"`
	ProducerBatchBytes int           `env:"KAFKA_PRODUCER_BATCH_BYTES" envDefault:"1000000"`
	DialTimeout        time.Duration `env:"KAFKA_DIAL_TIMEOUT" envDefault:"10s"`
	SessionTimeout     time.Duration `env:"KAFKA_SESSION_TIMEOUT" envDefault:"10s"`
	HeartbeatInterval  time.Duration `env:"KAFKA_HEARTBEAT_INTERVAL" envDefault:"3s"`
}

// Fingerprint deterministically summarizes the knobs that distinguish one
// pool bucket from another for the same entity type and topic.
func (c ClientConfig) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%d|%d|%s|%s|%s",
		strings.Join(c.Brokers, ","), c.TransactionalID, c.RequestRetries,
		c.ProducerBatchBytes, c.DialTimeout, c.SessionTimeout, c.HeartbeatInterval)
}

// PoolConfig bounds the Client Pool's resident capacity and maintenance
// cadence.
type PoolConfig struct {
	MinPoolSize          int           `env:"POOL_MIN_SIZE" envDefault:"1"`
	MaxPoolSize          int           `env:"POOL_MAX_SIZE" envDefault:"10"`
	IdleTimeout          time.Duration `env:"POOL_IDLE_TIMEOUT" envDefault:"5m"`
	MaintenanceInterval  time.Duration `env:"POOL_MAINTENANCE_INTERVAL" envDefault:"30s"`
	OverloadedThreshold  float64       `env:"POOL_OVERLOADED_THRESHOLD" envDefault:"0.8"`
	UnderutilizedThreshold float64     `env:"POOL_UNDERUTILIZED_THRESHOLD" envDefault:"0.1"`
	CircuitMaxFailures   int           `env:"POOL_CIRCUIT_MAX_FAILURES" envDefault:"5"`
	CircuitResetTimeout  time.Duration `env:"POOL_CIRCUIT_RESET_TIMEOUT" envDefault:"30s"`

	// Retry bounds the backoff applied when a bucket's client construction
	// fails (dial refused, auth rejected, etc.) before Rent gives up with
	// ErrClientInitFailed. Loaded via Load(), this defaults to a
	// 30s-bounded exponential backoff; a PoolConfig built as a struct
	// literal with Retry left zero gets exactly one construction attempt
	// per Rent call, matching the pool's behavior before this knob existed.
	Retry RetryConfig `envPrefix:"POOL_"`
}

// RegistryConfig configures the Schema Binder's connection to the schema
// registry collaborator.
type RegistryConfig struct {
	URL            string        `env:"SCHEMA_REGISTRY_URL" envDefault:"http://localhost:8081"`
	RequestTimeout time.Duration `env:"SCHEMA_REGISTRY_TIMEOUT" envDefault:"10s"`
}

// RetryConfig configures an exponential backoff. Two independent instances
// are wired in: PoolConfig.Retry (prefixed POOL_) bounds a bucket's
// client-construction retry, and Config.Retry (unprefixed) bounds the
// Schema Binder's schema-registration retry.
type RetryConfig struct {
	MaxElapsedTime  time.Duration `env:"RETRY_MAX_ELAPSED_TIME" envDefault:"30s"`
	InitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	MaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"10s"`
	Multiplier      float64       `env:"RETRY_MULTIPLIER" envDefault:"1.5"`
}

// Config bundles every configuration shape the runtime needs plus the
// ambient app-env/service-name fields used by logging and tracing setup.
type Config struct {
	AppEnv          string `env:"APP_ENV" envDefault:"dev"`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"typed-messaging-runtime"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`

	Client   ClientConfig
	Pool     PoolConfig
	Registry RegistryConfig
	Retry    RetryConfig
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }
