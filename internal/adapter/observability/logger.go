// Package observability bootstraps process-wide logging, tracing, and
// Prometheus metrics registration. Runtime-scoped wrappers (circuit
// breakers, adaptive timeouts, the collapsed observable client) live in
// internal/observability instead.
package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/typed-kafka-runtime/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
