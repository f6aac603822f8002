// Package main boots the typed messaging runtime as a standalone process:
// it wires the Client Pool, Schema Binder, Producer/Consumer Managers, and
// Messaging Façade together, exposes Prometheus metrics, and waits for a
// shutdown signal.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	adapterobservability "github.com/fairyhunter13/typed-kafka-runtime/internal/adapter/observability"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/config"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/facade"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/observability"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/registry"
	"github.com/fairyhunter13/typed-kafka-runtime/internal/typed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := adapterobservability.SetupLogger(cfg)
	slog.SetDefault(logger)

	adapterobservability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := adapterobservability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting typed messaging runtime", slog.String("env", cfg.AppEnv))

	registryClient, err := registry.NewClient(cfg.Registry)
	if err != nil {
		slog.Error("schema registry client init failed", slog.Any("error", err))
		os.Exit(1)
	}
	binder := registry.NewBinder(registryClient)
	binder.SetRetryConfig(cfg.Retry)

	recorderFactory := func(topic, entityType string) observability.MetricsRecorder {
		return adapterobservability.PrometheusRecorder{Topic: topic, EntityType: entityType}
	}

	producers := typed.NewProducerManager(cfg.Pool, cfg.Client, binder, recorderFactory)
	consumers := typed.NewConsumerManager(cfg.Pool, cfg.Client, binder, recorderFactory)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producers.StartMaintenance(ctx)
	consumers.StartMaintenance(ctx)
	consumers.StartRebalanceMonitor(ctx, cfg.Pool.MaintenanceInterval)

	runtime := facade.New(producers, consumers, binder)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))

	cancel()
	runtime.DisposeAll()
	slog.Info("typed messaging runtime stopped")
}
