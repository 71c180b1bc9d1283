package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"rollcall/internal/app"
	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/logging"
	"rollcall/internal/telemetry"
)

// Worker consumes commit jobs from the queue and applies them to the ledger.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "rollcall-worker", cfg.OTELEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if cfg.QueueBackend != "redis" {
		logger.Fatal("the worker needs QUEUE_BACKEND=redis; the memory queue is consumed inside the api process")
	}
	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open backends failed", zap.Error(err))
	}
	defer backends.Close()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer, nil)
	engine := attendance.NewEngine(backends.Ledger,
		attendance.WithRecorder(metrics),
		attendance.WithLogger(logger.Named("engine")),
		attendance.WithConcurrency(cfg.CommitConcurrency),
		attendance.WithTracer(otel.Tracer("rollcall/attendance")),
	)
	// sessions never open in the worker; it only replays job snapshots
	svc := attendance.NewService(backends.Ledger, backends.Ledger, engine, attendance.NewSessions(0, nil), logger.Named("attendance"))

	w := &app.Worker{Service: svc, Queue: backends.Queue, Log: logger.Named("worker"), Observer: metrics, Timeout: cfg.PersistTimeout}
	if err := w.Run(ctx); err != nil {
		logger.Fatal("queue consume failed", zap.Error(err))
	}
}
