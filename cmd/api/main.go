package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"rollcall/internal/app"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/httpapi"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
	"rollcall/internal/seed"
	"rollcall/internal/telemetry"
)

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

	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "rollcall-api", cfg.OTELEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	if cfg.SeedFile != "" {
		f, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return err
		}
		counts, err := seed.Apply(ctx, backends.Ledger, f)
		if err != nil {
			return err
		}
		logger.Info("seed applied",
			zap.String("file", cfg.SeedFile),
			zap.Int("students", counts.Students),
			zap.Int("offerings", counts.Offerings),
			zap.Int("lectures", counts.Lectures))
	}

	authn := auth.NewAuthenticator(backends.Staff, auth.TokenConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if cfg.BootstrapAdminEmail != "" {
		admin, created, err := authn.Bootstrap(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
		if err != nil {
			return err
		}
		logger.Info("bootstrap admin", zap.String("email", admin.Email), zap.Bool("created", created))
	}

	sessions := attendance.NewSessions(cfg.SessionTTL, nil)
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer, sessions.Len)
	engine := attendance.NewEngine(backends.Ledger,
		attendance.WithRecorder(metrics),
		attendance.WithLogger(logger.Named("engine")),
		attendance.WithConcurrency(cfg.CommitConcurrency),
		attendance.WithTracer(otel.Tracer("rollcall/attendance")),
	)
	svc := attendance.NewService(backends.Ledger, backends.Ledger, engine, sessions, logger.Named("attendance"))

	sweeper := cron.New()
	if _, err := sessions.Schedule(sweeper, cfg.SessionSweep, func(evicted int) {
		if evicted > 0 {
			logger.Info("idle marking sessions evicted", zap.Int("evicted", evicted))
		}
	}); err != nil {
		return err
	}
	authLimiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	userLimiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	for name, l := range map[string]*httpmiddleware.TokenBucket{"auth": authLimiter, "user": userLimiter} {
		if _, err := l.Schedule(sweeper, cfg.SessionSweep, func(pruned int) {
			if pruned > 0 {
				logger.Debug("idle rate limit buckets pruned", zap.String("limiter", name), zap.Int("pruned", pruned))
			}
		}); err != nil {
			return err
		}
	}
	sweeper.Start()
	defer sweeper.Stop()

	// the in-memory queue only reaches a worker running in this process
	if _, ok := backends.Queue.(*queue.InMemory); ok {
		w := &app.Worker{Service: svc, Queue: backends.Queue, Log: logger.Named("worker"), Observer: metrics, Timeout: cfg.PersistTimeout}
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("in-process worker stopped", zap.Error(err))
			}
		}()
	}

	r := httpapi.NewRouter(httpapi.Deps{
		Service:         svc,
		Auth:            authn,
		Queue:           backends.Queue,
		Log:             logger.Named("http"),
		Checks:          backends.Checks(),
		PersistTimeout:  cfg.PersistTimeout,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		AuthLimiter:     authLimiter,
		UserLimiter:     userLimiter,
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}
