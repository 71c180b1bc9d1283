// Package app assembles the storage, queue and auth backends shared by the api and worker.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// Ledger is a store that also keeps commit jobs.
type Ledger interface {
	attendance.Store
	attendance.JobStore
}

// Backends holds the process-wide handles chosen by configuration.
type Backends struct {
	Ledger Ledger
	Staff  auth.StaffStore
	Queue  queue.Queue // nil when the queue backend is disabled
	DB     *store.DB   // nil for the memory driver
	Redis  *store.Redis
}

// Open connects to the configured database, applies migrations and builds the queue.
func Open(ctx context.Context, cfg config.App, log *zap.Logger) (*Backends, error) {
	b := &Backends{}
	switch cfg.DatabaseDriver {
	case "memory":
		b.Ledger = attendance.NewMemoryStore()
		b.Staff = auth.NewMemoryStaff()
		log.Warn("using in-memory storage; data is lost on restart")
	case "postgres", "sqlite":
		db, err := openDB(cfg)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate %s: %w", db.Dialect, err)
		}
		b.DB = db
		b.Ledger = attendance.NewRepository(db)
		b.Staff = auth.NewSQLStaff(db)
		log.Info("database ready", zap.String("driver", string(db.Dialect)))
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}

	switch cfg.QueueBackend {
	case "memory":
		b.Queue = queue.NewInMemory(64)
	case "redis":
		b.Redis = store.NewRedis(cfg.RedisAddr)
		b.Queue = queue.NewRedisQueue(b.Redis.Client, cfg.QueueName, log)
		if err := b.Redis.Ping(ctx); err != nil {
			log.Warn("redis not reachable; asynchronous commits will fail until it is", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
	case "none", "":
	default:
		b.Close()
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
	return b, nil
}

func openDB(cfg config.App) (*store.DB, error) {
	if cfg.DatabaseDriver == "sqlite" {
		return store.OpenSQLite(cfg.SQLitePath)
	}
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// Checks returns the health probes for /healthz.
func (b *Backends) Checks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if b.DB != nil {
		checks["db"] = b.DB.Ping
	}
	if b.Redis != nil {
		checks["redis"] = b.Redis.Ping
	}
	return checks
}

func (b *Backends) Close() {
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.DB != nil {
		_ = b.DB.Close()
	}
}
