// Package app assembles the engine from configuration. Every binary under
// cmd/ goes through Build so they share one wiring.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"qatmarket/internal/coordinator"
	"qatmarket/internal/giftcode"
	"qatmarket/internal/handler"
	"qatmarket/internal/ledger"
	"qatmarket/internal/notification"
	"qatmarket/internal/order"
	"qatmarket/internal/repository"
	"qatmarket/internal/repository/memory"
	"qatmarket/internal/repository/postgres"
	"qatmarket/internal/session"
	"qatmarket/internal/withdrawal"
	"qatmarket/pkg/cache"
	"qatmarket/pkg/config"
	"qatmarket/pkg/logger"
)

type App struct {
	Config      *config.Config
	DB          *sqlx.DB
	Redis       *redis.Client
	UnitOfWork  repository.UnitOfWork
	Memory      *memory.Store
	Hub         *notification.Hub
	Sessions    *session.Manager
	Coordinator *coordinator.Coordinator
	Relay       *notification.RedisRelay
	Checks      map[string]handler.Check

	logger logger.Logger
}

// Build opens the store and Redis and wires the services. Redis is optional
// unless the relay is enabled.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, logger: log, Checks: map[string]handler.Check{}}

	var catalogue repository.Catalogue
	switch cfg.Database.Driver {
	case "memory":
		a.Memory = memory.New()
		a.UnitOfWork = a.Memory
		catalogue = a.Memory
		log.Warn("Using in-memory store; state is lost on exit", nil)
	default:
		db, err := postgres.Connect(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.DB = db
		a.UnitOfWork = postgres.NewUnitOfWork(db)
		catalogue = postgres.NewCatalogue(db)
		a.Checks["database"] = func(ctx context.Context) error { return db.PingContext(ctx) }
		log.Info("Database connected", nil)
	}

	if cfg.Redis.URL != "" {
		client, err := cache.Dial(ctx, cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Redis = client
		a.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		log.Info("Redis connected", nil)
	}

	a.Sessions = session.NewManager(cfg.Session.SendBuffer, log)

	// One lock table for intents and hub publishes keeps each user's pushes
	// in commit order.
	locks := coordinator.NewKeyedMutex()
	opts := []notification.Option{notification.WithLocker(locks)}
	if a.Redis != nil {
		opts = append(opts, notification.WithCache(cache.NewRedisCache(a.Redis, "qatmarket")))
		if cfg.Hub.RelayEnabled {
			a.Relay = notification.NewRedisRelay(a.Redis, cfg.Hub.RelayChannel, cfg.Hub.BreakerTimeout, log)
			opts = append(opts, notification.WithRelay(a.Relay))
			a.Checks["relay"] = a.Relay.Check
		}
	}
	a.Hub = notification.NewHub(a.UnitOfWork, a.Sessions, cfg.Hub.QueueSize, log, opts...)

	l := ledger.NewService(cfg.Ledger.VerifyOnWrite, log)
	a.Coordinator = coordinator.New(a.UnitOfWork, coordinator.Services{
		Ledger:      l,
		Orders:      order.NewService(l, catalogue, log),
		GiftCodes:   giftcode.NewService(l, cfg.GiftCode.AllowRepeat, log),
		Withdrawals: withdrawal.NewService(l, log),
	}, a.Hub, coordinator.Config{
		MaxAttempts: cfg.Coordinator.MaxAttempts,
		RetryDelay:  cfg.Coordinator.RetryDelay,
		UnitTimeout: cfg.Coordinator.UnitTimeout,
	}, log, coordinator.WithLocks(locks))

	return a, nil
}

// Close releases the store and Redis. Callers stop the hub and sessions first.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.logger.Warn("Failed to close database", map[string]interface{}{"error": err.Error()})
		}
	}
}
