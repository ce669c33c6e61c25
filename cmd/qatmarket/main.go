// ==============================================================================
// QATMARKET SERVER MAIN - cmd/qatmarket/main.go
// ==============================================================================
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"qatmarket/internal/app"
	"qatmarket/internal/handler"
	"qatmarket/internal/middleware"
	"qatmarket/internal/scheduler"
	"qatmarket/pkg/config"
	"qatmarket/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewWithLevel("qatmarket", cfg.Log.Level)

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting qatmarket", map[string]interface{}{
		"port":  cfg.Server.Port,
		"store": cfg.Database.Driver,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to start", map[string]interface{}{"error": err.Error()})
	}
	defer a.Close()

	a.Hub.Start(ctx)

	if cfg.Ledger.ReconcileOnStart {
		sweep, err := a.Coordinator.ReconcileAll(ctx, false)
		if err != nil {
			log.Error("Startup reconciliation failed", map[string]interface{}{"error": err.Error()})
		} else if len(sweep.Inconsistent) > 0 {
			log.Warn("Startup reconciliation froze wallets", map[string]interface{}{"count": len(sweep.Inconsistent)})
		}
	}

	sched := scheduler.NewScheduler(time.Second, log)
	if cfg.Ledger.ReconcileInterval > 0 {
		sched.Schedule(scheduler.ReconcileJob(a.Coordinator, cfg.Ledger.ReconcileInterval, log))
		sched.Schedule(scheduler.FlaggedJob(a.Coordinator, cfg.Ledger.ReconcileInterval, log))
	}
	sched.Start(ctx)

	var blacklist middleware.TokenBlacklist
	deps := handler.Deps{
		Coordinator: a.Coordinator,
		Hub:         a.Hub,
		Sessions:    a.Sessions,
		Checks:      a.Checks,
		Session:     cfg.Session,
		OTPSecret:   cfg.Security.AdminOTPSecret,
		Logger:      log,
	}
	if a.Redis != nil {
		revoked := middleware.NewRedisTokenBlacklist(a.Redis)
		blacklist = revoked
		deps.Revoker = revoked
		deps.RateLimiter = middleware.NewRateLimiter(a.Redis, cfg.Security.RateLimit, cfg.Security.RateWindow, log)
		deps.Idempotency = middleware.NewIdempotencyMiddleware(a.Redis, cfg.Security.IdempotencyTTL, log)
	}
	deps.Auth = middleware.NewAuthMiddleware(cfg.JWT.Secret, blacklist)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.Info("qatmarket started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down qatmarket...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked websockets are not tracked by the server; the session manager
	// drains and closes them so clients reconnect elsewhere.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	sched.Stop()
	// The hub flushes its queue into the sessions before they drain.
	if err := a.Hub.Close(shutdownCtx); err != nil {
		log.Warn("Hub did not drain in time", map[string]interface{}{"error": err.Error()})
	}
	drainCtx, cancelDrain := context.WithTimeout(shutdownCtx, cfg.Session.DrainTimeout)
	if err := a.Sessions.Shutdown(drainCtx); err != nil {
		log.Warn("Sessions did not drain in time", map[string]interface{}{"error": err.Error()})
	}
	cancelDrain()
	stop()

	log.Info("qatmarket stopped gracefully", nil)
}
