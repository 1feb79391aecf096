package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/observer/chatwire/internal/auth"
	"github.com/observer/chatwire/internal/config"
	"github.com/observer/chatwire/internal/database"
	"github.com/observer/chatwire/internal/membership"
	"github.com/observer/chatwire/internal/presence"
	"github.com/observer/chatwire/internal/pubsub"
	"github.com/observer/chatwire/internal/ratelimit"
	"github.com/observer/chatwire/internal/realtime"
	"github.com/observer/chatwire/internal/server"
	"github.com/observer/chatwire/internal/telemetry"
	"github.com/observer/chatwire/internal/websocket"
	"github.com/redis/go-redis/v9"
)

const serviceName = "chatwire"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Structured logging from the start
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var logger *slog.Logger
	if cfg.IsDevelopment() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)

	// Cancelled on SIGINT/SIGTERM; live WebSocket sessions end with it
	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create context for initialization
	ctx, cancel := context.WithTimeout(appCtx, 10*time.Second)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("trace flush failed", "error", err)
		}
	}()

	checks := map[string]server.HealthCheck{}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = pubsub.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		slog.Info("connected to redis")
	}

	// Topic registry: in-memory for single instance, Redis to span instances
	var ps pubsub.PubSub
	if cfg.PubSubType == config.BackendRedis {
		ps = pubsub.NewRedisPubSub(redisClient, logger)
	} else {
		ps = pubsub.NewMemoryPubSub(logger)
	}
	defer ps.Close()

	var tracker presence.Tracker
	if cfg.PresenceType == config.BackendRedis {
		redisTracker := presence.NewRedisTracker(redisClient, presence.DefaultNodeTTL, logger)
		go redisTracker.Run(appCtx)
		tracker = redisTracker
	} else {
		tracker = presence.NewMemoryTracker()
	}

	var dir membership.Directory
	if cfg.DirectoryBackend == config.BackendPostgres {
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		slog.Info("connected to database")

		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
		dir = database.NewMembershipRepository(db, tracker)
		checks["database"] = db.Health
	} else {
		slog.Warn("using in-memory membership directory - DO NOT USE IN PRODUCTION")
		dir = membership.NewMemoryDirectory(tracker)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSigningKey)
	if err != nil {
		return err
	}

	var limiter *ratelimit.Limiter
	if cfg.EventsPerMinute > 0 {
		limiter = ratelimit.New(cfg.EventsPerMinute)
		go limiter.Run(appCtx, time.Minute)
	}

	engine := realtime.NewEngine(realtime.Config{
		PubSub:    ps,
		Presence:  tracker,
		Directory: dir,
		Limiter:   limiter,
		Logger:    logger,
	})

	wsHandler := websocket.NewHandler(appCtx, engine, cfg.AllowedOrigins, logger)
	srv := server.New(cfg, &server.Dependencies{
		Tokens:    tokens,
		WSHandler: wsHandler,
		Notifier:  engine.Notifier(),
		Checks:    checks,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt
	select {
	case <-appCtx.Done():
	case err := <-errCh:
		return err
	}
	slog.Info("shutting down gracefully...")

	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
	// hijacked connections are not tracked by Shutdown
	if err := wsHandler.Wait(timeoutCtx); err != nil {
		slog.Error("sessions still open at shutdown", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
