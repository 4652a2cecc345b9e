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

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/punchamoorthee/fundsgate/internal/api"
	"github.com/punchamoorthee/fundsgate/internal/config"
	"github.com/punchamoorthee/fundsgate/internal/idempotency"
	"github.com/punchamoorthee/fundsgate/internal/ledger"
	"github.com/punchamoorthee/fundsgate/internal/ratelimit"
	"github.com/punchamoorthee/fundsgate/internal/service"
	"github.com/punchamoorthee/fundsgate/internal/store"
	"github.com/punchamoorthee/fundsgate/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(api.NewLogHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to postgres")

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		if err := sweeper.Migrate(ctx, db.Db); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	limiterOpts := ratelimit.Options{Capacity: cfg.RateLimitCapacity, LeakPerSecond: cfg.RateLimitLeakPerSecond}
	var buckets ratelimit.BucketStore = db
	if cfg.RateLimitBackend == config.BackendRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		buckets = ratelimit.NewRedisBucketStore(rdb, ratelimit.IdleTTL(limiterOpts))
		logger.Info("rate limiter state in redis", "addr", cfg.RedisAddr)
	}
	limiter, err := ratelimit.New(buckets, limiterOpts)
	if err != nil {
		return err
	}

	coordinator := idempotency.NewCoordinator(db, idempotency.Options{
		TTL:          cfg.IdempotencyTTL(),
		PollAttempts: cfg.IdempotencyPollAttempts,
		PollInterval: cfg.IdempotencyPollInterval,
	}, logger)
	accounts := service.NewAccountService(db, logger)
	transfers := service.NewTransferService(db, accounts, limiter, ledger.NewMutator(db), coordinator, logger)

	riverClient, err := sweeper.NewClient(db.Db, coordinator, sweeper.Options{
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatchSize,
	}, logger)
	if err != nil {
		return err
	}
	if err := riverClient.Start(ctx); err != nil {
		return err
	}

	handler := api.NewHandler(transfers, accounts, db, logger)
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders: []string{"Location", "Retry-After", "X-Request-ID"},
	}).Handler(handler.Routes())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		logger.Error("river shutdown", "error", err)
	}
	return nil
}
