package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"teleclinic-api/core"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := core.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Dial(ctx, logger, "postgres", cfg.ConnectRetries, func(ctx context.Context) (*pgxpool.Pool, error) {
		return core.Connect(ctx, cfg.DatabaseURL)
	})
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := core.Migrate(cfg.DatabaseURL); err != nil {
			logger.Error("migrate database", "error", err)
			os.Exit(1)
		}
	}

	redisClient, err := core.Dial(ctx, logger, "redis", cfg.ConnectRetries, func(ctx context.Context) (*redis.Client, error) {
		return core.NewRedisClient(ctx, cfg.RedisURL)
	})
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	hasher, err := core.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		logger.Error("init password hasher", "error", err)
		os.Exit(1)
	}
	tokens, err := core.NewTokenCodec(cfg.TokenConfig())
	if err != nil {
		logger.Error("init token codec", "error", err)
		os.Exit(1)
	}

	registry := core.NewRegistry()
	router := core.NewRouter(core.RouterDeps{
		Config:    cfg,
		Logger:    logger,
		Store:     core.NewPgStore(db),
		Auth:      core.NewAuthService(hasher, tokens),
		Metrics:   core.NewMetrics(registry),
		Gatherer:  registry,
		Queue:     core.NewRedisQueue(redisClient),
		Inspector: core.NewQueueInspector(redisClient),
		StartedAt: time.Now(),
		Version:   version,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting api server", "addr", srv.Addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", "error", err)
		}
	}
}
