package main

import (
	"context"
	"errors"
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

var version = "dev"

func main() {
	cfg, err := core.LoadWorker()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "worker.log")
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

	redisClient, err := core.Dial(ctx, logger, "redis", cfg.ConnectRetries, func(ctx context.Context) (*redis.Client, error) {
		return core.NewRedisClient(ctx, cfg.RedisURL)
	})
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	concurrency := cfg.WorkerConcurrency
	workerID := core.NewWorkerID()
	hostname, _ := os.Hostname()
	logger = logger.With("worker_id", workerID)

	registry := core.NewRegistry()
	metrics := core.NewMetrics(registry)
	if cfg.WorkerMetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.WorkerMetricsAddr,
			Handler:           core.MetricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	state := core.NewHeartbeatState(workerID, hostname, version, concurrency)
	go state.Start(ctx, redisClient)

	worker := &core.ReviewWorker{
		Queue:       core.NewRedisQueue(redisClient),
		Reviewer:    core.NewAppointmentReviewer(core.NewPgStore(db)),
		State:       state,
		Metrics:     metrics,
		Logger:      logger,
		Concurrency: concurrency,
	}
	logger.Info("worker started", "concurrency", concurrency, "queue", core.PendingQueueKey, "version", version)
	worker.Run(ctx)
	logger.Info("worker stopped")
}
