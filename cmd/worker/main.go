package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"pluginauth/core"
)

func main() {
	if err := run(); err != nil {
		slog.Error("invalidation worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "worker.log")
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()

	// Evicting from a process-local cache would be invisible to the API, so the
	// worker always talks to the shared Redis cache.
	if cfg.CacheBackend != core.CacheBackendRedis {
		slog.Warn("worker forces the redis cache backend", "configured", cfg.CacheBackend)
		cfg.CacheBackend = core.CacheBackendRedis
	}

	realmsFile, err := core.LoadRealmsFile(cfg.RealmsFile)
	if err != nil {
		return err
	}

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	cache, err := core.NewRecordCache(cfg, redisClient)
	if err != nil {
		return err
	}

	realms, err := core.BuildCacheRealms(realmsFile, cache)
	if err != nil {
		return err
	}
	registry, err := core.NewRealmAuthService(realms...)
	if err != nil {
		return err
	}

	workerID := core.NewWorkerID()
	hostname, _ := os.Hostname()
	state := core.NewHeartbeatState(workerID, hostname, cfg.WorkerConcurrency)
	go state.Start(ctx, redisClient)

	worker := &core.InvalidationWorker{
		Queue:       core.NewRedisQueue(redisClient, core.InvalidationPendingKey, core.InvalidationProcessingKey),
		Processor:   core.NewInvalidationProcessor(registry),
		State:       state,
		Concurrency: cfg.WorkerConcurrency,
		Visibility:  core.DefaultVisibilityTimeout,
	}
	slog.Info("invalidation worker started", "id", workerID, "concurrency", cfg.WorkerConcurrency, "queue", core.InvalidationPendingKey)
	worker.Run(ctx)
	slog.Info("invalidation worker stopped", "id", workerID)
	return nil
}
