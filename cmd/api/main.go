package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"pluginauth/core"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := core.Load()
	ctx := context.Background()

	logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()

	realmsFile, err := core.LoadRealmsFile(cfg.RealmsFile)
	if err != nil {
		return err
	}

	var users core.UserRepository
	if cfg.DatabaseURL != "" {
		db, err := core.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := core.EnsureUserSchema(ctx, db); err != nil {
			return fmt.Errorf("ensure users schema: %w", err)
		}
		repo := core.NewPgUserRepository(db)
		if err := core.BootstrapAdmin(ctx, repo, cfg); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		users = repo
	}

	// Redis is optional unless it backs the cache; it also enables the queue status endpoint.
	var redisClient *redis.Client
	if cfg.CacheBackend == core.CacheBackendRedis || cfg.RedisURL != "" {
		redisClient, err = core.NewRedisClient(cfg.RedisURL)
		if err != nil {
			if cfg.CacheBackend == core.CacheBackendRedis {
				return fmt.Errorf("connect redis: %w", err)
			}
			slog.Warn("redis unavailable; invalidation status disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	cache, err := core.NewRecordCache(cfg, redisClient)
	if err != nil {
		return err
	}
	hasher, err := core.NewSecureHasher(cfg.HasherConfig())
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := core.NewRealmMetrics(registry)

	realms, err := core.BuildRealms(realmsFile, hasher, cache, metrics, users)
	if err != nil {
		return err
	}
	authService, err := core.NewRealmAuthService(realms...)
	if err != nil {
		return err
	}
	authorizer, err := core.NewAuthorizer(realmsFile.Policies)
	if err != nil {
		return err
	}

	deps := core.RouterDeps{
		Store:      sessions.NewCookieStore([]byte(cfg.SessionKey)),
		Auth:       authService,
		Authorizer: authorizer,
		Gatherer:   registry,
	}
	if redisClient != nil {
		deps.Status = core.NewInvalidationStatus(redisClient)
	}
	router := core.NewRouter(cfg, deps)

	addr := fmt.Sprintf(":%s", cfg.Port)
	slog.Info("starting api server", "addr", addr, "realms", len(realms), "cache_backend", cfg.CacheBackend, "hash_algorithm", hasher.Algorithm())
	return router.Run(addr)
}
