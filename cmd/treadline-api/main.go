// Package main provides the treadline API server entrypoint.
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

	"github.com/treadline-ai/treadline/internal/auth"
	"github.com/treadline-ai/treadline/internal/cache"
	"github.com/treadline-ai/treadline/internal/catalog"
	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/engine"
	"github.com/treadline-ai/treadline/internal/genai"
	"github.com/treadline-ai/treadline/internal/observability"
	"github.com/treadline-ai/treadline/internal/prompt"
	"github.com/treadline-ai/treadline/internal/recommend"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: "treadline-api",
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("mode", cfg.Auth.Mode).
		Str("warehouse", cfg.Warehouse.Driver).
		Str("cache", cfg.Cache.Driver).
		Str("model", cfg.Model.Name).
		Msg("Starting treadline API")

	// Candidate store: warehouse with the CSV mirror behind it and the
	// cache in front. A missing warehouse degrades to mirror-only.
	warehouse, err := catalog.OpenWarehouse(cfg.Warehouse, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Warehouse unavailable, serving candidates from mirror only")
		warehouse = nil
	}
	mirror := catalog.NewMirror(cfg.Warehouse.MirrorPath, logger)
	store := catalog.NewStore(warehouse, mirror, newCacheClient(cfg.Cache, logger), cfg.Cache.TTL, logger)
	defer store.Close()

	builder, err := prompt.NewBuilder()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build prompt templates")
	}

	identity := auth.NewIdentityProvider(cfg.Auth, logger)
	model := genai.NewClient(cfg.Model, identity, logger)
	worker := recommend.NewWorker(store, builder, model, cfg.Engine.CAMDeadline, logger)
	eng := engine.NewEngine(store, worker, cfg.Engine, logger)

	sessions := auth.NewSessionManager(cfg.Auth)
	router := NewRouter(logger, cfg, eng, sessions, time.Now(), version)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
}

// newCacheClient builds the configured cache driver, degrading to the
// in-memory cache when the backing store cannot be reached.
func newCacheClient(cfg config.CacheConfig, logger *observability.Logger) cache.Client {
	switch cfg.Driver {
	case "redis":
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, using memory cache")
			return cache.NewMemoryClient(cfg.MaxEntries)
		}
		return client
	case "memory":
		return cache.NewMemoryClient(cfg.MaxEntries)
	default:
		client, err := cache.NewDiskClient(cfg.DiskRoot)
		if err != nil {
			logger.Warn().Err(err).Str("root", cfg.DiskRoot).Msg("Disk cache unavailable, using memory cache")
			return cache.NewMemoryClient(cfg.MaxEntries)
		}
		return client
	}
}
