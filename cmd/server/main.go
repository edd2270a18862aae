package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/steemit/pinmind/internal/api"
	"github.com/steemit/pinmind/internal/cache"
	"github.com/steemit/pinmind/internal/db"
	"github.com/steemit/pinmind/internal/events"
	"github.com/steemit/pinmind/internal/lifecycle"
	"github.com/steemit/pinmind/internal/manager"
	"github.com/steemit/pinmind/pkg/config"
	"github.com/steemit/pinmind/pkg/logging"
	"github.com/steemit/pinmind/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Pinmind API Server", zap.String("version", telemetry.Version))

	// Initialize telemetry
	tel, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer shutdownTelemetry(tel, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	store := db.NewPinStore(db.NewRepository(database.DB), cfg.Database.BatchSize, logging.WithComponent("pin-store"))

	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	publisher, err := events.Connect(cfg.NATS, logger)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer publisher.Close()

	// Lifecycle engine
	engineCfg := cfg.Lifecycle.EngineConfig()
	fingerprint := cache.ConfigFingerprint(engineCfg)

	lastSweepAt, err := store.LastSweepAt(ctx)
	if err != nil {
		logger.Fatal("Failed to read maintenance log", zap.Error(err))
	}
	pins, err := hydrate(ctx, store, redisCache, fingerprint, lastSweepAt,
		logging.WithContext(zap.String("component", "hydrate"), zap.String("fingerprint", fingerprint)))
	if err != nil {
		logger.Fatal("Failed to load pins", zap.Error(err))
	}

	mgr, err := manager.New(manager.Config{
		Enabled:          cfg.Lifecycle.Enabled,
		Engine:           engineCfg,
		CheckInterval:    cfg.Lifecycle.CheckInterval,
		ExpiringSoonDays: cfg.Lifecycle.ExpiringSoonDays,
	}, logger, manager.WithMetrics(tel.Sweeps), manager.WithLastSweepAt(lastSweepAt))
	if err != nil {
		logger.Fatal("Failed to create pin manager", zap.Error(err))
	}
	mgr.Refresh(pins)

	service := manager.NewService(mgr, cfg.Lifecycle.CheckInterval, logger,
		manager.WithClock(func() time.Time { return time.Now().UTC() }),
		manager.WithSweepHook("postgres", store.SweepHook()),
		manager.WithSweepHook("redis", redisCache.SweepHook(fingerprint, cfg.Redis.SnapshotTTL)),
		manager.WithSweepHook("nats", publisher.SweepHook()),
		manager.WithMutationHook("postgres", store.MutationHook()),
		manager.WithMutationHook("redis", redisCache.MutationHook(fingerprint)),
	)
	service.Start(ctx)
	defer service.Stop()

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	api.NewRouter(service, logger,
		api.WithMaintenanceLog(store),
		api.WithHealthCheck("postgres", database.Health),
		api.WithHealthCheck("redis", func(ctx context.Context) error {
			if err := redisCache.Health(ctx); !errors.Is(err, cache.ErrCacheDisabled) {
				return err
			}
			return nil
		}),
	).SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	var metricsSrv *http.Server
	if cfg.Telemetry.Enabled && cfg.Telemetry.PrometheusEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Telemetry.PrometheusPort),
			Handler: mux,
		}
		go func() {
			logger.Info("Metrics server starting", zap.String("address", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server forced to shutdown", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// hydrate loads the snapshot from the cache when it holds the output of the
// latest recorded sweep under the current thresholds, and from the database
// otherwise
func hydrate(ctx context.Context, store *db.PinStore, c *cache.Cache, fingerprint string, lastSweepAt time.Time, logger *zap.Logger) ([]lifecycle.Pin, error) {
	snap, err := c.LoadSnapshot(ctx, fingerprint)
	switch {
	case err == nil && !snap.SweptAt.Before(lastSweepAt):
		logger.Info("Loaded pins from cache",
			zap.Int("pins", len(snap.Pins)),
			zap.String("run_id", snap.RunID))
		return lifecycle.RestoreAll(snap.Pins), nil
	case err == nil:
		logger.Info("Cached snapshot is older than the maintenance log, dropping it")
		if err := c.DropSnapshot(ctx, fingerprint); err != nil {
			logger.Warn("Failed to drop cached snapshot", zap.Error(err))
		}
	case !errors.Is(err, cache.ErrCacheMiss) && !errors.Is(err, cache.ErrCacheDisabled):
		logger.Warn("Failed to read cached snapshot", zap.Error(err))
	}

	pins, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded pins from database", zap.Int("pins", len(pins)))
	return pins, nil
}

func shutdownTelemetry(tel *telemetry.Provider, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down telemetry", zap.Error(err))
	}
}
