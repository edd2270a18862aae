package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/pinmind/internal/cache"
	"github.com/steemit/pinmind/internal/client"
	"github.com/steemit/pinmind/internal/db"
	"github.com/steemit/pinmind/internal/events"
	"github.com/steemit/pinmind/internal/manager"
	"github.com/steemit/pinmind/pkg/config"
	"github.com/steemit/pinmind/pkg/logging"
	"github.com/steemit/pinmind/pkg/telemetry"
)

func main() {
	force := flag.Bool("force", false, "sweep even when maintenance is not overdue")
	remote := flag.String("remote", "", "trigger maintenance on a running server at this URL instead of sweeping the database")
	flag.Parse()

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
	logger.Info("Starting Pinmind Sweeper", zap.Bool("force", *force))

	// Initialize telemetry
	tel, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}

	if *remote != "" {
		err = runRemote(*remote, *force, logger)
	} else {
		err = run(cfg, *force, tel.Sweeps, logger)
	}

	// Flush spans and metrics before a failing exit skips the deferred calls
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if shutdownErr := tel.Shutdown(ctx); shutdownErr != nil {
		logger.Error("Error shutting down telemetry", zap.Error(shutdownErr))
	}
	cancel()

	if err != nil {
		logger.Error("Sweep failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Sweeper exited")
}

func run(cfg *config.Config, force bool, metrics *telemetry.SweepMetrics, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Lifecycle.Enabled {
		logger.Info("Map lifecycle disabled, nothing to do")
		return nil
	}

	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}
	store := db.NewPinStore(db.NewRepository(database.DB), cfg.Database.BatchSize, logging.WithComponent("pin-store"))

	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, snapshot will not be cached", zap.Error(err))
		redisCache = nil
	}
	defer redisCache.Close()

	publisher, err := events.Connect(cfg.NATS, logger)
	if err != nil {
		logger.Warn("NATS unavailable, report will not be published", zap.Error(err))
		publisher = nil
	}
	defer publisher.Close()

	lastSweepAt, err := store.LastSweepAt(ctx)
	if err != nil {
		return err
	}
	pins, err := store.Load(ctx)
	if err != nil {
		return err
	}

	engineCfg := cfg.Lifecycle.EngineConfig()
	mgr, err := manager.New(manager.Config{
		Enabled:          true,
		Engine:           engineCfg,
		CheckInterval:    cfg.Lifecycle.CheckInterval,
		ExpiringSoonDays: cfg.Lifecycle.ExpiringSoonDays,
	}, logger, manager.WithMetrics(metrics), manager.WithLastSweepAt(lastSweepAt))
	if err != nil {
		return err
	}
	mgr.Refresh(pins)

	now := time.Now().UTC()
	var report manager.Report
	if force {
		report, err = mgr.TriggerMaintenance(ctx, now)
	} else {
		var ran bool
		report, ran, err = mgr.Tick(ctx, now)
		if err == nil && !ran {
			stats := mgr.MaintenanceStats(now)
			logger.Info("Maintenance not due",
				zap.Time("last_sweep_at", stats.LastSweepAt),
				zap.Duration("since_last_sweep", stats.SinceLastSweep))
			return nil
		}
	}
	if err != nil {
		return err
	}

	// Persistence must succeed; cache and events are best effort
	swept := mgr.Snapshot()
	if err := store.SweepHook()(ctx, swept, report); err != nil {
		return err
	}
	hooks := map[string]manager.SweepHook{
		"redis": redisCache.SweepHook(cache.ConfigFingerprint(engineCfg), cfg.Redis.SnapshotTTL),
		"nats":  publisher.SweepHook(),
	}
	for name, hook := range hooks {
		if err := hook(ctx, swept, report); err != nil {
			logger.Warn("Sweep hook failed", zap.String("hook", name), zap.Error(err))
		}
	}
	return nil
}

// runRemote sweeps through a running server so its in-memory snapshot and
// the database never diverge
func runRemote(url string, force bool, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.New(url, time.Minute)
	if err != nil {
		return err
	}

	if !force {
		stats, err := c.MaintenanceStats(ctx)
		if err != nil {
			return err
		}
		if !stats.IsOverdue {
			logger.Info("Maintenance not due",
				zap.Time("last_sweep_at", stats.LastSweepAt),
				zap.Duration("since_last_sweep", stats.SinceLastSweep))
			return nil
		}
	}

	report, err := c.TriggerMaintenance(ctx)
	if err != nil {
		return err
	}
	logger.Info("Remote maintenance completed",
		zap.String("run_id", report.RunID),
		zap.Int("processed", report.Processed),
		zap.Int("newly_hidden", report.NewlyHidden),
		zap.Int("skipped", report.SkippedCount()))
	return nil
}
