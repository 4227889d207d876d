package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/arisanid/arisan/internal/adapter/http"
	"github.com/arisanid/arisan/internal/adapter/persistence"
	"github.com/arisanid/arisan/internal/adapter/redisx"
	"github.com/arisanid/arisan/internal/config"
	"github.com/arisanid/arisan/internal/lateness"
	"github.com/arisanid/arisan/internal/notify"
	"github.com/arisanid/arisan/internal/ports"
	"github.com/arisanid/arisan/internal/service/logger"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewStructuredLogger(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: "arisan-lateness",
	})

	ctx := context.Background()

	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Error(ctx, "failed to connect to database", err, nil)
		os.Exit(1)
	}
	defer db.Close()
	log.Info(ctx, "database connected", nil)

	clock := ports.SystemClock{}

	// Prefer the Redis throttle so reminder suppression holds across
	// instances, fall back to in-process when Redis is disabled or down.
	var throttle ports.ReminderThrottle
	if cfg.Redis.Enabled {
		throttle, err = redisx.NewReminderThrottle(redisx.Config{RedisURL: cfg.Redis.URL}, logrus.New())
		if err != nil {
			log.Warn(ctx, "redis throttle unavailable, using in-memory throttle", map[string]interface{}{"error": err.Error()})
			throttle = notify.NewMemoryThrottle(clock)
		}
	} else {
		throttle = notify.NewMemoryThrottle(clock)
	}

	// Repositories
	lateRepo := persistence.NewPostgresLateContributionRepository(db)
	contribRepo := persistence.NewPostgresContributionRepository(db)
	circleRepo := persistence.NewPostgresCircleRepository(db)
	defaultRepo := persistence.NewPostgresMemberDefaultRepository(db)
	redistRepo := persistence.NewPostgresRedistributionRepository(db)
	reserveRepo := persistence.NewPostgresReserveFundRepository(db)
	scoreRepo := persistence.NewPostgresScoreRepository(db)
	restrictionRepo := persistence.NewPostgresRestrictionRepository(db)
	sender := persistence.NewPostgresInboxSender(db)
	retry := persistence.NewPostgresRetryScheduler(db)

	// Services
	dispatcher := notify.NewDispatcher(sender, notify.NewLogSMSSender(log), throttle, log)
	policy := lateness.NewPolicyEngine(reserveRepo, redistRepo, circleRepo, contribRepo, dispatcher, clock, log)
	restriction := lateness.NewRestrictionEnforcer(defaultRepo, restrictionRepo, dispatcher, clock, log)

	engine := lateness.NewEngine(
		lateRepo, contribRepo, circleRepo, defaultRepo, scoreRepo,
		policy, restriction, dispatcher, retry, clock, log,
		lateness.Config{
			GracePeriodDays:       cfg.Lifecycle.GracePeriodDays,
			GraceStageAfterDays:   cfg.Lifecycle.GraceStageAfterDays,
			FinalWarningAfterDays: cfg.Lifecycle.FinalWarningAfterDays,
			PlanMinimumAmount:     cfg.Lifecycle.PlanMinimumAmount,
			SweepWorkers:          cfg.Lifecycle.SweepWorkers,
		},
	)

	handler := http.NewLatenessHandler(engine)
	server := http.NewServer(http.ServerConfig{
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, handler)

	// Periodic sweep so stage transitions happen even without traffic
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go runSweepLoop(sweepCtx, engine, cfg.Lifecycle.SweepInterval, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Error(ctx, "server stopped", err, nil)
		}
	}()
	log.Info(ctx, "server started", map[string]interface{}{"port": cfg.Server.Port})

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "shutting down...", nil)
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "forced shutdown", err, nil)
	}
	log.Info(ctx, "server exited", nil)
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func runSweepLoop(ctx context.Context, engine *lateness.Engine, interval time.Duration, log logger.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := engine.ProcessAllLateContributions(ctx)
			if err != nil {
				if errors.Is(err, lateness.ErrSweepInProgress) {
					log.Warn(ctx, "previous sweep still running, skipping tick", nil)
					continue
				}
				log.Error(ctx, "scheduled sweep failed", err, nil)
				continue
			}
			log.Info(ctx, "scheduled sweep finished", map[string]interface{}{
				"processed": result.Processed,
				"failed":    len(result.Errors),
			})
		}
	}
}
