// One-shot lateness sweep for cron. Walks every open late contribution,
// applies due stage transitions and exits non-zero when any record fails.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/arisanid/arisan/internal/adapter/persistence"
	"github.com/arisanid/arisan/internal/config"
	"github.com/arisanid/arisan/internal/lateness"
	"github.com/arisanid/arisan/internal/notify"
	"github.com/arisanid/arisan/internal/ports"
	"github.com/arisanid/arisan/internal/service/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewStructuredLogger(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: "arisan-sweep",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Error(ctx, "failed to open database", err, nil)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error(ctx, "failed to ping database", err, nil)
		os.Exit(1)
	}

	clock := ports.SystemClock{}
	throttle := notify.NewMemoryThrottle(clock)

	lateRepo := persistence.NewPostgresLateContributionRepository(db)
	contribRepo := persistence.NewPostgresContributionRepository(db)
	circleRepo := persistence.NewPostgresCircleRepository(db)
	defaultRepo := persistence.NewPostgresMemberDefaultRepository(db)
	redistRepo := persistence.NewPostgresRedistributionRepository(db)
	reserveRepo := persistence.NewPostgresReserveFundRepository(db)
	scoreRepo := persistence.NewPostgresScoreRepository(db)
	restrictionRepo := persistence.NewPostgresRestrictionRepository(db)

	dispatcher := notify.NewDispatcher(
		persistence.NewPostgresInboxSender(db),
		notify.NewLogSMSSender(log),
		throttle,
		log,
	)
	policy := lateness.NewPolicyEngine(reserveRepo, redistRepo, circleRepo, contribRepo, dispatcher, clock, log)
	restriction := lateness.NewRestrictionEnforcer(defaultRepo, restrictionRepo, dispatcher, clock, log)

	engine := lateness.NewEngine(
		lateRepo, contribRepo, circleRepo, defaultRepo, scoreRepo,
		policy, restriction, dispatcher,
		persistence.NewPostgresRetryScheduler(db),
		clock, log,
		lateness.Config{
			GracePeriodDays:       cfg.Lifecycle.GracePeriodDays,
			GraceStageAfterDays:   cfg.Lifecycle.GraceStageAfterDays,
			FinalWarningAfterDays: cfg.Lifecycle.FinalWarningAfterDays,
			PlanMinimumAmount:     cfg.Lifecycle.PlanMinimumAmount,
			SweepWorkers:          cfg.Lifecycle.SweepWorkers,
		},
	)

	result, err := engine.ProcessAllLateContributions(ctx)
	if err != nil {
		log.Error(ctx, "sweep failed", err, nil)
		os.Exit(1)
	}

	log.Info(ctx, "sweep finished", map[string]interface{}{
		"processed":  result.Processed,
		"progressed": result.Progressed,
		"defaulted":  result.Defaulted,
		"resolved":   result.Resolved,
		"failed":     len(result.Errors),
	})
	if len(result.Errors) > 0 {
		for _, e := range result.Errors {
			log.Warn(ctx, "record failed during sweep", map[string]interface{}{
				"late_contribution_id": e.LateContributionID,
				"error":                e.Message,
			})
		}
		os.Exit(1)
	}
}
