package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/arisanid/arisan/internal/domain"
	"github.com/arisanid/arisan/internal/ports"
)

// PostgresCircleRepository is the read-side circle/cycle/membership view
// backed by PostgreSQL. The lateness core only reads these tables.
type PostgresCircleRepository struct {
	db *sql.DB
}

// NewPostgresCircleRepository creates a new PostgreSQL circle repository
func NewPostgresCircleRepository(db *sql.DB) ports.CircleRepository {
	return &PostgresCircleRepository{db: db}
}

// FindByID retrieves a circle with its lateness configuration
func (r *PostgresCircleRepository) FindByID(ctx context.Context, id string) (*domain.Circle, error) {
	query := `
		SELECT id, community_id, name, grace_period_days, grace_stage_after_days,
			final_warning_after_days, late_fee_config, default_policy,
			reveal_late_members, platform_fee_rate
		FROM circles
		WHERE id = $1
	`

	var circle domain.Circle
	var feeJSON []byte
	var policy string

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&circle.ID,
		&circle.CommunityID,
		&circle.Name,
		&circle.GracePeriodDays,
		&circle.GraceStageAfterDays,
		&circle.FinalWarningAfterDays,
		&feeJSON,
		&policy,
		&circle.RevealLateMembers,
		&circle.PlatformFeeRate,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrCircleNotFound
		}
		return nil, fmt.Errorf("failed to find circle: %w", err)
	}

	circle.DefaultPolicy = domain.DefaultPolicy(policy)
	if len(feeJSON) > 0 {
		var fee domain.LateFeeConfig
		if err := json.Unmarshal(feeJSON, &fee); err != nil {
			return nil, fmt.Errorf("failed to unmarshal late fee config: %w", err)
		}
		circle.LateFee = &fee
	}
	return &circle, nil
}

// FindCycle retrieves a cycle, including its payout recipient
func (r *PostgresCircleRepository) FindCycle(ctx context.Context, cycleID string) (*domain.Cycle, error) {
	query := `
		SELECT id, circle_id, payout_user_id, expected_amount, payout_date
		FROM cycles
		WHERE id = $1
	`

	var cycle domain.Cycle
	err := r.db.QueryRowContext(ctx, query, cycleID).Scan(
		&cycle.ID,
		&cycle.CircleID,
		&cycle.PayoutUserID,
		&cycle.ExpectedAmount,
		&cycle.PayoutDate,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrCircleNotFound
		}
		return nil, fmt.Errorf("failed to find cycle: %w", err)
	}
	return &cycle, nil
}

// ListActiveMemberIDs returns the user IDs of active circle members
func (r *PostgresCircleRepository) ListActiveMemberIDs(ctx context.Context, circleID string) ([]string, error) {
	query := `SELECT user_id FROM circle_members WHERE circle_id = $1 AND status = 'active'`
	return r.listIDs(ctx, query, circleID)
}

// ListGuarantorIDs returns the users who vouched for a member
func (r *PostgresCircleRepository) ListGuarantorIDs(ctx context.Context, userID, circleID string) ([]string, error) {
	query := `SELECT guarantor_user_id FROM guarantors WHERE vouched_user_id = $1 AND circle_id = $2 AND active = TRUE`
	return r.listIDs(ctx, query, userID, circleID)
}

// ListCommunityAdminIDs returns the admins of the circle's community
func (r *PostgresCircleRepository) ListCommunityAdminIDs(ctx context.Context, communityID string) ([]string, error) {
	query := `SELECT user_id FROM community_members WHERE community_id = $1 AND role = 'admin'`
	return r.listIDs(ctx, query, communityID)
}

// CommunityFeeConfig returns the community-wide default late fee
// configuration, or nil when none is configured
func (r *PostgresCircleRepository) CommunityFeeConfig(ctx context.Context, communityID string) (*domain.LateFeeConfig, error) {
	query := `SELECT late_fee_config FROM communities WHERE id = $1`

	var feeJSON []byte
	err := r.db.QueryRowContext(ctx, query, communityID).Scan(&feeJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load community fee config: %w", err)
	}
	if len(feeJSON) == 0 {
		return nil, nil
	}

	var fee domain.LateFeeConfig
	if err := json.Unmarshal(feeJSON, &fee); err != nil {
		return nil, fmt.Errorf("failed to unmarshal community fee config: %w", err)
	}
	return &fee, nil
}

func (r *PostgresCircleRepository) listIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ids: %w", err)
	}
	return ids, nil
}

// PostgresContributionRepository is the read-side view of scheduled
// contributions.
type PostgresContributionRepository struct {
	db *sql.DB
}

// NewPostgresContributionRepository creates a new PostgreSQL contribution
// repository
func NewPostgresContributionRepository(db *sql.DB) ports.ContributionRepository {
	return &PostgresContributionRepository{db: db}
}

// FindByID retrieves a contribution by its ID
func (r *PostgresContributionRepository) FindByID(ctx context.Context, id string) (*domain.Contribution, error) {
	query := `
		SELECT id, cycle_id, circle_id, user_id, expected_amount, paid_amount, due_date
		FROM contributions
		WHERE id = $1
	`

	var c domain.Contribution
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.CycleID,
		&c.CircleID,
		&c.UserID,
		&c.ExpectedAmount,
		&c.PaidAmount,
		&c.DueDate,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrContributionNotFound
		}
		return nil, fmt.Errorf("failed to find contribution: %w", err)
	}
	return &c, nil
}

// SumPaidByCycle totals completed payments for a cycle
func (r *PostgresContributionRepository) SumPaidByCycle(ctx context.Context, cycleID string) (float64, error) {
	query := `SELECT COALESCE(SUM(paid_amount), 0) FROM contributions WHERE cycle_id = $1`

	var total float64
	if err := r.db.QueryRowContext(ctx, query, cycleID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum cycle payments: %w", err)
	}
	return total, nil
}
