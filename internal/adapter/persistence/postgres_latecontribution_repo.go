package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/arisanid/arisan/internal/domain"
	"github.com/arisanid/arisan/internal/ports"
)

// PostgresLateContributionRepository implements LateContributionRepository
// using PostgreSQL. The stage timestamp map and the reputation audit list
// are stored as JSONB alongside the scalar columns.
type PostgresLateContributionRepository struct {
	db *sql.DB
}

// NewPostgresLateContributionRepository creates a new PostgreSQL late
// contribution repository
func NewPostgresLateContributionRepository(db *sql.DB) ports.LateContributionRepository {
	return &PostgresLateContributionRepository{db: db}
}

const lateContributionColumns = `
	id, contribution_id, cycle_id, circle_id, user_id,
	expected_amount, paid_amount, outstanding_amount, late_fee_amount,
	original_due_date, grace_ends_at, days_late, status,
	stage_timestamps, score_adjustments,
	resolution_type, resolution_notes, resolved_at,
	payment_plan_id, auto_retry_enabled, created_at, updated_at`

// Create saves a new late contribution record
func (r *PostgresLateContributionRepository) Create(ctx context.Context, rec *domain.LateContribution) error {
	query := `
		INSERT INTO late_contributions (` + lateContributionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	stagesJSON, adjustmentsJSON, err := marshalRecordJSON(rec)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		rec.ContributionID,
		rec.CycleID,
		rec.CircleID,
		rec.UserID,
		rec.ExpectedAmount,
		rec.PaidAmount,
		rec.OutstandingAmount,
		rec.LateFeeAmount,
		rec.OriginalDueDate,
		rec.GraceEndsAt,
		rec.DaysLate,
		string(rec.Status),
		stagesJSON,
		adjustmentsJSON,
		resolutionTypeValue(rec),
		rec.ResolutionNotes,
		rec.ResolvedAt,
		rec.PaymentPlanID,
		rec.AutoRetryEnabled,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create late contribution: %w", err)
	}
	return nil
}

// FindByID retrieves a record by its ID
func (r *PostgresLateContributionRepository) FindByID(ctx context.Context, id string) (*domain.LateContribution, error) {
	query := `SELECT ` + lateContributionColumns + ` FROM late_contributions WHERE id = $1`

	rec, err := scanLateContribution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrLateContributionNotFound
		}
		return nil, fmt.Errorf("failed to find late contribution: %w", err)
	}
	return rec, nil
}

// FindByContributionID retrieves the record tracking a contribution.
// Returns (nil, nil) when no record exists.
func (r *PostgresLateContributionRepository) FindByContributionID(ctx context.Context, contributionID string) (*domain.LateContribution, error) {
	query := `SELECT ` + lateContributionColumns + ` FROM late_contributions WHERE contribution_id = $1`

	rec, err := scanLateContribution(r.db.QueryRowContext(ctx, query, contributionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find late contribution by contribution: %w", err)
	}
	return rec, nil
}

// Update persists changes to an existing record
func (r *PostgresLateContributionRepository) Update(ctx context.Context, rec *domain.LateContribution) error {
	query := `
		UPDATE late_contributions
		SET paid_amount = $2, outstanding_amount = $3, late_fee_amount = $4,
			days_late = $5, status = $6, stage_timestamps = $7, score_adjustments = $8,
			resolution_type = $9, resolution_notes = $10, resolved_at = $11,
			payment_plan_id = $12, auto_retry_enabled = $13, updated_at = $14
		WHERE id = $1
	`

	stagesJSON, adjustmentsJSON, err := marshalRecordJSON(rec)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.PaidAmount,
		rec.OutstandingAmount,
		rec.LateFeeAmount,
		rec.DaysLate,
		string(rec.Status),
		stagesJSON,
		adjustmentsJSON,
		resolutionTypeValue(rec),
		rec.ResolutionNotes,
		rec.ResolvedAt,
		rec.PaymentPlanID,
		rec.AutoRetryEnabled,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update late contribution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrLateContributionNotFound
	}
	return nil
}

// ListOpen retrieves every non-terminal record for the sweep
func (r *PostgresLateContributionRepository) ListOpen(ctx context.Context) ([]*domain.LateContribution, error) {
	query := `
		SELECT ` + lateContributionColumns + `
		FROM late_contributions
		WHERE status IN ($1, $2, $3, $4)
		ORDER BY original_due_date ASC
	`

	rows, err := r.db.QueryContext(ctx, query,
		string(domain.LateStatusSoftLate),
		string(domain.LateStatusGracePeriod),
		string(domain.LateStatusFinalWarning),
		string(domain.LateStatusPaymentPlan),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query open late contributions: %w", err)
	}
	defer rows.Close()

	var records []*domain.LateContribution
	for rows.Next() {
		rec, err := scanLateContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan late contribution: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating late contributions: %w", err)
	}
	return records, nil
}

// CountOpenByCycle returns how many members are currently late in a cycle
func (r *PostgresLateContributionRepository) CountOpenByCycle(ctx context.Context, cycleID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM late_contributions
		WHERE cycle_id = $1 AND status IN ($2, $3, $4, $5)
	`

	var count int
	err := r.db.QueryRowContext(ctx, query,
		cycleID,
		string(domain.LateStatusSoftLate),
		string(domain.LateStatusGracePeriod),
		string(domain.LateStatusFinalWarning),
		string(domain.LateStatusPaymentPlan),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open late contributions: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLateContribution(row rowScanner) (*domain.LateContribution, error) {
	var rec domain.LateContribution
	var status string
	var stagesJSON, adjustmentsJSON []byte
	var resolutionType, paymentPlanID sql.NullString
	var resolutionNotes sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.ContributionID,
		&rec.CycleID,
		&rec.CircleID,
		&rec.UserID,
		&rec.ExpectedAmount,
		&rec.PaidAmount,
		&rec.OutstandingAmount,
		&rec.LateFeeAmount,
		&rec.OriginalDueDate,
		&rec.GraceEndsAt,
		&rec.DaysLate,
		&status,
		&stagesJSON,
		&adjustmentsJSON,
		&resolutionType,
		&resolutionNotes,
		&resolvedAt,
		&paymentPlanID,
		&rec.AutoRetryEnabled,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = domain.LateStatus(status)
	if len(stagesJSON) > 0 {
		if err := json.Unmarshal(stagesJSON, &rec.StageTimestamps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage timestamps: %w", err)
		}
	}
	if len(adjustmentsJSON) > 0 {
		if err := json.Unmarshal(adjustmentsJSON, &rec.ScoreAdjustments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal score adjustments: %w", err)
		}
	}
	if resolutionType.Valid {
		rt := domain.ResolutionType(resolutionType.String)
		rec.ResolutionType = &rt
	}
	if resolutionNotes.Valid {
		rec.ResolutionNotes = resolutionNotes.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		rec.ResolvedAt = &t
	}
	if paymentPlanID.Valid {
		rec.PaymentPlanID = &paymentPlanID.String
	}
	return &rec, nil
}

func marshalRecordJSON(rec *domain.LateContribution) ([]byte, []byte, error) {
	stagesJSON, err := json.Marshal(rec.StageTimestamps)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal stage timestamps: %w", err)
	}
	adjustmentsJSON, err := json.Marshal(rec.ScoreAdjustments)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal score adjustments: %w", err)
	}
	return stagesJSON, adjustmentsJSON, nil
}

func resolutionTypeValue(rec *domain.LateContribution) interface{} {
	if rec.ResolutionType == nil {
		return nil
	}
	return string(*rec.ResolutionType)
}
