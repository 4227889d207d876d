package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arisanid/arisan/internal/domain"
	"github.com/arisanid/arisan/internal/ports"
)

// PostgresMemberDefaultRepository implements MemberDefaultRepository
// using PostgreSQL.
type PostgresMemberDefaultRepository struct {
	db *sql.DB
}

// NewPostgresMemberDefaultRepository creates a new PostgreSQL member
// default repository
func NewPostgresMemberDefaultRepository(db *sql.DB) ports.MemberDefaultRepository {
	return &PostgresMemberDefaultRepository{db: db}
}

// Create saves a new member default
func (r *PostgresMemberDefaultRepository) Create(ctx context.Context, md *domain.MemberDefault) error {
	query := `
		INSERT INTO member_defaults (id, late_contribution_id, contribution_id, user_id,
			cycle_id, circle_id, community_id, defaulted_amount, late_fee_amount,
			resolved, resolution_notes, resolved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		md.ID,
		md.LateContributionID,
		md.ContributionID,
		md.UserID,
		md.CycleID,
		md.CircleID,
		md.CommunityID,
		md.DefaultedAmount,
		md.LateFeeAmount,
		md.Resolved,
		md.ResolutionNotes,
		md.ResolvedAt,
		md.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create member default: %w", err)
	}
	return nil
}

// FindByLateContributionID retrieves the default created for a record.
// Returns (nil, nil) when none exists.
func (r *PostgresMemberDefaultRepository) FindByLateContributionID(ctx context.Context, lateContributionID string) (*domain.MemberDefault, error) {
	query := `
		SELECT id, late_contribution_id, contribution_id, user_id, cycle_id, circle_id,
			community_id, defaulted_amount, late_fee_amount, resolved, resolution_notes,
			resolved_at, created_at
		FROM member_defaults
		WHERE late_contribution_id = $1
	`

	var md domain.MemberDefault
	var notes sql.NullString
	var resolvedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, lateContributionID).Scan(
		&md.ID,
		&md.LateContributionID,
		&md.ContributionID,
		&md.UserID,
		&md.CycleID,
		&md.CircleID,
		&md.CommunityID,
		&md.DefaultedAmount,
		&md.LateFeeAmount,
		&md.Resolved,
		&notes,
		&resolvedAt,
		&md.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find member default: %w", err)
	}

	if notes.Valid {
		md.ResolutionNotes = notes.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		md.ResolvedAt = &t
	}
	return &md, nil
}

// CountUnresolvedByUser counts a user's open defaults
func (r *PostgresMemberDefaultRepository) CountUnresolvedByUser(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM member_defaults WHERE user_id = $1 AND resolved = FALSE`

	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unresolved defaults: %w", err)
	}
	return count, nil
}

// PostgresRestrictionRepository implements RestrictionRepository using
// PostgreSQL, keyed by (user_id, type).
type PostgresRestrictionRepository struct {
	db *sql.DB
}

// NewPostgresRestrictionRepository creates a new PostgreSQL restriction
// repository
func NewPostgresRestrictionRepository(db *sql.DB) ports.RestrictionRepository {
	return &PostgresRestrictionRepository{db: db}
}

// Upsert creates the restriction or refreshes an existing one
func (r *PostgresRestrictionRepository) Upsert(ctx context.Context, restriction *domain.Restriction) error {
	query := `
		INSERT INTO restrictions (id, user_id, type, reason, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, type)
		DO UPDATE SET reason = EXCLUDED.reason, active = EXCLUDED.active, updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		restriction.ID,
		restriction.UserID,
		string(restriction.Type),
		restriction.Reason,
		restriction.Active,
		restriction.CreatedAt,
		restriction.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert restriction: %w", err)
	}
	return nil
}

// IsRestricted reports whether an active restriction of the given type
// exists for the user
func (r *PostgresRestrictionRepository) IsRestricted(ctx context.Context, userID string, rtype domain.RestrictionType) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM restrictions WHERE user_id = $1 AND type = $2 AND active = TRUE)`

	var restricted bool
	if err := r.db.QueryRowContext(ctx, query, userID, string(rtype)).Scan(&restricted); err != nil {
		return false, fmt.Errorf("failed to check restriction: %w", err)
	}
	return restricted, nil
}
