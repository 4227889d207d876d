package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arisanid/arisan/internal/domain"
	"github.com/arisanid/arisan/internal/ports"
)

// PostgresReserveFundRepository implements ReserveFundRepository using
// PostgreSQL. Withdraw is a single conditional UPDATE so two defaults
// racing for the same fund cannot overdraw it.
type PostgresReserveFundRepository struct {
	db *sql.DB
}

// NewPostgresReserveFundRepository creates a new PostgreSQL reserve fund
// repository
func NewPostgresReserveFundRepository(db *sql.DB) ports.ReserveFundRepository {
	return &PostgresReserveFundRepository{db: db}
}

// FindByCommunity retrieves a community's reserve fund. Returns
// (nil, nil) when the community has none.
func (r *PostgresReserveFundRepository) FindByCommunity(ctx context.Context, communityID string) (*domain.ReserveFund, error) {
	query := `
		SELECT id, community_id, balance, max_coverage_rate, updated_at
		FROM reserve_funds
		WHERE community_id = $1
	`

	var fund domain.ReserveFund
	err := r.db.QueryRowContext(ctx, query, communityID).Scan(
		&fund.ID,
		&fund.CommunityID,
		&fund.Balance,
		&fund.MaxCoverageRate,
		&fund.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find reserve fund: %w", err)
	}
	return &fund, nil
}

// Withdraw atomically decrements the balance if and only if the current
// balance covers the amount and the amount is within the fund's maximum
// coverage fraction. Both guards live in the UPDATE predicate so two
// racing withdrawals cannot both pass a cap computed from a stale read.
func (r *PostgresReserveFundRepository) Withdraw(ctx context.Context, fundID string, amount float64) (bool, error) {
	query := `
		UPDATE reserve_funds
		SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2 AND balance * max_coverage_rate >= $2
	`

	result, err := r.db.ExecContext(ctx, query, fundID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to withdraw from reserve fund: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}
