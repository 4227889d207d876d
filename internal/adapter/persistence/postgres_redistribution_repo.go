package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arisanid/arisan/internal/domain"
	"github.com/arisanid/arisan/internal/ports"
)

// PostgresRedistributionRepository implements RedistributionRepository
// using PostgreSQL. Request and responses are written in one transaction.
type PostgresRedistributionRepository struct {
	db *sql.DB
}

// NewPostgresRedistributionRepository creates a new PostgreSQL
// redistribution repository
func NewPostgresRedistributionRepository(db *sql.DB) ports.RedistributionRepository {
	return &PostgresRedistributionRepository{db: db}
}

// CreateRequest saves a request together with its responses
func (r *PostgresRedistributionRepository) CreateRequest(ctx context.Context, req *domain.RedistributionRequest, responses []*domain.RedistributionResponse) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	requestQuery := `
		INSERT INTO redistribution_requests (id, member_default_id, circle_id,
			shortfall_amount, share_amount, member_count, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.ExecContext(ctx, requestQuery,
		req.ID,
		req.MemberDefaultID,
		req.CircleID,
		req.ShortfallAmount,
		req.ShareAmount,
		req.MemberCount,
		string(req.Status),
		req.ExpiresAt,
		req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create redistribution request: %w", err)
	}

	responseQuery := `
		INSERT INTO redistribution_responses (id, request_id, user_id, share_amount,
			status, responded_at, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, resp := range responses {
		_, err = tx.ExecContext(ctx, responseQuery,
			resp.ID,
			resp.RequestID,
			resp.UserID,
			resp.ShareAmount,
			string(resp.Status),
			resp.RespondedAt,
			resp.ExpiresAt,
			resp.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create redistribution response: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit redistribution request: %w", err)
	}
	return nil
}

// ExpireRequest marks a past-expiry request and its still-pending
// responses as expired, returning the number of responses touched
func (r *PostgresRedistributionRepository) ExpireRequest(ctx context.Context, requestID string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE redistribution_responses SET status = $1 WHERE request_id = $2 AND status = $3`,
		string(domain.RedistributionExpired), requestID, string(domain.RedistributionPending),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire redistribution responses: %w", err)
	}
	touched, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE redistribution_requests SET status = $1 WHERE id = $2 AND status = $3`,
		string(domain.RedistributionExpired), requestID, string(domain.RedistributionPending),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire redistribution request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit expiry: %w", err)
	}
	return int(touched), nil
}

// ListExpiredPending returns pending requests whose expiry has passed
func (r *PostgresRedistributionRepository) ListExpiredPending(ctx context.Context) ([]*domain.RedistributionRequest, error) {
	query := `
		SELECT id, member_default_id, circle_id, shortfall_amount, share_amount,
			member_count, status, expires_at, created_at
		FROM redistribution_requests
		WHERE status = $1 AND expires_at < NOW()
	`

	rows, err := r.db.QueryContext(ctx, query, string(domain.RedistributionPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query expired redistributions: %w", err)
	}
	defer rows.Close()

	var requests []*domain.RedistributionRequest
	for rows.Next() {
		var req domain.RedistributionRequest
		var status string
		err := rows.Scan(
			&req.ID,
			&req.MemberDefaultID,
			&req.CircleID,
			&req.ShortfallAmount,
			&req.ShareAmount,
			&req.MemberCount,
			&status,
			&req.ExpiresAt,
			&req.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan redistribution request: %w", err)
		}
		req.Status = domain.RedistributionStatus(status)
		requests = append(requests, &req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating redistribution requests: %w", err)
	}
	return requests, nil
}
