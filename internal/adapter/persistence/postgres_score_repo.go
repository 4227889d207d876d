package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arisanid/arisan/internal/domain"
	"github.com/arisanid/arisan/internal/ports"
)

// PostgresScoreRepository implements the append-only reputation ledger
// using PostgreSQL. Adjust runs in a transaction with a row lock so
// concurrent adjustments against the same user never lose an update.
type PostgresScoreRepository struct {
	db *sql.DB
}

// NewPostgresScoreRepository creates a new PostgreSQL score repository
func NewPostgresScoreRepository(db *sql.DB) ports.ScoreRepository {
	return &PostgresScoreRepository{db: db}
}

// Get returns the user's current score, or the default when none is
// recorded
func (r *PostgresScoreRepository) Get(ctx context.Context, userID string) (int, error) {
	query := `SELECT score FROM reputation_scores WHERE user_id = $1`

	var score int
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&score)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.ScoreDefault, nil
		}
		return 0, fmt.Errorf("failed to get score: %w", err)
	}
	return score, nil
}

// Adjust applies a clamped delta and appends a history entry
func (r *PostgresScoreRepository) Adjust(ctx context.Context, userID, reason string, delta int, metadata map[string]interface{}) (*domain.ScoreHistoryEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock (or create) the score row so the read-modify-write below is
	// serialized per user.
	before := domain.ScoreDefault
	err = tx.QueryRowContext(ctx,
		`SELECT score FROM reputation_scores WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&before)
	if err == sql.ErrNoRows {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO reputation_scores (user_id, score, updated_at) VALUES ($1, $2, NOW())
			 ON CONFLICT (user_id) DO NOTHING`,
			userID, domain.ScoreDefault,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to seed score row: %w", err)
		}
		err = tx.QueryRowContext(ctx,
			`SELECT score FROM reputation_scores WHERE user_id = $1 FOR UPDATE`,
			userID,
		).Scan(&before)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock score row: %w", err)
	}

	after := domain.ClampScore(before + delta)
	_, err = tx.ExecContext(ctx,
		`UPDATE reputation_scores SET score = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, after,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update score: %w", err)
	}

	entry := &domain.ScoreHistoryEntry{
		ID:        "shist_" + uuid.NewString(),
		UserID:    userID,
		Reason:    reason,
		Delta:     delta,
		Before:    before,
		After:     after,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}

	var metadataJSON []byte
	if metadata != nil {
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal score metadata: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO score_history (id, user_id, reason, delta, before_score, after_score, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.UserID, entry.Reason, entry.Delta, entry.Before, entry.After, metadataJSON, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append score history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit score adjustment: %w", err)
	}
	return entry, nil
}

// History returns the most recent adjustment entries for a user
func (r *PostgresScoreRepository) History(ctx context.Context, userID string, limit int) ([]*domain.ScoreHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, reason, delta, before_score, after_score, metadata, created_at
		FROM score_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query score history: %w", err)
	}
	defer rows.Close()

	var entries []*domain.ScoreHistoryEntry
	for rows.Next() {
		var entry domain.ScoreHistoryEntry
		var metadataJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Reason,
			&entry.Delta,
			&entry.Before,
			&entry.After,
			&metadataJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score history: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal score metadata: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating score history: %w", err)
	}
	return entries, nil
}
