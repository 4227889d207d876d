package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arisanid/arisan/internal/ports"
)

// PostgresInboxSender delivers notifications into the in-app inbox
// table. Push delivery on top of the inbox is handled by a separate
// consumer outside this core.
type PostgresInboxSender struct {
	db *sql.DB
}

// NewPostgresInboxSender creates a new inbox-backed notification sender
func NewPostgresInboxSender(db *sql.DB) ports.NotificationSender {
	return &PostgresInboxSender{db: db}
}

// Send writes the notification into the recipient's inbox
func (s *PostgresInboxSender) Send(ctx context.Context, n *ports.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, type, title, body, priority, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var dataJSON []byte
	var err error
	if n.Data != nil {
		dataJSON, err = json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal notification data: %w", err)
		}
	}

	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Body,
		string(n.Priority),
		dataJSON,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	return nil
}

// PostgresRetryScheduler records auto-retry intent for the external
// payment retry service. This core never drives the retry loop itself.
type PostgresRetryScheduler struct {
	db *sql.DB
}

// NewPostgresRetryScheduler creates a new retry intent recorder
func NewPostgresRetryScheduler(db *sql.DB) ports.RetryScheduler {
	return &PostgresRetryScheduler{db: db}
}

// ScheduleRetry marks a contribution as retry-enabled
func (s *PostgresRetryScheduler) ScheduleRetry(ctx context.Context, contributionID string) error {
	query := `
		INSERT INTO payment_retries (contribution_id, enabled, updated_at)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (contribution_id)
		DO UPDATE SET enabled = TRUE, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, contributionID); err != nil {
		return fmt.Errorf("failed to schedule payment retry: %w", err)
	}
	return nil
}

// CancelRetries disables further retries for a contribution
func (s *PostgresRetryScheduler) CancelRetries(ctx context.Context, contributionID string) error {
	query := `UPDATE payment_retries SET enabled = FALSE, updated_at = NOW() WHERE contribution_id = $1`
	if _, err := s.db.ExecContext(ctx, query, contributionID); err != nil {
		return fmt.Errorf("failed to cancel payment retries: %w", err)
	}
	return nil
}
