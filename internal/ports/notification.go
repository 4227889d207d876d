package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NotificationPriority represents the urgency of a notification
type NotificationPriority string

const (
	NotificationPriorityNormal NotificationPriority = "normal"
	NotificationPriorityHigh   NotificationPriority = "high"
	NotificationPriorityUrgent NotificationPriority = "urgent"
)

// Notification is one message addressed to a single user.
type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Priority  NotificationPriority   `json:"priority"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewNotification creates a notification with a generated ID.
func NewNotification(userID, ntype, title, body string, priority NotificationPriority) *Notification {
	return &Notification{
		ID:       "notif_" + uuid.NewString(),
		UserID:   userID,
		Type:     ntype,
		Title:    title,
		Body:     body,
		Priority: priority,
		Data:     make(map[string]interface{}),
	}
}

// AddData attaches a structured payload field to the notification.
func (n *Notification) AddData(key string, value interface{}) {
	if n.Data == nil {
		n.Data = make(map[string]interface{})
	}
	n.Data[key] = value
}

// NotificationSender delivers notifications best-effort via push or the
// in-app inbox. Delivery failure must never fail the caller's state
// transition; callers log and move on.
type NotificationSender interface {
	Send(ctx context.Context, n *Notification) error
}

// SMSSender is the separate best-effort SMS channel, used only for the
// final warning stage.
type SMSSender interface {
	SendSMS(ctx context.Context, userID, message string) error
}

// ReminderThrottle decides whether a repeat reminder in the same
// category may be sent to a user, suppressing repeats inside the window.
type ReminderThrottle interface {
	Allow(ctx context.Context, userID, category string, window time.Duration) (bool, error)
}

// RetryScheduler is the external auto-retry payment scheduler. This core
// only records that retry is enabled; it never drives the retry loop.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, contributionID string) error
	CancelRetries(ctx context.Context, contributionID string) error
}

// Clock supplies the current time for all day-difference computations.
// Injectable so lifecycle tests are deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation of Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
