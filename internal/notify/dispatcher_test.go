package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arisanid/arisan/internal/domain"
	"github.com/arisanid/arisan/internal/lateness"
	"github.com/arisanid/arisan/internal/ports"
	"github.com/arisanid/arisan/internal/service/logger"
)

type capturingSender struct {
	mu   sync.Mutex
	sent []*ports.Notification
	err  error
}

func (s *capturingSender) Send(ctx context.Context, n *ports.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *capturingSender) byType(ntype string) []*ports.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ports.Notification
	for _, n := range s.sent {
		if n.Type == ntype {
			out = append(out, n)
		}
	}
	return out
}

type capturingSMS struct {
	messages []string
	users    []string
}

func (s *capturingSMS) SendSMS(ctx context.Context, userID, message string) error {
	s.users = append(s.users, userID)
	s.messages = append(s.messages, message)
	return nil
}

type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time { return c.now }

func testRecord(status domain.LateStatus) *domain.LateContribution {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return &domain.LateContribution{
		ID:                "late1",
		ContributionID:    "contrib1",
		CycleID:           "cycle1",
		CircleID:          "circle1",
		UserID:            "user1",
		ExpectedAmount:    10000,
		OutstandingAmount: 10000,
		OriginalDueDate:   due,
		GraceEndsAt:       due.AddDate(0, 0, 7),
		DaysLate:          3,
		Status:            status,
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *capturingSender, *capturingSMS, *stubClock) {
	t.Helper()
	sender := &capturingSender{}
	sms := &capturingSMS{}
	clock := &stubClock{now: time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC)}
	d := NewDispatcher(sender, sms, NewMemoryThrottle(clock), logger.NewNop())
	return d, sender, sms, clock
}

func TestNotifyStage_Priorities(t *testing.T) {
	tests := []struct {
		status   domain.LateStatus
		priority ports.NotificationPriority
	}{
		{domain.LateStatusSoftLate, ports.NotificationPriorityNormal},
		{domain.LateStatusGracePeriod, ports.NotificationPriorityHigh},
		{domain.LateStatusFinalWarning, ports.NotificationPriorityUrgent},
		{domain.LateStatusDefaulted, ports.NotificationPriorityUrgent},
	}

	for _, tt := range tests {
		d, sender, _, _ := newTestDispatcher(t)
		d.NotifyStage(context.Background(), testRecord(tt.status), "Arisan RT 05")

		require.Len(t, sender.sent, 1, "stage %s", tt.status)
		assert.Equal(t, tt.priority, sender.sent[0].Priority, "stage %s", tt.status)
		assert.Equal(t, "user1", sender.sent[0].UserID)
	}
}

func TestNotifyStage_UnknownStatusIsSilent(t *testing.T) {
	d, sender, _, _ := newTestDispatcher(t)

	d.NotifyStage(context.Background(), testRecord(domain.LateStatusPaidLate), "Arisan RT 05")

	assert.Empty(t, sender.sent)
}

func TestNotifyStage_SMSOnlyAtFinalWarning(t *testing.T) {
	d, _, sms, _ := newTestDispatcher(t)
	ctx := context.Background()

	d.NotifyStage(ctx, testRecord(domain.LateStatusSoftLate), "Arisan RT 05")
	d.NotifyStage(ctx, testRecord(domain.LateStatusGracePeriod), "Arisan RT 05")
	assert.Empty(t, sms.messages)

	d.NotifyStage(ctx, testRecord(domain.LateStatusFinalWarning), "Arisan RT 05")
	require.Len(t, sms.messages, 1)
	assert.Equal(t, []string{"user1"}, sms.users)

	d.NotifyStage(ctx, testRecord(domain.LateStatusDefaulted), "Arisan RT 05")
	assert.Len(t, sms.messages, 1)
}

func TestNotifyStage_NilSMSSender(t *testing.T) {
	sender := &capturingSender{}
	clock := &stubClock{now: time.Now()}
	d := NewDispatcher(sender, nil, NewMemoryThrottle(clock), logger.NewNop())

	// must not panic without an SMS channel
	d.NotifyStage(context.Background(), testRecord(domain.LateStatusFinalWarning), "Arisan RT 05")

	assert.Len(t, sender.sent, 1)
}

func TestNotifyReminder_ThrottledInsideWindow(t *testing.T) {
	d, sender, _, clock := newTestDispatcher(t)
	ctx := context.Background()
	rec := testRecord(domain.LateStatusSoftLate)

	d.NotifyReminder(ctx, rec, "Arisan RT 05")
	d.NotifyReminder(ctx, rec, "Arisan RT 05")
	assert.Len(t, sender.sent, 1)

	// 19 hours later, still inside the window
	clock.now = clock.now.Add(19 * time.Hour)
	d.NotifyReminder(ctx, rec, "Arisan RT 05")
	assert.Len(t, sender.sent, 1)

	// past the window a new reminder goes out
	clock.now = clock.now.Add(2 * time.Hour)
	d.NotifyReminder(ctx, rec, "Arisan RT 05")
	assert.Len(t, sender.sent, 2)
}

func TestNotifyReminder_ThrottleIsPerUser(t *testing.T) {
	d, sender, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	recA := testRecord(domain.LateStatusSoftLate)
	recB := testRecord(domain.LateStatusSoftLate)
	recB.UserID = "user2"

	d.NotifyReminder(ctx, recA, "Arisan RT 05")
	d.NotifyReminder(ctx, recB, "Arisan RT 05")

	assert.Len(t, sender.sent, 2)
}

func TestNotifyCircle_AnonymizedByDefault(t *testing.T) {
	d, sender, _, _ := newTestDispatcher(t)
	members := []string{"user1", "user2", "user3"}

	d.NotifyCircle(context.Background(), members, 2, false, "user1", "Arisan RT 05")

	// the late member is skipped
	notices := sender.byType(TypeCircleLate)
	require.Len(t, notices, 2)
	for _, n := range notices {
		assert.NotEqual(t, "user1", n.UserID)
		assert.NotContains(t, n.Body, "user1")
		assert.Contains(t, n.Body, "2 member(s)")
		assert.Nil(t, n.Data["late_user_id"])
	}
}

func TestNotifyCircle_RevealWhenOptedIn(t *testing.T) {
	d, sender, _, _ := newTestDispatcher(t)

	d.NotifyCircle(context.Background(), []string{"user1", "user2"}, 1, true, "user1", "Arisan RT 05")

	notices := sender.byType(TypeCircleLate)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Body, "user1")
	assert.Equal(t, "user1", notices[0].Data["late_user_id"])
}

func TestNotifyRedistribution(t *testing.T) {
	d, sender, _, _ := newTestDispatcher(t)
	expires := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	responses := []*domain.RedistributionResponse{
		{ID: "rres1", UserID: "user2", ShareAmount: 2500, ExpiresAt: expires},
		{ID: "rres2", UserID: "user3", ShareAmount: 2500, ExpiresAt: expires},
	}

	d.NotifyRedistribution(context.Background(), responses, "Arisan RT 05")

	invites := sender.byType(TypeRedistribution)
	require.Len(t, invites, 2)
	assert.Equal(t, 2500.0, invites[0].Data["share_amount"])
}

func TestOfferPaymentPlan(t *testing.T) {
	d, sender, _, _ := newTestDispatcher(t)
	options := lateness.InstallmentOptions(10000, 1000)

	d.OfferPaymentPlan(context.Background(), testRecord(domain.LateStatusFinalWarning), options)

	offers := sender.byType(TypePaymentPlan)
	require.Len(t, offers, 1)
	assert.Equal(t, options, offers[0].Data["options"])
}

func TestOfferPaymentPlan_NoOptionsNoMessage(t *testing.T) {
	d, sender, _, _ := newTestDispatcher(t)

	d.OfferPaymentPlan(context.Background(), testRecord(domain.LateStatusFinalWarning), nil)

	assert.Empty(t, sender.sent)
}

func TestSendFailureIsSwallowed(t *testing.T) {
	sender := &capturingSender{err: errors.New("push gateway down")}
	clock := &stubClock{now: time.Now()}
	d := NewDispatcher(sender, nil, NewMemoryThrottle(clock), logger.NewNop())

	// none of these may panic or surface the error
	d.NotifyStage(context.Background(), testRecord(domain.LateStatusSoftLate), "Arisan RT 05")
	d.NotifyReducedPayout(context.Background(), "user5", 39200, 50000, "Arisan RT 05")
	d.NotifyRestriction(context.Background(), "user1")
}

func TestMemoryThrottle_SeparateCategories(t *testing.T) {
	clock := &stubClock{now: time.Now()}
	throttle := NewMemoryThrottle(clock)
	ctx := context.Background()

	ok, err := throttle.Allow(ctx, "user1", "late_reminder", ReminderWindow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = throttle.Allow(ctx, "user1", "late_reminder", ReminderWindow)
	assert.False(t, ok)

	// a different category has its own window
	ok, _ = throttle.Allow(ctx, "user1", "plan_reminder", ReminderWindow)
	assert.True(t, ok)
}
