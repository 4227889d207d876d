package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/arisanid/arisan/internal/domain"
	"github.com/arisanid/arisan/internal/lateness"
	"github.com/arisanid/arisan/internal/ports"
	"github.com/arisanid/arisan/internal/service/logger"
)

// ReminderWindow is the suppression window for repeat reminders of the
// same category to the same user.
const ReminderWindow = 20 * time.Hour

// Notification type tags carried on outgoing messages.
const (
	TypeLateStage      = "late_stage"
	TypeLateReminder   = "late_reminder"
	TypeCircleLate     = "circle_late"
	TypeGuarantorAlert = "guarantor_alert"
	TypeAdminAlert     = "admin_alert"
	TypeReducedPayout  = "reduced_payout"
	TypeRedistribution = "redistribution_request"
	TypePaymentPlan    = "payment_plan_offer"
	TypeResolution     = "late_resolved"
	TypeRestriction    = "restriction_applied"
)

type stageTemplate struct {
	title    string
	body     string // format: amount, circle name
	priority ports.NotificationPriority
}

// stageTemplates maps lifecycle stages to message templates with
// increasing urgency.
var stageTemplates = map[domain.LateStatus]stageTemplate{
	domain.LateStatusSoftLate: {
		title:    "Contribution overdue",
		body:     "Your contribution of %.2f to %s is overdue. Please pay as soon as you can.",
		priority: ports.NotificationPriorityNormal,
	},
	domain.LateStatusGracePeriod: {
		title:    "Grace period started",
		body:     "Your contribution of %.2f to %s is now in its grace period. A late fee may apply.",
		priority: ports.NotificationPriorityHigh,
	},
	domain.LateStatusFinalWarning: {
		title:    "Final warning",
		body:     "Final warning: your contribution of %.2f to %s must be paid before the grace period ends to avoid default.",
		priority: ports.NotificationPriorityUrgent,
	},
	domain.LateStatusDefaulted: {
		title:    "Contribution defaulted",
		body:     "Your contribution of %.2f to %s has defaulted. This affects your reputation score and may restrict future circles.",
		priority: ports.NotificationPriorityUrgent,
	},
}

// Dispatcher composes stage-aware messages and routes them to the right
// audiences. Every send is best-effort: failures are logged, never
// returned to the caller.
type Dispatcher struct {
	sender   ports.NotificationSender
	sms      ports.SMSSender
	throttle ports.ReminderThrottle
	log      logger.Logger
}

// NewDispatcher creates a dispatcher. sms may be nil when no SMS channel
// is configured.
func NewDispatcher(sender ports.NotificationSender, sms ports.SMSSender, throttle ports.ReminderThrottle, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		sms:      sms,
		throttle: throttle,
		log:      log,
	}
}

// NotifyStage sends the member the stage-entry message for rec's status.
func (d *Dispatcher) NotifyStage(ctx context.Context, rec *domain.LateContribution, circleName string) {
	tpl, ok := stageTemplates[rec.Status]
	if !ok {
		return
	}
	n := ports.NewNotification(
		rec.UserID,
		TypeLateStage,
		tpl.title,
		fmt.Sprintf(tpl.body, rec.OutstandingAmount, circleName),
		tpl.priority,
	)
	n.AddData("late_contribution_id", rec.ID)
	n.AddData("status", string(rec.Status))
	n.AddData("outstanding_amount", rec.OutstandingAmount)
	n.AddData("days_late", rec.DaysLate)
	d.send(ctx, n)

	// SMS only on the final warning, as a separate best-effort channel.
	if rec.Status == domain.LateStatusFinalWarning && d.sms != nil {
		msg := fmt.Sprintf("Final warning: pay %.2f to %s before %s to avoid default.",
			rec.OutstandingAmount, circleName, rec.GraceEndsAt.Format("2 Jan"))
		if err := d.sms.SendSMS(ctx, rec.UserID, msg); err != nil {
			d.log.Warn(ctx, "SMS delivery failed", map[string]interface{}{
				"user_id": rec.UserID,
				"error":   err.Error(),
			})
		}
	}
}

// NotifyReminder sends at most one generic reminder per window per user.
func (d *Dispatcher) NotifyReminder(ctx context.Context, rec *domain.LateContribution, circleName string) {
	allowed, err := d.throttle.Allow(ctx, rec.UserID, TypeLateReminder, ReminderWindow)
	if err != nil {
		d.log.Warn(ctx, "Reminder throttle check failed", map[string]interface{}{
			"user_id": rec.UserID,
			"error":   err.Error(),
		})
		return
	}
	if !allowed {
		return
	}
	n := ports.NewNotification(
		rec.UserID,
		TypeLateReminder,
		"Payment reminder",
		fmt.Sprintf("Reminder: %.2f is still outstanding on your contribution to %s (%d days late).",
			rec.OutstandingAmount, circleName, rec.DaysLate),
		ports.NotificationPriorityNormal,
	)
	n.AddData("late_contribution_id", rec.ID)
	d.send(ctx, n)
}

// NotifyCircle informs circle members about lateness in the current
// cycle. Anonymized by default; identities only when the circle opts in.
func (d *Dispatcher) NotifyCircle(ctx context.Context, memberIDs []string, lateCount int, reveal bool, lateUserID, circleName string) {
	for _, memberID := range memberIDs {
		if memberID == lateUserID {
			continue
		}
		var body string
		if reveal {
			body = fmt.Sprintf("A member of %s (user %s) is late with their contribution this cycle.", circleName, lateUserID)
		} else {
			body = fmt.Sprintf("%d member(s) of %s are late with their contribution this cycle.", lateCount, circleName)
		}
		n := ports.NewNotification(memberID, TypeCircleLate, "Late contribution in your circle", body, ports.NotificationPriorityNormal)
		if reveal {
			n.AddData("late_user_id", lateUserID)
		}
		n.AddData("late_count", lateCount)
		d.send(ctx, n)
	}
}

// NotifyGuarantors alerts the users who vouched for the late member.
// Sent only at final warning and default.
func (d *Dispatcher) NotifyGuarantors(ctx context.Context, guarantorIDs []string, rec *domain.LateContribution, circleName string) {
	for _, gid := range guarantorIDs {
		n := ports.NewNotification(
			gid,
			TypeGuarantorAlert,
			"A member you vouched for is at risk",
			fmt.Sprintf("A member you vouched for in %s has an outstanding contribution of %.2f and is at risk of default.",
				circleName, rec.OutstandingAmount),
			ports.NotificationPriorityHigh,
		)
		n.AddData("late_contribution_id", rec.ID)
		d.send(ctx, n)
	}
}

// NotifyCommunityAdmins alerts community admins. Sent only on default.
func (d *Dispatcher) NotifyCommunityAdmins(ctx context.Context, adminIDs []string, md *domain.MemberDefault, circleName string) {
	for _, aid := range adminIDs {
		n := ports.NewNotification(
			aid,
			TypeAdminAlert,
			"Member default in your community",
			fmt.Sprintf("A member of %s defaulted on a contribution of %.2f.", circleName, md.DefaultedAmount),
			ports.NotificationPriorityUrgent,
		)
		n.AddData("member_default_id", md.ID)
		n.AddData("circle_id", md.CircleID)
		d.send(ctx, n)
	}
}

// NotifyReducedPayout tells the payout recipient their payout is smaller
// than the full expected amount.
func (d *Dispatcher) NotifyReducedPayout(ctx context.Context, recipientID string, adjusted, expected float64, circleName string) {
	n := ports.NewNotification(
		recipientID,
		TypeReducedPayout,
		"Your payout will be reduced",
		fmt.Sprintf("Due to a default in %s, your payout this cycle is %.2f instead of the expected %.2f.",
			circleName, adjusted, expected),
		ports.NotificationPriorityHigh,
	)
	n.AddData("adjusted_amount", adjusted)
	n.AddData("expected_amount", expected)
	d.send(ctx, n)
}

// NotifyRedistribution invites each remaining member to voluntarily
// cover an equal share of the shortfall.
func (d *Dispatcher) NotifyRedistribution(ctx context.Context, responses []*domain.RedistributionResponse, circleName string) {
	for _, resp := range responses {
		n := ports.NewNotification(
			resp.UserID,
			TypeRedistribution,
			"Voluntary cover request",
			fmt.Sprintf("A member of %s defaulted. You can voluntarily cover %.2f of the shortfall. This request expires %s.",
				circleName, resp.ShareAmount, resp.ExpiresAt.Format("2 Jan 15:04")),
			ports.NotificationPriorityHigh,
		)
		n.AddData("redistribution_response_id", resp.ID)
		n.AddData("share_amount", resp.ShareAmount)
		n.AddData("expires_at", resp.ExpiresAt)
		d.send(ctx, n)
	}
}

// OfferPaymentPlan presents installment options to the late member.
func (d *Dispatcher) OfferPaymentPlan(ctx context.Context, rec *domain.LateContribution, options []lateness.InstallmentOption) {
	if len(options) == 0 {
		return
	}
	n := ports.NewNotification(
		rec.UserID,
		TypePaymentPlan,
		"Payment plan available",
		fmt.Sprintf("You can split your outstanding %.2f into installments. Open the app to choose a plan.", rec.OutstandingAmount),
		ports.NotificationPriorityHigh,
	)
	n.AddData("late_contribution_id", rec.ID)
	n.AddData("options", options)
	d.send(ctx, n)
}

// NotifyResolution confirms a resolved late contribution to the member.
func (d *Dispatcher) NotifyResolution(ctx context.Context, rec *domain.LateContribution, circleName string) {
	n := ports.NewNotification(
		rec.UserID,
		TypeResolution,
		"Late contribution resolved",
		fmt.Sprintf("Your late contribution to %s has been resolved (%s). Thank you.", circleName, rec.Status),
		ports.NotificationPriorityNormal,
	)
	n.AddData("late_contribution_id", rec.ID)
	n.AddData("resolution", rec.ResolutionNotes)
	d.send(ctx, n)
}

// NotifyRestriction tells a user they can no longer join circles.
func (d *Dispatcher) NotifyRestriction(ctx context.Context, userID string) {
	n := ports.NewNotification(
		userID,
		TypeRestriction,
		"Account restricted",
		"Because of an unresolved default, you cannot join new circles until it is resolved.",
		ports.NotificationPriorityUrgent,
	)
	d.send(ctx, n)
}

// send delivers best-effort; a failed send is logged and swallowed so it
// never fails the surrounding state transition.
func (d *Dispatcher) send(ctx context.Context, n *ports.Notification) {
	if err := d.sender.Send(ctx, n); err != nil {
		d.log.Warn(ctx, "Notification delivery failed", map[string]interface{}{
			"user_id": n.UserID,
			"type":    n.Type,
			"error":   err.Error(),
		})
	}
}
