package domain

import (
	"testing"
	"time"
)

func testContribution() *Contribution {
	return &Contribution{
		ID:             "contrib1",
		CycleID:        "cycle1",
		CircleID:       "circle1",
		UserID:         "user1",
		ExpectedAmount: 10000,
		PaidAmount:     0,
		DueDate:        time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewLateContribution(t *testing.T) {
	c := testContribution()
	now := c.DueDate.AddDate(0, 0, 1)

	rec := NewLateContribution(c, 7, now)

	if rec.ContributionID != c.ID {
		t.Errorf("Expected contribution ID %s, got %s", c.ID, rec.ContributionID)
	}

	if rec.Status != LateStatusSoftLate {
		t.Errorf("Expected status %s, got %s", LateStatusSoftLate, rec.Status)
	}

	if rec.OutstandingAmount != 10000 {
		t.Errorf("Expected outstanding 10000, got %f", rec.OutstandingAmount)
	}

	expectedGraceEnd := c.DueDate.AddDate(0, 0, 7)
	if !rec.GraceEndsAt.Equal(expectedGraceEnd) {
		t.Errorf("Expected grace end %v, got %v", expectedGraceEnd, rec.GraceEndsAt)
	}

	if rec.DaysLate != 1 {
		t.Errorf("Expected 1 day late, got %d", rec.DaysLate)
	}

	if !rec.StageEntered(LateStatusSoftLate) {
		t.Error("Expected soft_late stage to be stamped on creation")
	}
}

func TestNewLateContributionPartialPayment(t *testing.T) {
	c := testContribution()
	c.PaidAmount = 4000

	rec := NewLateContribution(c, 7, c.DueDate.AddDate(0, 0, 1))

	if rec.OutstandingAmount != 6000 {
		t.Errorf("Expected outstanding 6000, got %f", rec.OutstandingAmount)
	}
}

func TestLateContribution_EnterStage(t *testing.T) {
	c := testContribution()
	rec := NewLateContribution(c, 7, c.DueDate.AddDate(0, 0, 1))
	at := c.DueDate.AddDate(0, 0, 3)

	err := rec.EnterStage(LateStatusGracePeriod, at)
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	if rec.Status != LateStatusGracePeriod {
		t.Errorf("Expected status %s, got %s", LateStatusGracePeriod, rec.Status)
	}

	if !rec.StageEntered(LateStatusGracePeriod) {
		t.Error("Expected grace_period stage to be stamped")
	}
}

func TestLateContribution_EnterStageTwice(t *testing.T) {
	c := testContribution()
	rec := NewLateContribution(c, 7, c.DueDate.AddDate(0, 0, 1))
	at := c.DueDate.AddDate(0, 0, 3)

	if err := rec.EnterStage(LateStatusGracePeriod, at); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	stamp := rec.StageTimestamps[LateStatusGracePeriod]

	err := rec.EnterStage(LateStatusGracePeriod, at.Add(time.Hour))
	if err != ErrStageAlreadyEntered {
		t.Errorf("Expected ErrStageAlreadyEntered, got %v", err)
	}

	if !rec.StageTimestamps[LateStatusGracePeriod].Equal(stamp) {
		t.Error("Stage timestamp must not be overwritten")
	}
}

func TestLateContribution_RecomputeDaysLate(t *testing.T) {
	c := testContribution()
	rec := NewLateContribution(c, 7, c.DueDate.AddDate(0, 0, 4))

	if rec.DaysLate != 4 {
		t.Fatalf("Expected 4 days late, got %d", rec.DaysLate)
	}

	// moving forward increases the counter
	if !rec.RecomputeDaysLate(c.DueDate.AddDate(0, 0, 6)) {
		t.Error("Expected days late to change")
	}
	if rec.DaysLate != 6 {
		t.Errorf("Expected 6 days late, got %d", rec.DaysLate)
	}

	// an earlier clock never decreases it
	if rec.RecomputeDaysLate(c.DueDate.AddDate(0, 0, 2)) {
		t.Error("Days late must not decrease")
	}
	if rec.DaysLate != 6 {
		t.Errorf("Expected days late to stay 6, got %d", rec.DaysLate)
	}
}

func TestLateContribution_ApplyLateFee(t *testing.T) {
	c := testContribution()
	rec := NewLateContribution(c, 7, c.DueDate.AddDate(0, 0, 1))

	rec.ApplyLateFee(500, c.DueDate.AddDate(0, 0, 3))

	if rec.LateFeeAmount != 500 {
		t.Errorf("Expected fee 500, got %f", rec.LateFeeAmount)
	}
	if rec.OutstandingAmount != 10500 {
		t.Errorf("Expected outstanding 10500, got %f", rec.OutstandingAmount)
	}
}

func TestLateContribution_RecordPayment(t *testing.T) {
	c := testContribution()
	rec := NewLateContribution(c, 7, c.DueDate.AddDate(0, 0, 1))
	rec.ApplyLateFee(500, c.DueDate.AddDate(0, 0, 3))

	rec.RecordPayment(10500, c.DueDate.AddDate(0, 0, 4))

	if rec.OutstandingAmount != 0 {
		t.Errorf("Expected outstanding 0, got %f", rec.OutstandingAmount)
	}

	// overpayment clamps at zero
	rec.RecordPayment(20000, c.DueDate.AddDate(0, 0, 5))
	if rec.OutstandingAmount != 0 {
		t.Errorf("Expected outstanding clamped at 0, got %f", rec.OutstandingAmount)
	}
}

func TestLateContribution_ScoreAdjustments(t *testing.T) {
	c := testContribution()
	rec := NewLateContribution(c, 7, c.DueDate.AddDate(0, 0, 1))
	at := c.DueDate.AddDate(0, 0, 1)

	if rec.HasScoreReason("late_soft") {
		t.Error("Expected no adjustments on a fresh record")
	}

	rec.AppendScoreAdjustment("late_soft", -3, at)
	rec.AppendScoreAdjustment("late_grace", -5, at)

	if !rec.HasScoreReason("late_soft") {
		t.Error("Expected late_soft adjustment to be recorded")
	}
	if rec.TotalScoreImpact() != -8 {
		t.Errorf("Expected total impact -8, got %d", rec.TotalScoreImpact())
	}
}

func TestLateContribution_Resolve(t *testing.T) {
	c := testContribution()
	rec := NewLateContribution(c, 7, c.DueDate.AddDate(0, 0, 1))
	at := c.DueDate.AddDate(0, 0, 3)

	err := rec.Resolve(ResolutionPaidInFull, "paid via transfer", at)
	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	if rec.Status != LateStatusPaidLate {
		t.Errorf("Expected status %s, got %s", LateStatusPaidLate, rec.Status)
	}
	if rec.ResolvedAt == nil || !rec.ResolvedAt.Equal(at) {
		t.Error("Expected ResolvedAt to be set")
	}
	if !rec.IsResolved() {
		t.Error("Expected record to be resolved")
	}
	if rec.IsOpen() {
		t.Error("Resolved record must not be open")
	}
}

func TestLateContribution_ResolveTwice(t *testing.T) {
	c := testContribution()
	rec := NewLateContribution(c, 7, c.DueDate.AddDate(0, 0, 1))
	at := c.DueDate.AddDate(0, 0, 3)

	if err := rec.Resolve(ResolutionForgiven, "", at); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	err := rec.Resolve(ResolutionPaidInFull, "", at.Add(time.Hour))
	if err != ErrAlreadyResolved {
		t.Errorf("Expected ErrAlreadyResolved, got %v", err)
	}
}

func TestResolutionTerminalStatus(t *testing.T) {
	tests := []struct {
		resolution ResolutionType
		expected   LateStatus
	}{
		{ResolutionPaidInFull, LateStatusPaidLate},
		{ResolutionPaidViaPlan, LateStatusPaidLate},
		{ResolutionCoveredByReserve, LateStatusCovered},
		{ResolutionCoveredByMembers, LateStatusCovered},
		{ResolutionForgiven, LateStatusForgiven},
		{ResolutionPartialPayment, LateStatusPartiallyPaid},
	}

	for _, tt := range tests {
		if got := tt.resolution.TerminalStatus(); got != tt.expected {
			t.Errorf("Expected %s for %s, got %s", tt.expected, tt.resolution, got)
		}
	}
}

func TestLateContribution_IsOpen(t *testing.T) {
	c := testContribution()
	rec := NewLateContribution(c, 7, c.DueDate.AddDate(0, 0, 1))

	if !rec.IsOpen() {
		t.Error("Expected fresh record to be open")
	}

	rec.Status = LateStatusDefaulted
	if rec.IsOpen() {
		t.Error("Defaulted record must not be open")
	}
}

func TestLateContribution_AttachPaymentPlan(t *testing.T) {
	c := testContribution()
	rec := NewLateContribution(c, 7, c.DueDate.AddDate(0, 0, 1))
	at := c.DueDate.AddDate(0, 0, 6)

	rec.AttachPaymentPlan("plan1", at)

	if rec.Status != LateStatusPaymentPlan {
		t.Errorf("Expected status %s, got %s", LateStatusPaymentPlan, rec.Status)
	}
	if rec.PaymentPlanID == nil || *rec.PaymentPlanID != "plan1" {
		t.Error("Expected payment plan ID to be attached")
	}
	if !rec.IsOpen() {
		t.Error("Record on a payment plan is still open")
	}
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		b        time.Time
		expected int
	}{
		{a, 0},
		{a.Add(12 * time.Hour), 0},
		{a.AddDate(0, 0, 1), 1},
		{a.AddDate(0, 0, 4), 4},
		{a.AddDate(0, 0, -3), 0},
	}

	for _, tt := range tests {
		if got := DaysBetween(a, tt.b); got != tt.expected {
			t.Errorf("Expected %d days between %v and %v, got %d", tt.expected, a, tt.b, got)
		}
	}
}
