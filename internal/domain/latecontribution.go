package domain

import (
	"time"

	"github.com/google/uuid"
)

// LateStatus represents the status of a late contribution
type LateStatus string

const (
	LateStatusSoftLate      LateStatus = "soft_late"
	LateStatusGracePeriod   LateStatus = "grace_period"
	LateStatusFinalWarning  LateStatus = "final_warning"
	LateStatusDefaulted     LateStatus = "defaulted"
	LateStatusPaidLate      LateStatus = "paid_late"
	LateStatusPartiallyPaid LateStatus = "partially_paid"
	LateStatusCovered       LateStatus = "covered"
	LateStatusForgiven      LateStatus = "forgiven"
	LateStatusPaymentPlan   LateStatus = "payment_plan"
)

// ResolutionType represents how a late contribution was resolved
type ResolutionType string

const (
	ResolutionPaidInFull       ResolutionType = "paid_in_full"
	ResolutionPaidViaPlan      ResolutionType = "paid_via_plan"
	ResolutionPartialPayment   ResolutionType = "partial_payment"
	ResolutionCoveredByReserve ResolutionType = "covered_by_reserve"
	ResolutionCoveredByMembers ResolutionType = "covered_by_members"
	ResolutionForgiven         ResolutionType = "forgiven"
)

// ScoreAdjustment is one entry in the record's reputation audit list.
// The list is append-only; the engine consults it before applying a
// stage penalty so re-running a sweep never double-penalizes.
type ScoreAdjustment struct {
	Reason    string    `json:"reason"`
	Points    int       `json:"points"`
	AppliedAt time.Time `json:"applied_at"`
}

// LateContribution tracks one missed contribution deadline from due date
// through resolution or default.
type LateContribution struct {
	ID             string `json:"id"`
	ContributionID string `json:"contribution_id"`
	CycleID        string `json:"cycle_id"`
	CircleID       string `json:"circle_id"`
	UserID         string `json:"user_id"`

	ExpectedAmount    float64 `json:"expected_amount"`
	PaidAmount        float64 `json:"paid_amount"`
	OutstandingAmount float64 `json:"outstanding_amount"`
	LateFeeAmount     float64 `json:"late_fee_amount"`

	OriginalDueDate time.Time `json:"original_due_date"`
	GraceEndsAt     time.Time `json:"grace_ends_at"`
	DaysLate        int       `json:"days_late"`

	Status LateStatus `json:"status"`

	// StageTimestamps holds the instant each stage was entered. A stage
	// timestamp, once set, is never overwritten; this is what makes each
	// stage's side effects fire at most once.
	StageTimestamps map[LateStatus]time.Time `json:"stage_timestamps"`

	ScoreAdjustments []ScoreAdjustment `json:"score_adjustments"`

	ResolutionType   *ResolutionType `json:"resolution_type,omitempty"`
	ResolutionNotes  string          `json:"resolution_notes,omitempty"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	PaymentPlanID    *string         `json:"payment_plan_id,omitempty"`
	AutoRetryEnabled bool            `json:"auto_retry_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLateContribution creates a late record for a missed deadline. The
// grace end date is computed once here and is immutable afterwards.
func NewLateContribution(c *Contribution, gracePeriodDays int, now time.Time) *LateContribution {
	rec := &LateContribution{
		ID:                "late_" + uuid.NewString(),
		ContributionID:    c.ID,
		CycleID:           c.CycleID,
		CircleID:          c.CircleID,
		UserID:            c.UserID,
		ExpectedAmount:    c.ExpectedAmount,
		PaidAmount:        c.PaidAmount,
		OutstandingAmount: c.Shortfall(),
		OriginalDueDate:   c.DueDate,
		GraceEndsAt:       c.DueDate.AddDate(0, 0, gracePeriodDays),
		Status:            LateStatusSoftLate,
		StageTimestamps:   map[LateStatus]time.Time{LateStatusSoftLate: now},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	rec.DaysLate = DaysBetween(c.DueDate, now)
	return rec
}

// IsResolved reports whether the record reached a resolved terminal status.
func (lc *LateContribution) IsResolved() bool {
	switch lc.Status {
	case LateStatusPaidLate, LateStatusPartiallyPaid, LateStatusCovered, LateStatusForgiven:
		return true
	}
	return false
}

// IsOpen reports whether the sweep should still progress this record.
// Defaulted records are terminal unless explicitly resolved later.
func (lc *LateContribution) IsOpen() bool {
	return !lc.IsResolved() && lc.Status != LateStatusDefaulted
}

// StageEntered reports whether the given stage has already been entered.
func (lc *LateContribution) StageEntered(stage LateStatus) bool {
	_, ok := lc.StageTimestamps[stage]
	return ok
}

// EnterStage moves the record into a new stage, stamping it exactly once.
func (lc *LateContribution) EnterStage(stage LateStatus, at time.Time) error {
	if lc.StageEntered(stage) {
		return ErrStageAlreadyEntered
	}
	if lc.StageTimestamps == nil {
		lc.StageTimestamps = make(map[LateStatus]time.Time)
	}
	lc.StageTimestamps[stage] = at
	lc.Status = stage
	lc.UpdatedAt = at
	return nil
}

// RecomputeDaysLate refreshes the days-late counter from the due date.
// The value is monotonically non-decreasing while the record is open.
func (lc *LateContribution) RecomputeDaysLate(now time.Time) bool {
	days := DaysBetween(lc.OriginalDueDate, now)
	if days <= lc.DaysLate {
		return false
	}
	lc.DaysLate = days
	lc.UpdatedAt = now
	return true
}

// ApplyLateFee folds a newly assessed fee into the outstanding amount,
// preserving outstanding = expected - paid + fee.
func (lc *LateContribution) ApplyLateFee(fee float64, at time.Time) {
	lc.LateFeeAmount = fee
	lc.recomputeOutstanding()
	lc.UpdatedAt = at
}

// RecordPayment updates the paid amount as reported by the underlying
// contribution and recomputes the outstanding balance.
func (lc *LateContribution) RecordPayment(paid float64, at time.Time) {
	lc.PaidAmount = paid
	lc.recomputeOutstanding()
	lc.UpdatedAt = at
}

func (lc *LateContribution) recomputeOutstanding() {
	outstanding := lc.ExpectedAmount - lc.PaidAmount + lc.LateFeeAmount
	if outstanding < 0 {
		outstanding = 0
	}
	lc.OutstandingAmount = outstanding
}

// HasScoreReason reports whether a score delta for the reason was already
// applied to this record.
func (lc *LateContribution) HasScoreReason(reason string) bool {
	for _, adj := range lc.ScoreAdjustments {
		if adj.Reason == reason {
			return true
		}
	}
	return false
}

// AppendScoreAdjustment records an applied delta in the audit list.
func (lc *LateContribution) AppendScoreAdjustment(reason string, points int, at time.Time) {
	lc.ScoreAdjustments = append(lc.ScoreAdjustments, ScoreAdjustment{
		Reason:    reason,
		Points:    points,
		AppliedAt: at,
	})
	lc.UpdatedAt = at
}

// TotalScoreImpact sums every delta applied to this record.
func (lc *LateContribution) TotalScoreImpact() int {
	total := 0
	for _, adj := range lc.ScoreAdjustments {
		total += adj.Points
	}
	return total
}

// Resolve moves the record to the terminal status for the resolution type.
// Calling this on an already-resolved record is a caller error.
func (lc *LateContribution) Resolve(rt ResolutionType, notes string, at time.Time) error {
	if lc.IsResolved() {
		return ErrAlreadyResolved
	}
	lc.Status = rt.TerminalStatus()
	lc.ResolutionType = &rt
	lc.ResolutionNotes = notes
	lc.ResolvedAt = &at
	lc.UpdatedAt = at
	return nil
}

// TerminalStatus maps a resolution type to the terminal record status.
func (rt ResolutionType) TerminalStatus() LateStatus {
	switch rt {
	case ResolutionPaidInFull, ResolutionPaidViaPlan:
		return LateStatusPaidLate
	case ResolutionCoveredByReserve, ResolutionCoveredByMembers:
		return LateStatusCovered
	case ResolutionForgiven:
		return LateStatusForgiven
	default:
		return LateStatusPartiallyPaid
	}
}

// AttachPaymentPlan links an accepted installment plan to the record.
func (lc *LateContribution) AttachPaymentPlan(planID string, at time.Time) {
	lc.PaymentPlanID = &planID
	lc.Status = LateStatusPaymentPlan
	lc.UpdatedAt = at
}

// DaysBetween returns whole days elapsed from a to b, never negative.
func DaysBetween(a, b time.Time) int {
	if b.Before(a) {
		return 0
	}
	return int(b.Sub(a).Hours() / 24)
}

// Custom errors
var (
	ErrLateContributionNotFound = NewDomainError("late contribution not found")
	ErrContributionNotFound     = NewDomainError("contribution not found")
	ErrCircleNotFound           = NewDomainError("circle not found")
	ErrStageAlreadyEntered      = NewDomainError("stage already entered")
	ErrAlreadyResolved          = NewDomainError("late contribution already resolved")
	ErrNothingOutstanding       = NewDomainError("contribution has no outstanding amount")
)

// DomainError represents a domain-specific error
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func NewDomainError(message string) *DomainError {
	return &DomainError{Message: message}
}
