package domain

import "time"

// FeePolicyType represents the shape of a circle's late fee policy
type FeePolicyType string

const (
	FeePolicyFlat       FeePolicyType = "flat"
	FeePolicyPercentage FeePolicyType = "percentage"
	FeePolicyTiered     FeePolicyType = "tiered"
)

// FeeTier is one rung of a tiered late fee schedule.
type FeeTier struct {
	AfterDays int     `json:"after_days"`
	Amount    float64 `json:"amount"`
}

// LateFeeConfig configures how late fees accrue for a circle. GraceDays
// here is the fee-specific window and is independent of the circle's
// overall grace period.
type LateFeeConfig struct {
	PolicyType     FeePolicyType `json:"policy_type"`
	FlatAmount     float64       `json:"flat_amount,omitempty"`
	PercentageRate float64       `json:"percentage_rate,omitempty"`
	Tiers          []FeeTier     `json:"tiers,omitempty"`
	GraceDays      int           `json:"grace_days"`
	MaxFeeAmount   float64       `json:"max_fee_amount,omitempty"`
}

// DefaultPolicy represents how a circle handles a terminal default
type DefaultPolicy string

const (
	DefaultPolicyProceedReduced    DefaultPolicy = "proceed_reduced"
	DefaultPolicyCoverFromReserve  DefaultPolicy = "cover_from_reserve"
	DefaultPolicyRedistribute      DefaultPolicy = "redistribute"
	DefaultPolicyDelayUntilCovered DefaultPolicy = "delay_until_covered"
)

// Circle is the read-side view of a rotating-savings circle that the
// lateness core needs: grace windows, fee policy and default handling.
type Circle struct {
	ID          string `json:"id"`
	CommunityID string `json:"community_id"`
	Name        string `json:"name"`

	GracePeriodDays       int `json:"grace_period_days"`
	GraceStageAfterDays   int `json:"grace_stage_after_days"`
	FinalWarningAfterDays int `json:"final_warning_after_days"`

	LateFee           *LateFeeConfig `json:"late_fee,omitempty"`
	DefaultPolicy     DefaultPolicy  `json:"default_policy"`
	RevealLateMembers bool           `json:"reveal_late_members"`
	PlatformFeeRate   float64        `json:"platform_fee_rate"`
}

// Cycle is one contribution/payout round within a circle.
type Cycle struct {
	ID             string    `json:"id"`
	CircleID       string    `json:"circle_id"`
	PayoutUserID   string    `json:"payout_user_id"`
	ExpectedAmount float64   `json:"expected_amount"`
	PayoutDate     time.Time `json:"payout_date"`
}

// Contribution is the read-side view of a scheduled contribution.
type Contribution struct {
	ID             string    `json:"id"`
	CycleID        string    `json:"cycle_id"`
	CircleID       string    `json:"circle_id"`
	UserID         string    `json:"user_id"`
	ExpectedAmount float64   `json:"expected_amount"`
	PaidAmount     float64   `json:"paid_amount"`
	DueDate        time.Time `json:"due_date"`
}

// Shortfall returns the unpaid portion of the expected amount.
func (c *Contribution) Shortfall() float64 {
	s := c.ExpectedAmount - c.PaidAmount
	if s < 0 {
		return 0
	}
	return s
}

// IsFullyPaid reports whether the contribution has been paid in full.
func (c *Contribution) IsFullyPaid() bool {
	return c.PaidAmount >= c.ExpectedAmount
}
