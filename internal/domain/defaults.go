package domain

import (
	"time"

	"github.com/google/uuid"
)

// MemberDefault is the immutable summary created when a late contribution
// transitions into defaulted. Its resolution status is tracked
// independently of the late contribution record.
type MemberDefault struct {
	ID                 string     `json:"id"`
	LateContributionID string     `json:"late_contribution_id"`
	ContributionID     string     `json:"contribution_id"`
	UserID             string     `json:"user_id"`
	CycleID            string     `json:"cycle_id"`
	CircleID           string     `json:"circle_id"`
	CommunityID        string     `json:"community_id"`
	DefaultedAmount    float64    `json:"defaulted_amount"`
	LateFeeAmount      float64    `json:"late_fee_amount"`
	Resolved           bool       `json:"resolved"`
	ResolutionNotes    string     `json:"resolution_notes,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// NewMemberDefault snapshots a late contribution at the moment of default.
func NewMemberDefault(lc *LateContribution, communityID string, now time.Time) *MemberDefault {
	return &MemberDefault{
		ID:                 "mdef_" + uuid.NewString(),
		LateContributionID: lc.ID,
		ContributionID:     lc.ContributionID,
		UserID:             lc.UserID,
		CycleID:            lc.CycleID,
		CircleID:           lc.CircleID,
		CommunityID:        communityID,
		DefaultedAmount:    lc.OutstandingAmount,
		LateFeeAmount:      lc.LateFeeAmount,
		CreatedAt:          now,
	}
}

// RedistributionStatus represents the state of a redistribution request
// or of a single member's response.
type RedistributionStatus string

const (
	RedistributionPending   RedistributionStatus = "pending"
	RedistributionAccepted  RedistributionStatus = "accepted"
	RedistributionDeclined  RedistributionStatus = "declined"
	RedistributionExpired   RedistributionStatus = "expired"
	RedistributionCompleted RedistributionStatus = "completed"
)

// RedistributionRequest asks remaining circle members to voluntarily
// cover a defaulted shortfall, one equal share each.
type RedistributionRequest struct {
	ID              string               `json:"id"`
	MemberDefaultID string               `json:"member_default_id"`
	CircleID        string               `json:"circle_id"`
	ShortfallAmount float64              `json:"shortfall_amount"`
	ShareAmount     float64              `json:"share_amount"`
	MemberCount     int                  `json:"member_count"`
	Status          RedistributionStatus `json:"status"`
	ExpiresAt       time.Time            `json:"expires_at"`
	CreatedAt       time.Time            `json:"created_at"`
}

// RedistributionResponse tracks one invited member's voluntary answer.
type RedistributionResponse struct {
	ID          string               `json:"id"`
	RequestID   string               `json:"request_id"`
	UserID      string               `json:"user_id"`
	ShareAmount float64              `json:"share_amount"`
	Status      RedistributionStatus `json:"status"`
	RespondedAt *time.Time           `json:"responded_at,omitempty"`
	ExpiresAt   time.Time            `json:"expires_at"`
	CreatedAt   time.Time            `json:"created_at"`
}

// NewRedistributionRequest builds the request plus one pending response
// per invited member, all sharing the same expiry.
func NewRedistributionRequest(md *MemberDefault, memberIDs []string, share float64, expiresAt, now time.Time) (*RedistributionRequest, []*RedistributionResponse) {
	req := &RedistributionRequest{
		ID:              "rreq_" + uuid.NewString(),
		MemberDefaultID: md.ID,
		CircleID:        md.CircleID,
		ShortfallAmount: md.DefaultedAmount,
		ShareAmount:     share,
		MemberCount:     len(memberIDs),
		Status:          RedistributionPending,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
	}
	responses := make([]*RedistributionResponse, 0, len(memberIDs))
	for _, userID := range memberIDs {
		responses = append(responses, &RedistributionResponse{
			ID:          "rres_" + uuid.NewString(),
			RequestID:   req.ID,
			UserID:      userID,
			ShareAmount: share,
			Status:      RedistributionPending,
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
		})
	}
	return req, responses
}

// ReserveFund is a community's pooled balance for covering defaults.
// Balance is mutated only by atomic conditional decrement.
type ReserveFund struct {
	ID              string    `json:"id"`
	CommunityID     string    `json:"community_id"`
	Balance         float64   `json:"balance"`
	MaxCoverageRate float64   `json:"max_coverage_rate"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CoverageCap returns the largest single default this fund may cover.
func (f *ReserveFund) CoverageCap() float64 {
	return f.Balance * f.MaxCoverageRate
}

// RestrictionType represents a platform access restriction
type RestrictionType string

const (
	RestrictionCannotJoinCircles RestrictionType = "cannot_join_circles"
)

// Restriction gates a user's access, keyed by (user, type).
type Restriction struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      RestrictionType `json:"type"`
	Reason    string          `json:"reason"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
