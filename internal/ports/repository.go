package ports

import (
	"context"

	"github.com/arisanid/arisan/internal/domain"
)

// LateContributionRepository defines the persistence the lifecycle
// engine needs for late records. Records are never deleted, only
// transitioned to a terminal status.
type LateContributionRepository interface {
	// Create saves a new late contribution record
	Create(ctx context.Context, rec *domain.LateContribution) error

	// FindByID retrieves a record by its ID
	FindByID(ctx context.Context, id string) (*domain.LateContribution, error)

	// FindByContributionID retrieves the record tracking a contribution.
	// Returns (nil, nil) when no record exists; this is the existence
	// query guarding duplicate creation.
	FindByContributionID(ctx context.Context, contributionID string) (*domain.LateContribution, error)

	// Update persists changes to an existing record
	Update(ctx context.Context, rec *domain.LateContribution) error

	// ListOpen retrieves every non-terminal record for the sweep
	ListOpen(ctx context.Context) ([]*domain.LateContribution, error)

	// CountOpenByCycle returns how many members are currently late in a cycle
	CountOpenByCycle(ctx context.Context, cycleID string) (int, error)
}

// ContributionRepository is the read-side view of scheduled contributions.
type ContributionRepository interface {
	// FindByID retrieves a contribution by its ID
	FindByID(ctx context.Context, id string) (*domain.Contribution, error)

	// SumPaidByCycle totals completed payments for a cycle, used to
	// compute a reduced payout
	SumPaidByCycle(ctx context.Context, cycleID string) (float64, error)
}

// CircleRepository is the read-side view of circles, cycles and membership.
type CircleRepository interface {
	// FindByID retrieves a circle with its lateness configuration
	FindByID(ctx context.Context, id string) (*domain.Circle, error)

	// FindCycle retrieves a cycle, including its payout recipient
	FindCycle(ctx context.Context, cycleID string) (*domain.Cycle, error)

	// ListActiveMemberIDs returns the user IDs of active circle members
	ListActiveMemberIDs(ctx context.Context, circleID string) ([]string, error)

	// ListGuarantorIDs returns the users who vouched for a member
	ListGuarantorIDs(ctx context.Context, userID, circleID string) ([]string, error)

	// ListCommunityAdminIDs returns the admins of the circle's community
	ListCommunityAdminIDs(ctx context.Context, communityID string) ([]string, error)

	// CommunityFeeConfig returns the community-wide default late fee
	// configuration, or nil when none is configured
	CommunityFeeConfig(ctx context.Context, communityID string) (*domain.LateFeeConfig, error)
}

// MemberDefaultRepository persists immutable default summaries.
type MemberDefaultRepository interface {
	// Create saves a new member default
	Create(ctx context.Context, md *domain.MemberDefault) error

	// FindByLateContributionID retrieves the default created for a record,
	// if any
	FindByLateContributionID(ctx context.Context, lateContributionID string) (*domain.MemberDefault, error)

	// CountUnresolvedByUser counts a user's open defaults
	CountUnresolvedByUser(ctx context.Context, userID string) (int, error)
}

// RedistributionRepository persists voluntary redistribution requests
// and per-member responses.
type RedistributionRepository interface {
	// CreateRequest saves a request together with its responses
	CreateRequest(ctx context.Context, req *domain.RedistributionRequest, responses []*domain.RedistributionResponse) error

	// ExpireRequest marks a past-expiry request and its still-pending
	// responses as expired, returning the number of responses touched
	ExpireRequest(ctx context.Context, requestID string) (int, error)

	// ListExpiredPending returns pending requests whose expiry has passed
	ListExpiredPending(ctx context.Context) ([]*domain.RedistributionRequest, error)
}

// ReserveFundRepository provides atomic access to community reserves.
type ReserveFundRepository interface {
	// FindByCommunity retrieves a community's reserve fund, or nil when
	// the community has none
	FindByCommunity(ctx context.Context, communityID string) (*domain.ReserveFund, error)

	// Withdraw atomically decrements the balance if and only if the
	// current balance covers the amount and the amount is within the
	// coverage cap. Both checks are part of the same atomic operation.
	// Returns false when either fails.
	Withdraw(ctx context.Context, fundID string, amount float64) (bool, error)
}

// ScoreRepository is the append-only reputation ledger. Adjust must be
// transactional: two concurrent adjustments against the same user must
// not lose an update.
type ScoreRepository interface {
	// Get returns the user's current score, or the default when none
	// is recorded
	Get(ctx context.Context, userID string) (int, error)

	// Adjust applies a clamped delta and appends a history entry
	Adjust(ctx context.Context, userID, reason string, delta int, metadata map[string]interface{}) (*domain.ScoreHistoryEntry, error)

	// History returns the most recent adjustment entries for a user
	History(ctx context.Context, userID string, limit int) ([]*domain.ScoreHistoryEntry, error)
}

// RestrictionRepository persists access restrictions keyed by
// (user, restriction type).
type RestrictionRepository interface {
	// Upsert creates the restriction or refreshes an existing one
	Upsert(ctx context.Context, r *domain.Restriction) error

	// IsRestricted reports whether an active restriction of the given
	// type exists for the user
	IsRestricted(ctx context.Context, userID string, rtype domain.RestrictionType) (bool, error)
}
