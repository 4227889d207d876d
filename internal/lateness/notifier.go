package lateness

import (
	"context"

	"github.com/arisanid/arisan/internal/domain"
)

// Notifier is the stage-aware notification dispatcher as seen by the
// lifecycle engine. Implementations deliver best-effort and must never
// return delivery failures into a state transition; the methods
// therefore return nothing.
type Notifier interface {
	NotifyStage(ctx context.Context, rec *domain.LateContribution, circleName string)
	NotifyReminder(ctx context.Context, rec *domain.LateContribution, circleName string)
	NotifyCircle(ctx context.Context, memberIDs []string, lateCount int, reveal bool, lateUserID, circleName string)
	NotifyGuarantors(ctx context.Context, guarantorIDs []string, rec *domain.LateContribution, circleName string)
	NotifyCommunityAdmins(ctx context.Context, adminIDs []string, md *domain.MemberDefault, circleName string)
	NotifyReducedPayout(ctx context.Context, recipientID string, adjusted, expected float64, circleName string)
	NotifyRedistribution(ctx context.Context, responses []*domain.RedistributionResponse, circleName string)
	OfferPaymentPlan(ctx context.Context, rec *domain.LateContribution, options []InstallmentOption)
	NotifyResolution(ctx context.Context, rec *domain.LateContribution, circleName string)
	NotifyRestriction(ctx context.Context, userID string)
}
