package lateness

import (
	"context"
	"fmt"
	"time"

	"github.com/arisanid/arisan/internal/domain"
	"github.com/arisanid/arisan/internal/ports"
	"github.com/arisanid/arisan/internal/service/logger"
)

// RedistributionWindow is how long members have to answer a voluntary
// cover request.
const RedistributionWindow = 48 * time.Hour

// PolicyOutcome summarizes what the policy engine did with a default.
type PolicyOutcome struct {
	Policy  domain.DefaultPolicy `json:"policy"`
	Covered bool                 `json:"covered"`
	Action  string               `json:"action"`
}

// PolicyEngine applies a circle's configured default handling policy
// when a late contribution reaches terminal default.
type PolicyEngine struct {
	reserveRepo ports.ReserveFundRepository
	redistRepo  ports.RedistributionRepository
	circleRepo  ports.CircleRepository
	contribRepo ports.ContributionRepository
	notifier    Notifier
	clock       ports.Clock
	log         logger.Logger
}

// NewPolicyEngine creates a default resolution policy engine.
func NewPolicyEngine(
	reserveRepo ports.ReserveFundRepository,
	redistRepo ports.RedistributionRepository,
	circleRepo ports.CircleRepository,
	contribRepo ports.ContributionRepository,
	notifier Notifier,
	clock ports.Clock,
	log logger.Logger,
) *PolicyEngine {
	return &PolicyEngine{
		reserveRepo: reserveRepo,
		redistRepo:  redistRepo,
		circleRepo:  circleRepo,
		contribRepo: contribRepo,
		notifier:    notifier,
		clock:       clock,
		log:         log,
	}
}

// HandleDefault applies the circle's policy to a freshly created member
// default. It reports whether the shortfall was covered (reserve path);
// the caller resolves the late record in that case.
func (p *PolicyEngine) HandleDefault(ctx context.Context, circle *domain.Circle, md *domain.MemberDefault) (*PolicyOutcome, error) {
	policy := circle.DefaultPolicy
	switch policy {
	case domain.DefaultPolicyCoverFromReserve:
		return p.coverFromReserve(ctx, circle, md)
	case domain.DefaultPolicyRedistribute:
		return p.redistribute(ctx, circle, md)
	case domain.DefaultPolicyDelayUntilCovered:
		// Payout progression is deferred to the cycle-progression service.
		return &PolicyOutcome{Policy: policy, Action: "payout_delayed"}, nil
	case domain.DefaultPolicyProceedReduced:
		return p.proceedReduced(ctx, circle, md)
	default:
		p.log.Warn(ctx, "Unknown default policy, proceeding with reduced payout", map[string]interface{}{
			"circle_id": circle.ID,
			"policy":    string(policy),
		})
		outcome, err := p.proceedReduced(ctx, circle, md)
		if outcome != nil {
			outcome.Policy = policy
		}
		return outcome, err
	}
}

// proceedReduced notifies the payout recipient that their payout equals
// the completed contributions minus the platform fee.
func (p *PolicyEngine) proceedReduced(ctx context.Context, circle *domain.Circle, md *domain.MemberDefault) (*PolicyOutcome, error) {
	cycle, err := p.circleRepo.FindCycle(ctx, md.CycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle %s: %w", md.CycleID, err)
	}

	collected, err := p.contribRepo.SumPaidByCycle(ctx, md.CycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum cycle payments: %w", err)
	}

	adjusted := Round2(collected * (1 - circle.PlatformFeeRate))
	p.notifier.NotifyReducedPayout(ctx, cycle.PayoutUserID, adjusted, cycle.ExpectedAmount, circle.Name)

	return &PolicyOutcome{
		Policy: domain.DefaultPolicyProceedReduced,
		Action: "recipient_notified",
	}, nil
}

// coverFromReserve attempts an atomic reserve withdrawal, bounded by the
// fund's maximum coverage fraction. Falls back to a reduced payout when
// the fund is missing, capped out, or drained concurrently.
func (p *PolicyEngine) coverFromReserve(ctx context.Context, circle *domain.Circle, md *domain.MemberDefault) (*PolicyOutcome, error) {
	fund, err := p.reserveRepo.FindByCommunity(ctx, md.CommunityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reserve fund: %w", err)
	}

	amount := md.DefaultedAmount
	// Fast path on a plain read; Withdraw re-checks balance and cap
	// atomically.
	if fund == nil || amount > fund.CoverageCap() {
		p.log.Info(ctx, "Reserve coverage declined, falling back to reduced payout", map[string]interface{}{
			"member_default_id": md.ID,
			"amount":            amount,
		})
		return p.proceedReduced(ctx, circle, md)
	}

	withdrawn, err := p.reserveRepo.Withdraw(ctx, fund.ID, amount)
	if err != nil {
		return nil, fmt.Errorf("reserve withdrawal failed: %w", err)
	}
	if !withdrawn {
		// Another default got there first: the balance no longer covers
		// the amount, or the cap shrank below it. The repository enforces
		// both inside the same atomic operation.
		return p.proceedReduced(ctx, circle, md)
	}

	return &PolicyOutcome{
		Policy:  domain.DefaultPolicyCoverFromReserve,
		Covered: true,
		Action:  "reserve_covered",
	}, nil
}

// redistribute creates a time-boxed voluntary cover request with one
// equal share per remaining active member. Acceptance is not enforced
// here.
func (p *PolicyEngine) redistribute(ctx context.Context, circle *domain.Circle, md *domain.MemberDefault) (*PolicyOutcome, error) {
	memberIDs, err := p.circleRepo.ListActiveMemberIDs(ctx, circle.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list circle members: %w", err)
	}

	remaining := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id != md.UserID {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == 0 {
		return p.proceedReduced(ctx, circle, md)
	}

	now := p.clock.Now()
	share := Round2(md.DefaultedAmount / float64(len(remaining)))
	req, responses := domain.NewRedistributionRequest(md, remaining, share, now.Add(RedistributionWindow), now)

	if err := p.redistRepo.CreateRequest(ctx, req, responses); err != nil {
		return nil, fmt.Errorf("failed to create redistribution request: %w", err)
	}

	p.notifier.NotifyRedistribution(ctx, responses, circle.Name)

	return &PolicyOutcome{
		Policy: domain.DefaultPolicyRedistribute,
		Action: fmt.Sprintf("redistribution_requested:%d", len(responses)),
	}, nil
}

// ExpireRedistributions marks past-expiry pending requests and their
// pending responses as expired. The underlying defaults stay unresolved;
// what happens next is a community decision, not this engine's.
func (p *PolicyEngine) ExpireRedistributions(ctx context.Context) (int, error) {
	requests, err := p.redistRepo.ListExpiredPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired redistributions: %w", err)
	}

	expired := 0
	for _, req := range requests {
		if _, err := p.redistRepo.ExpireRequest(ctx, req.ID); err != nil {
			p.log.Error(ctx, "Failed to expire redistribution request", err, map[string]interface{}{
				"request_id": req.ID,
			})
			continue
		}
		expired++
	}
	return expired, nil
}
