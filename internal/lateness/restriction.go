package lateness

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/arisanid/arisan/internal/domain"
	"github.com/arisanid/arisan/internal/ports"
	"github.com/arisanid/arisan/internal/service/logger"
)

// RestrictionEnforcer gates future circle membership based on a user's
// unresolved default history.
type RestrictionEnforcer struct {
	defaultRepo     ports.MemberDefaultRepository
	restrictionRepo ports.RestrictionRepository
	notifier        Notifier
	clock           ports.Clock
	log             logger.Logger
}

// NewRestrictionEnforcer creates a restriction enforcer.
func NewRestrictionEnforcer(
	defaultRepo ports.MemberDefaultRepository,
	restrictionRepo ports.RestrictionRepository,
	notifier Notifier,
	clock ports.Clock,
	log logger.Logger,
) *RestrictionEnforcer {
	return &RestrictionEnforcer{
		defaultRepo:     defaultRepo,
		restrictionRepo: restrictionRepo,
		notifier:        notifier,
		clock:           clock,
		log:             log,
	}
}

// EnforceAfterDefault upserts a cannot-join-circles restriction when the
// user has at least one unresolved default. Lifting the restriction is
// an external concern tied to resolving those defaults.
func (e *RestrictionEnforcer) EnforceAfterDefault(ctx context.Context, userID string) error {
	count, err := e.defaultRepo.CountUnresolvedByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to count unresolved defaults: %w", err)
	}
	if count < 1 {
		return nil
	}

	now := e.clock.Now()
	restriction := &domain.Restriction{
		ID:        "restr_" + uuid.NewString(),
		UserID:    userID,
		Type:      domain.RestrictionCannotJoinCircles,
		Reason:    fmt.Sprintf("%d unresolved default(s)", count),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.restrictionRepo.Upsert(ctx, restriction); err != nil {
		return fmt.Errorf("failed to upsert restriction: %w", err)
	}

	e.log.Info(ctx, "Circle membership restriction applied", map[string]interface{}{
		"user_id":             userID,
		"unresolved_defaults": count,
	})
	e.notifier.NotifyRestriction(ctx, userID)
	return nil
}
