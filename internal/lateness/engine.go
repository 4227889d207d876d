package lateness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/arisanid/arisan/internal/domain"
	"github.com/arisanid/arisan/internal/ports"
	"github.com/arisanid/arisan/internal/service/logger"
)

// Score adjustment reasons. A reason appears at most once in a record's
// audit list, which is what keeps re-runs from double-penalizing.
const (
	ReasonSoftLate         = "late_soft"
	ReasonGracePeriod      = "late_grace_period"
	ReasonFinalWarning     = "late_final_warning"
	ReasonDefaulted        = "defaulted"
	ReasonGuarantorDefault = "guarantor_default"
	ReasonResolvedRecovery = "late_resolved_recovery"
)

// Stage penalties and the recovery rule for late-but-resolved records.
const (
	PenaltySoftLate     = -3
	PenaltyGracePeriod  = -5
	PenaltyFinalWarning = -10
	PenaltyDefaulted    = -25
	PenaltyGuarantor    = -5

	RecoveryRate = 0.3
	RecoveryCap  = 10
)

// Config holds engine-level defaults, used when a circle does not
// configure its own thresholds.
type Config struct {
	GracePeriodDays       int
	GraceStageAfterDays   int
	FinalWarningAfterDays int
	PlanMinimumAmount     float64
	SweepWorkers          int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		GracePeriodDays:       7,
		GraceStageAfterDays:   2,
		FinalWarningAfterDays: 5,
		PlanMinimumAmount:     1000,
		SweepWorkers:          4,
	}
}

// ErrSweepInProgress is returned when a sweep is requested while another
// one is still running; callers should retry on the next tick.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Outcome classifies what Progress did with a record.
type Outcome string

const (
	OutcomeNone       Outcome = "none"
	OutcomeProgressed Outcome = "progressed"
	OutcomeDefaulted  Outcome = "defaulted"
	OutcomeResolved   Outcome = "resolved"
)

// SweepError is one failed record inside a batch sweep.
type SweepError struct {
	LateContributionID string `json:"late_contribution_id"`
	Message            string `json:"message"`
}

// SweepResult aggregates a full sweep over open records.
type SweepResult struct {
	Processed  int          `json:"processed"`
	Progressed int          `json:"progressed"`
	Defaulted  int          `json:"defaulted"`
	Resolved   int          `json:"resolved"`
	Errors     []SweepError `json:"errors"`
}

// Engine orchestrates the late-contribution lifecycle: it owns the state
// machine, calls the fee calculator, score ledger, dispatcher and policy
// engine, and persists every transition.
type Engine struct {
	lateRepo    ports.LateContributionRepository
	contribRepo ports.ContributionRepository
	circleRepo  ports.CircleRepository
	defaultRepo ports.MemberDefaultRepository
	scoreRepo   ports.ScoreRepository
	policy      *PolicyEngine
	restriction *RestrictionEnforcer
	notifier    Notifier
	retry       ports.RetryScheduler
	clock       ports.Clock
	log         logger.Logger
	cfg         Config

	sweepMu  sync.Mutex
	recLocks sync.Map // record ID -> *sync.Mutex
}

// NewEngine creates a lifecycle engine. retry may be nil when no
// auto-retry scheduler is attached.
func NewEngine(
	lateRepo ports.LateContributionRepository,
	contribRepo ports.ContributionRepository,
	circleRepo ports.CircleRepository,
	defaultRepo ports.MemberDefaultRepository,
	scoreRepo ports.ScoreRepository,
	policy *PolicyEngine,
	restriction *RestrictionEnforcer,
	notifier Notifier,
	retry ports.RetryScheduler,
	clock ports.Clock,
	log logger.Logger,
	cfg Config,
) *Engine {
	if cfg.SweepWorkers < 1 {
		cfg.SweepWorkers = 1
	}
	return &Engine{
		lateRepo:    lateRepo,
		contribRepo: contribRepo,
		circleRepo:  circleRepo,
		defaultRepo: defaultRepo,
		scoreRepo:   scoreRepo,
		policy:      policy,
		restriction: restriction,
		notifier:    notifier,
		retry:       retry,
		clock:       clock,
		log:         log,
		cfg:         cfg,
	}
}

// InitiateLateHandling starts tracking a missed deadline. Returns
// (nil, nil) when the contribution does not exist or has no shortfall.
// Re-invocation for an already-tracked contribution is a no-op that
// progresses the existing record instead.
func (e *Engine) InitiateLateHandling(ctx context.Context, contributionID string) (*domain.LateContribution, error) {
	contribution, err := e.contribRepo.FindByID(ctx, contributionID)
	if err != nil {
		if err == domain.ErrContributionNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load contribution: %w", err)
	}
	if contribution.IsFullyPaid() {
		return nil, nil
	}

	existing, err := e.lateRepo.FindByContributionID(ctx, contributionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing late record: %w", err)
	}
	if existing != nil {
		if _, err := e.Progress(ctx, existing); err != nil {
			return existing, err
		}
		return existing, nil
	}

	circle, err := e.circleRepo.FindByID(ctx, contribution.CircleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load circle: %w", err)
	}

	graceDays := circle.GracePeriodDays
	if graceDays <= 0 {
		graceDays = e.cfg.GracePeriodDays
	}

	now := e.clock.Now()
	rec := domain.NewLateContribution(contribution, graceDays, now)
	rec.AutoRetryEnabled = true

	if err := e.lateRepo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create late record: %w", err)
	}

	if err := e.applyStagePenalty(ctx, rec, domain.LateStatusSoftLate); err != nil {
		return rec, err
	}

	e.notifier.NotifyStage(ctx, rec, circle.Name)

	if e.retry != nil {
		if err := e.retry.ScheduleRetry(ctx, contributionID); err != nil {
			e.log.Warn(ctx, "Failed to schedule payment retry", map[string]interface{}{
				"contribution_id": contributionID,
				"error":           err.Error(),
			})
		}
	}

	e.log.Info(ctx, "Late handling initiated", map[string]interface{}{
		"late_contribution_id": rec.ID,
		"contribution_id":      contributionID,
		"outstanding":          rec.OutstandingAmount,
		"grace_ends_at":        rec.GraceEndsAt,
	})
	return rec, nil
}

// FindByContribution returns the record tracking a contribution, or nil
// when none exists.
func (e *Engine) FindByContribution(ctx context.Context, contributionID string) (*domain.LateContribution, error) {
	return e.lateRepo.FindByContributionID(ctx, contributionID)
}

// lockRecord serializes mutation per record ID, so a record initiated or
// resolved through the API cannot race the same record inside a sweep.
func (e *Engine) lockRecord(id string) func() {
	v, _ := e.recLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Progress advances a single open record: refreshes days-late, detects
// external payment, applies due stage transitions and sends a throttled
// reminder. Safe to call any number of times; stage guards make
// re-entry idempotent. Calls against the same record run sequentially.
func (e *Engine) Progress(ctx context.Context, rec *domain.LateContribution) (Outcome, error) {
	defer e.lockRecord(rec.ID)()

	if !rec.IsOpen() {
		return OutcomeNone, nil
	}

	contribution, err := e.contribRepo.FindByID(ctx, rec.ContributionID)
	if err != nil {
		return OutcomeNone, fmt.Errorf("failed to load contribution: %w", err)
	}
	circle, err := e.circleRepo.FindByID(ctx, rec.CircleID)
	if err != nil {
		return OutcomeNone, fmt.Errorf("failed to load circle: %w", err)
	}

	now := e.clock.Now()
	dirty := false
	if contribution.PaidAmount != rec.PaidAmount {
		rec.RecordPayment(contribution.PaidAmount, now)
		dirty = true
	}
	if rec.RecomputeDaysLate(now) {
		dirty = true
	}
	if dirty {
		if err := e.lateRepo.Update(ctx, rec); err != nil {
			return OutcomeNone, fmt.Errorf("failed to persist record refresh: %w", err)
		}
	}

	// A record swept daily can enter the grace period while still inside
	// the fee config's own grace window, producing a zero fee. Reassess on
	// later passes until a fee sticks; the calculator is pure in days-late
	// so this never double-charges.
	if rec.LateFeeAmount == 0 &&
		(rec.Status == domain.LateStatusGracePeriod || rec.Status == domain.LateStatusFinalWarning) {
		if err := e.assessLateFee(ctx, rec, circle); err != nil {
			return OutcomeNone, err
		}
	}

	outcome := OutcomeNone
	for _, cmd := range Evaluate(rec, contribution.IsFullyPaid(), now, e.thresholdsFor(circle)) {
		switch cmd.Kind {
		case CmdResolvePaid:
			if err := e.resolve(ctx, rec, domain.ResolutionPaidInFull, "full payment detected"); err != nil {
				return outcome, err
			}
			return OutcomeResolved, nil
		case CmdEnterStage:
			if err := e.enterStage(ctx, rec, circle, cmd.Stage); err != nil {
				return outcome, err
			}
			if cmd.Stage == domain.LateStatusDefaulted {
				return OutcomeDefaulted, nil
			}
			outcome = OutcomeProgressed
		case CmdSendReminder:
			e.notifier.NotifyReminder(ctx, rec, circle.Name)
		}
	}
	return outcome, nil
}

// ProcessAllLateContributions runs the periodic sweep: every open record
// is progressed independently, per-record errors are collected and never
// abort the batch. Each record is owned by exactly one worker. At most
// one sweep runs at a time; the ticker, the sweep endpoint and the cron
// entrypoint can all fire without stepping on each other.
func (e *Engine) ProcessAllLateContributions(ctx context.Context) (*SweepResult, error) {
	if !e.sweepMu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer e.sweepMu.Unlock()

	records, err := e.lateRepo.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load open records: %w", err)
	}

	result := &SweepResult{}
	var mu sync.Mutex
	jobs := make(chan *domain.LateContribution)
	var wg sync.WaitGroup

	for i := 0; i < e.cfg.SweepWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				e.sweepOne(ctx, rec, result, &mu)
			}
		}()
	}
	for _, rec := range records {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()

	if expired, err := e.policy.ExpireRedistributions(ctx); err != nil {
		e.log.Error(ctx, "Failed to expire redistribution requests", err, nil)
	} else if expired > 0 {
		e.log.Info(ctx, "Expired redistribution requests", map[string]interface{}{"count": expired})
	}

	e.log.Info(ctx, "Late contribution sweep finished", map[string]interface{}{
		"processed":  result.Processed,
		"progressed": result.Progressed,
		"defaulted":  result.Defaulted,
		"resolved":   result.Resolved,
		"errors":     len(result.Errors),
	})
	return result, nil
}

func (e *Engine) sweepOne(ctx context.Context, rec *domain.LateContribution, result *SweepResult, mu *sync.Mutex) {
	defer func() {
		if r := recover(); r != nil {
			mu.Lock()
			result.Errors = append(result.Errors, SweepError{
				LateContributionID: rec.ID,
				Message:            fmt.Sprintf("panic: %v", r),
			})
			mu.Unlock()
		}
	}()

	outcome, err := e.Progress(ctx, rec)

	mu.Lock()
	defer mu.Unlock()
	result.Processed++
	switch outcome {
	case OutcomeProgressed:
		result.Progressed++
	case OutcomeDefaulted:
		result.Defaulted++
	case OutcomeResolved:
		result.Resolved++
	}
	if err != nil {
		result.Errors = append(result.Errors, SweepError{
			LateContributionID: rec.ID,
			Message:            err.Error(),
		})
	}
}

// ResolveLateContribution moves a record to its terminal resolved status.
// Calling it on an already-terminal record is a caller error, returned
// as ErrAlreadyResolved; callers must check state first.
func (e *Engine) ResolveLateContribution(ctx context.Context, rec *domain.LateContribution, rt domain.ResolutionType, notes string) error {
	defer e.lockRecord(rec.ID)()
	return e.resolve(ctx, rec, rt, notes)
}

// resolve is the unlocked resolution path for callers already holding
// the record lock.
func (e *Engine) resolve(ctx context.Context, rec *domain.LateContribution, rt domain.ResolutionType, notes string) error {
	if rec.IsResolved() {
		return domain.ErrAlreadyResolved
	}

	now := e.clock.Now()
	reachedDefault := rec.StageEntered(domain.LateStatusDefaulted)

	if err := rec.Resolve(rt, notes, now); err != nil {
		return err
	}

	// Partial score recovery only for records resolved before default:
	// min(cap, rate x |total prior penalty|), rounded to nearest point.
	if !reachedDefault && !rec.HasScoreReason(ReasonResolvedRecovery) {
		if impact := rec.TotalScoreImpact(); impact < 0 {
			recovery := int(math.Round(RecoveryRate * math.Abs(float64(impact))))
			if recovery > RecoveryCap {
				recovery = RecoveryCap
			}
			if recovery > 0 {
				if _, err := e.scoreRepo.Adjust(ctx, rec.UserID, ReasonResolvedRecovery, recovery, map[string]interface{}{
					"late_contribution_id": rec.ID,
				}); err != nil {
					return fmt.Errorf("failed to apply recovery points: %w", err)
				}
				rec.AppendScoreAdjustment(ReasonResolvedRecovery, recovery, now)
			}
		}
	}

	if err := e.lateRepo.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist resolution: %w", err)
	}

	if e.retry != nil && rec.AutoRetryEnabled {
		if err := e.retry.CancelRetries(ctx, rec.ContributionID); err != nil {
			e.log.Warn(ctx, "Failed to cancel payment retries", map[string]interface{}{
				"contribution_id": rec.ContributionID,
				"error":           err.Error(),
			})
		}
	}

	circleName := rec.CircleID
	if circle, err := e.circleRepo.FindByID(ctx, rec.CircleID); err == nil {
		circleName = circle.Name
	}
	e.notifier.NotifyResolution(ctx, rec, circleName)

	e.log.Info(ctx, "Late contribution resolved", map[string]interface{}{
		"late_contribution_id": rec.ID,
		"resolution_type":      string(rt),
		"status":               string(rec.Status),
	})
	return nil
}

// enterStage performs one stage transition: persist the new status and
// stage timestamp, apply the stage score penalty, assess the late fee on
// entering the grace period, send the stage notification, then the
// stage-specific fan-out.
func (e *Engine) enterStage(ctx context.Context, rec *domain.LateContribution, circle *domain.Circle, stage domain.LateStatus) error {
	now := e.clock.Now()
	if err := rec.EnterStage(stage, now); err != nil {
		if err == domain.ErrStageAlreadyEntered {
			return nil
		}
		return err
	}
	if err := e.lateRepo.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist stage %s: %w", stage, err)
	}

	if err := e.applyStagePenalty(ctx, rec, stage); err != nil {
		return err
	}

	if stage == domain.LateStatusGracePeriod {
		if err := e.assessLateFee(ctx, rec, circle); err != nil {
			return err
		}
	}

	e.notifier.NotifyStage(ctx, rec, circle.Name)

	switch stage {
	case domain.LateStatusGracePeriod:
		e.notifyCircleLate(ctx, rec, circle)
	case domain.LateStatusFinalWarning:
		e.finalWarningFanOut(ctx, rec, circle)
	case domain.LateStatusDefaulted:
		return e.handleDefault(ctx, rec, circle)
	}
	return nil
}

// assessLateFee computes the fee and folds it into the outstanding
// amount. Called on grace-period entry and again on later passes while
// the fee is still zero. The fee config's own grace window is
// independent of the circle's overall grace period.
func (e *Engine) assessLateFee(ctx context.Context, rec *domain.LateContribution, circle *domain.Circle) error {
	feeCfg := circle.LateFee
	if feeCfg == nil {
		communityCfg, err := e.circleRepo.CommunityFeeConfig(ctx, circle.CommunityID)
		if err != nil {
			e.log.Warn(ctx, "Failed to load community fee config", map[string]interface{}{
				"community_id": circle.CommunityID,
				"error":        err.Error(),
			})
		}
		feeCfg = ResolveFeeConfig(nil, communityCfg)
	}

	fee := CalculateLateFee(rec.OutstandingAmount, feeCfg, rec.DaysLate)
	if fee <= 0 {
		return nil
	}
	rec.ApplyLateFee(fee, e.clock.Now())
	if err := e.lateRepo.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist late fee: %w", err)
	}
	e.log.Info(ctx, "Late fee assessed", map[string]interface{}{
		"late_contribution_id": rec.ID,
		"fee":                  fee,
		"outstanding":          rec.OutstandingAmount,
	})
	return nil
}

func (e *Engine) notifyCircleLate(ctx context.Context, rec *domain.LateContribution, circle *domain.Circle) {
	memberIDs, err := e.circleRepo.ListActiveMemberIDs(ctx, circle.ID)
	if err != nil {
		e.log.Warn(ctx, "Failed to list circle members", map[string]interface{}{
			"circle_id": circle.ID,
			"error":     err.Error(),
		})
		return
	}
	lateCount, err := e.lateRepo.CountOpenByCycle(ctx, rec.CycleID)
	if err != nil {
		lateCount = 1
	}
	e.notifier.NotifyCircle(ctx, memberIDs, lateCount, circle.RevealLateMembers, rec.UserID, circle.Name)
}

// finalWarningFanOut notifies guarantors, optionally reveals the late
// member to the circle, and offers a payment plan above the minimum.
func (e *Engine) finalWarningFanOut(ctx context.Context, rec *domain.LateContribution, circle *domain.Circle) {
	guarantorIDs, err := e.circleRepo.ListGuarantorIDs(ctx, rec.UserID, circle.ID)
	if err != nil {
		e.log.Warn(ctx, "Failed to list guarantors", map[string]interface{}{
			"user_id": rec.UserID,
			"error":   err.Error(),
		})
	} else if len(guarantorIDs) > 0 {
		e.notifier.NotifyGuarantors(ctx, guarantorIDs, rec, circle.Name)
	}

	if circle.RevealLateMembers {
		e.notifyCircleLate(ctx, rec, circle)
	}

	if rec.OutstandingAmount >= e.cfg.PlanMinimumAmount {
		options := InstallmentOptions(rec.OutstandingAmount, e.cfg.PlanMinimumAmount)
		e.notifier.OfferPaymentPlan(ctx, rec, options)
	}
}

// handleDefault runs the terminal default path: immutable MemberDefault
// snapshot, admin notification, guarantor reputation impact, the
// circle's default resolution policy and the membership restriction.
func (e *Engine) handleDefault(ctx context.Context, rec *domain.LateContribution, circle *domain.Circle) error {
	now := e.clock.Now()
	md := domain.NewMemberDefault(rec, circle.CommunityID, now)
	if err := e.defaultRepo.Create(ctx, md); err != nil {
		return fmt.Errorf("failed to create member default: %w", err)
	}

	adminIDs, err := e.circleRepo.ListCommunityAdminIDs(ctx, circle.CommunityID)
	if err != nil {
		e.log.Warn(ctx, "Failed to list community admins", map[string]interface{}{
			"community_id": circle.CommunityID,
			"error":        err.Error(),
		})
	} else if len(adminIDs) > 0 {
		e.notifier.NotifyCommunityAdmins(ctx, adminIDs, md, circle.Name)
	}

	// Guarantors bear partial reputation consequences. The defaulted
	// stage is entered at most once, so this cannot double-apply.
	guarantorIDs, err := e.circleRepo.ListGuarantorIDs(ctx, rec.UserID, circle.ID)
	if err != nil {
		e.log.Warn(ctx, "Failed to list guarantors", map[string]interface{}{
			"user_id": rec.UserID,
			"error":   err.Error(),
		})
	} else {
		for _, gid := range guarantorIDs {
			if _, err := e.scoreRepo.Adjust(ctx, gid, ReasonGuarantorDefault, PenaltyGuarantor, map[string]interface{}{
				"member_default_id": md.ID,
				"defaulted_user_id": rec.UserID,
			}); err != nil {
				e.log.Error(ctx, "Failed to penalize guarantor", err, map[string]interface{}{
					"guarantor_id": gid,
				})
			}
		}
	}

	outcome, err := e.policy.HandleDefault(ctx, circle, md)
	if err != nil {
		return fmt.Errorf("default policy failed: %w", err)
	}
	if outcome.Covered {
		if err := e.resolve(ctx, rec, domain.ResolutionCoveredByReserve, "covered from community reserve"); err != nil {
			return err
		}
	}

	if err := e.restriction.EnforceAfterDefault(ctx, rec.UserID); err != nil {
		e.log.Error(ctx, "Failed to enforce restriction", err, map[string]interface{}{
			"user_id": rec.UserID,
		})
	}

	e.log.Info(ctx, "Member default recorded", map[string]interface{}{
		"member_default_id": md.ID,
		"amount":            md.DefaultedAmount,
		"policy":            string(outcome.Policy),
		"covered":           outcome.Covered,
	})
	return nil
}

// applyStagePenalty applies the stage's score delta at most once per
// record, guarded by the reputation audit list.
func (e *Engine) applyStagePenalty(ctx context.Context, rec *domain.LateContribution, stage domain.LateStatus) error {
	reason, delta := stagePenalty(stage)
	if delta == 0 || rec.HasScoreReason(reason) {
		return nil
	}
	if _, err := e.scoreRepo.Adjust(ctx, rec.UserID, reason, delta, map[string]interface{}{
		"late_contribution_id": rec.ID,
	}); err != nil {
		return fmt.Errorf("failed to adjust score: %w", err)
	}
	rec.AppendScoreAdjustment(reason, delta, e.clock.Now())
	if err := e.lateRepo.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist score audit: %w", err)
	}
	return nil
}

func (e *Engine) thresholdsFor(circle *domain.Circle) Thresholds {
	th := Thresholds{
		GraceStageAfterDays:   circle.GraceStageAfterDays,
		FinalWarningAfterDays: circle.FinalWarningAfterDays,
	}
	if th.GraceStageAfterDays <= 0 {
		th.GraceStageAfterDays = e.cfg.GraceStageAfterDays
	}
	if th.FinalWarningAfterDays <= 0 {
		th.FinalWarningAfterDays = e.cfg.FinalWarningAfterDays
	}
	return th
}

func stagePenalty(stage domain.LateStatus) (string, int) {
	switch stage {
	case domain.LateStatusSoftLate:
		return ReasonSoftLate, PenaltySoftLate
	case domain.LateStatusGracePeriod:
		return ReasonGracePeriod, PenaltyGracePeriod
	case domain.LateStatusFinalWarning:
		return ReasonFinalWarning, PenaltyFinalWarning
	case domain.LateStatusDefaulted:
		return ReasonDefaulted, PenaltyDefaulted
	}
	return "", 0
}
