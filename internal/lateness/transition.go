package lateness

import (
	"time"

	"github.com/arisanid/arisan/internal/domain"
)

// CommandKind identifies a side effect the engine must execute after
// evaluating a record.
type CommandKind string

const (
	// CmdResolvePaid resolves the record because the underlying
	// contribution reached full payment.
	CmdResolvePaid CommandKind = "resolve_paid"
	// CmdEnterStage transitions the record into a new stage.
	CmdEnterStage CommandKind = "enter_stage"
	// CmdSendReminder asks the dispatcher for a (throttled) daily reminder.
	CmdSendReminder CommandKind = "send_reminder"
)

// Command is one side effect produced by Evaluate.
type Command struct {
	Kind  CommandKind
	Stage domain.LateStatus // set for CmdEnterStage
}

// Thresholds are the day-late boundaries between escalation stages.
type Thresholds struct {
	GraceStageAfterDays   int
	FinalWarningAfterDays int
}

// Evaluate is the pure state-transition function of the lifecycle
// engine: given the record, whether the contribution is now fully paid,
// the current time and the circle's thresholds, it returns the ordered
// side-effect commands to execute. It never mutates the record, so the
// state machine is testable without storage or notification fakes.
func Evaluate(rec *domain.LateContribution, fullyPaid bool, now time.Time, th Thresholds) []Command {
	if rec.IsResolved() || rec.Status == domain.LateStatusDefaulted {
		return nil
	}

	// Full payment short-circuits every stage transition.
	if fullyPaid {
		return []Command{{Kind: CmdResolvePaid}}
	}

	// Records on an accepted payment plan are not escalated; default is
	// deferred to the plan's own bookkeeping.
	if rec.Status == domain.LateStatusPaymentPlan {
		return []Command{{Kind: CmdSendReminder}}
	}

	// Past the grace period end the record defaults, regardless of the
	// intermediate stages it did or did not pass through.
	if now.After(rec.GraceEndsAt) {
		return []Command{{Kind: CmdEnterStage, Stage: domain.LateStatusDefaulted}}
	}

	var cmds []Command
	daysLate := domain.DaysBetween(rec.OriginalDueDate, now)
	status := rec.Status

	if status == domain.LateStatusSoftLate &&
		daysLate >= th.GraceStageAfterDays &&
		!rec.StageEntered(domain.LateStatusGracePeriod) {
		cmds = append(cmds, Command{Kind: CmdEnterStage, Stage: domain.LateStatusGracePeriod})
		status = domain.LateStatusGracePeriod
	}

	if status == domain.LateStatusGracePeriod &&
		daysLate >= th.FinalWarningAfterDays &&
		!rec.StageEntered(domain.LateStatusFinalWarning) {
		cmds = append(cmds, Command{Kind: CmdEnterStage, Stage: domain.LateStatusFinalWarning})
	}

	cmds = append(cmds, Command{Kind: CmdSendReminder})
	return cmds
}
