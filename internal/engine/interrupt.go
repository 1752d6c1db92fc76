package engine

import (
	"context"
	"log/slog"

	"github.com/sokolink/sokolink/internal/models"
)

// handleCommand runs the interruption controller for a recognized global
// command. It is checked before step-specific dispatch, so it works from
// any step of any flow — except steps declared non-interruptible, which
// reject the interruption with a BusyState re-prompt.
func (e *Engine) handleCommand(ctx context.Context, sess *models.Session, step models.StepDefinition, cmd models.GlobalCommand) (models.OutboundInstruction, error) {
	if step.NonInterruptible {
		slog.Debug("Engine interruption rejected at non-interruptible step", "userKey", sess.UserKey, "flow", sess.ActiveFlow, "step", step.ID)
		return reprompt(sess, step.ID, models.ReasonBusy), nil
	}

	switch cmd {
	case models.CommandCancel:
		// Cancel is an interruption to the idle state: the active flow is
		// discarded, not suspended.
		slog.Info("Engine cancelling active flow", "userKey", sess.UserKey, "flow", sess.ActiveFlow)
		next := sess.Clone()
		cancelled := next.ActiveFlow
		cancelledStep := next.CurrentStep
		next.ClearActive()
		if err := e.commit(next, sess.Version); err != nil {
			return models.OutboundInstruction{}, err
		}
		return models.OutboundInstruction{
			Kind:   models.InstructionTerminate,
			Flow:   cancelled,
			Step:   cancelledStep,
			Reason: models.ReasonCancelled,
		}, nil

	case models.CommandResume:
		next := sess.Clone()
		// Returning to where the user left off abandons whatever flow the
		// interruption started.
		next.ClearActive()
		if !next.Resume() {
			return reprompt(sess, step.ID, models.ReasonNothingToDo), nil
		}
		if err := e.commit(next, sess.Version); err != nil {
			return models.OutboundInstruction{}, err
		}
		slog.Info("Engine resumed suspended flow", "userKey", sess.UserKey, "flow", next.ActiveFlow, "step", next.CurrentStep)
		return models.OutboundInstruction{
			Kind: models.InstructionPrompt,
			Flow: next.ActiveFlow,
			Step: next.CurrentStep,
		}, nil

	case models.CommandMenu:
		return e.Interrupt(ctx, sess, models.FlowMainMenu)
	}
	return reprompt(sess, step.ID, models.ReasonRetry), nil
}

// Interrupt suspends the active flow and starts (or resumes) the target
// flow. If the target is already the top of the suspended stack it is
// popped and resumed with its slots intact; otherwise the active flow is
// pushed and the target starts fresh at its initial step.
func (e *Engine) Interrupt(ctx context.Context, sess *models.Session, target models.FlowID) (models.OutboundInstruction, error) {
	if sess.ActiveFlow == target {
		// No self-suspension: interrupting into the flow that is already
		// active just re-prompts the current step.
		return reprompt(sess, sess.CurrentStep, models.ReasonRetry), nil
	}

	def, err := e.registry.Resolve(target)
	if err != nil {
		slog.Error("Engine interrupt target unknown", "error", err, "userKey", sess.UserKey, "target", target)
		return errorInstruction(sess, sess.CurrentStep), nil
	}

	next := sess.Clone()
	if top, ok := next.TopSuspended(); ok && top.Flow == target {
		// The target was suspended earlier: pop and resume it. The flow
		// that was active (typically one started by an interruption) is
		// dropped, not stacked, so menu round-trips cannot grow the stack.
		next.ClearActive()
		next.Resume()
		if err := e.commit(next, sess.Version); err != nil {
			return models.OutboundInstruction{}, err
		}
		slog.Info("Engine resumed flow from stack via interrupt", "userKey", sess.UserKey, "flow", next.ActiveFlow, "step", next.CurrentStep)
		return models.OutboundInstruction{
			Kind: models.InstructionPrompt,
			Flow: next.ActiveFlow,
			Step: next.CurrentStep,
		}, nil
	}

	next.Suspend()
	slog.Info("Engine suspended flow to start another", "userKey", sess.UserKey, "suspended", sess.ActiveFlow, "target", target)
	return e.beginFlow(ctx, next, def, "")
}
