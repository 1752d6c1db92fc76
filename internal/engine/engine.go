// Package engine implements the step transition engine: the component
// that routes every inbound chat event to the step handler of the
// user's active flow, validates input, advances the step cursor, and
// commits session state with optimistic concurrency.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sokolink/sokolink/internal/flows"
	"github.com/sokolink/sokolink/internal/models"
	"github.com/sokolink/sokolink/internal/registry"
	"github.com/sokolink/sokolink/internal/store"
)

// ErrTransient is returned when both the initial commit and its single
// retry hit a version conflict. The caller should retry the whole event
// later (e.g. via the transport's delivery retry).
var ErrTransient = errors.New("transient session contention, retry event")

// maxCommitAttempts bounds the optimistic-concurrency retry: one initial
// attempt plus one retry, then the conflict escalates to ErrTransient.
const maxCommitAttempts = 2

// EntryClassifier decides which flow a user with no active flow enters.
// This classification is a collaborator decision, not engine logic.
type EntryClassifier interface {
	EntryFlow(ctx context.Context, userKey string) models.FlowID
	Known(ctx context.Context, userKey string) bool
}

// Engine is the step transition engine. It is stateless between calls;
// the session store is the only shared mutable resource.
type Engine struct {
	registry   *registry.Registry
	store      store.SessionStore
	handlers   *flows.Registry
	classifier EntryClassifier
	now        func() time.Time
}

// New creates an Engine and cross-validates handlers against the flow
// registry: every registered flow must have a handler and every handler
// must resolve through the registry. A mismatch is a configuration
// error, fatal at startup.
func New(reg *registry.Registry, st store.SessionStore, handlers *flows.Registry, classifier EntryClassifier) (*Engine, error) {
	for _, id := range reg.FlowIDs() {
		if _, ok := handlers.Handler(id); !ok {
			return nil, fmt.Errorf("flow %q has no handler", id)
		}
	}
	for _, h := range handlers.All() {
		if _, err := reg.Resolve(h.Definition().ID); err != nil {
			return nil, fmt.Errorf("handler flow not in registry: %w", err)
		}
	}
	return &Engine{
		registry:   reg,
		store:      st,
		handlers:   handlers,
		classifier: classifier,
		now:        time.Now,
	}, nil
}

// HandleEvent processes one inbound event and returns the instruction
// the transport should render next. All recoverable error kinds are
// resolved internally; only ErrTransient escapes to the caller.
func (e *Engine) HandleEvent(ctx context.Context, event models.InboundEvent) (models.OutboundInstruction, error) {
	slog.Debug("Engine HandleEvent", "userKey", event.UserKey, "kind", event.Kind, "eventID", event.ID)

	input := Classify(event)
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		instr, err := e.processOnce(ctx, event.UserKey, input)
		if errors.Is(err, store.ErrVersionConflict) {
			slog.Debug("Engine commit conflict, reloading", "userKey", event.UserKey, "attempt", attempt)
			continue
		}
		if err != nil {
			return models.OutboundInstruction{}, err
		}
		return instr, nil
	}
	slog.Warn("Engine giving up after repeated version conflicts", "userKey", event.UserKey)
	return models.OutboundInstruction{}, ErrTransient
}

// processOnce runs one load/transition/commit cycle. A version conflict
// bubbles up so HandleEvent can reload and re-run.
func (e *Engine) processOnce(ctx context.Context, userKey string, input models.NormalizedInput) (models.OutboundInstruction, error) {
	sess, err := e.store.Load(userKey)
	if err != nil {
		slog.Error("Engine session load failed", "error", err, "userKey", userKey)
		return models.OutboundInstruction{}, err
	}

	// No session yet: the event is a request to start the entry flow.
	if sess == nil {
		now := e.now()
		sess = &models.Session{
			UserKey:        userKey,
			Slots:          make(map[string]string),
			LastActivityAt: now,
			CreatedAt:      now,
		}
		return e.startEntryFlow(ctx, sess, "")
	}

	// Idle session: same treatment, but against the existing record.
	if sess.Idle() {
		return e.startEntryFlow(ctx, sess, "")
	}

	def, err := e.registry.Resolve(sess.ActiveFlow)
	if err != nil {
		// Registry validation makes this unreachable unless the stored
		// session references a flow from an older deployment.
		slog.Error("Engine session references unknown flow", "error", err, "userKey", userKey, "flow", sess.ActiveFlow)
		sess.ClearActive()
		sess.Suspended = nil
		return e.startEntryFlow(ctx, sess, models.ReasonInternal)
	}

	// Expired session: force-terminate and surface a fresh start.
	if e.now().Sub(sess.LastActivityAt) > def.Timeout {
		slog.Info("Engine expiring stale session on touch", "userKey", userKey, "flow", sess.ActiveFlow)
		sess.ClearActive()
		sess.Suspended = nil
		return e.startEntryFlow(ctx, sess, models.ReasonExpired)
	}

	step, ok := def.Step(sess.CurrentStep)
	if !ok {
		slog.Error("Engine session cursor on unknown step", "userKey", userKey, "flow", sess.ActiveFlow, "step", sess.CurrentStep)
		sess.ClearActive()
		sess.Suspended = nil
		return e.startEntryFlow(ctx, sess, models.ReasonInternal)
	}

	// Global commands are checked before step-specific dispatch.
	if cmd := globalCommand(input); cmd != models.CommandNone {
		return e.handleCommand(ctx, sess, step, cmd)
	}

	coerced, ok := Coerce(input, step)
	if !ok {
		// Recoverable: re-prompt without mutating the session.
		slog.Debug("Engine input type mismatch", "userKey", userKey, "step", step.ID, "expect", step.Expect, "got", input.Kind)
		return reprompt(sess, step.ID, models.ReasonTypeMismatch), nil
	}

	handler, ok := e.handlers.Handler(sess.ActiveFlow)
	if !ok {
		// Startup validation makes this unreachable.
		slog.Error("Engine no handler for active flow", "userKey", userKey, "flow", sess.ActiveFlow)
		return errorInstruction(sess, step.ID), nil
	}

	result, err := handler.Process(ctx, sess.Slots, coerced, step)
	if err != nil {
		slog.Error("Engine handler failed", "error", err, "userKey", userKey, "flow", sess.ActiveFlow, "step", step.ID)
		return errorInstruction(sess, step.ID), nil
	}

	return e.applyResult(ctx, sess, def, step, result)
}

// applyResult validates the handler's result and commits the transition.
func (e *Engine) applyResult(ctx context.Context, sess *models.Session, def *models.FlowDefinition, step models.StepDefinition, result models.StepResult) (models.OutboundInstruction, error) {
	switch {
	case result.Retry:
		// Semantic rejection: re-ask the same step, session unchanged.
		reason := result.RetryReason
		if reason == "" {
			reason = models.ReasonRetry
		}
		return reprompt(sess, step.ID, reason), nil

	case result.Terminate:
		next := sess.Clone()
		next.ClearActive()
		if err := e.commit(next, sess.Version); err != nil {
			return models.OutboundInstruction{}, err
		}
		return models.OutboundInstruction{
			Kind:        models.InstructionTerminate,
			Flow:        def.ID,
			Step:        step.ID,
			RenderHints: result.Hints,
		}, nil

	case result.StartFlow != "":
		target, err := e.registry.Resolve(result.StartFlow)
		if err != nil {
			slog.Error("Engine handler chained into unknown flow", "error", err, "flow", def.ID, "target", result.StartFlow)
			return errorInstruction(sess, step.ID), nil
		}
		next := sess.Clone()
		next.ClearActive()
		return e.beginFlow(ctx, next, target, "")

	default:
		nextStep, ok := def.Step(result.Next)
		if !ok {
			// Handler contract violation: next step must belong to the
			// same flow. Session left unchanged.
			slog.Error("Engine handler returned step outside flow", "flow", def.ID, "step", step.ID, "next", result.Next)
			return errorInstruction(sess, step.ID), nil
		}
		next := sess.Clone()
		for k, v := range result.SlotUpdates {
			next.Slots[k] = v
		}
		if nextStep.Terminal {
			// Reaching a terminal step completes the flow.
			next.ClearActive()
			if err := e.commit(next, sess.Version); err != nil {
				return models.OutboundInstruction{}, err
			}
			return models.OutboundInstruction{
				Kind:        models.InstructionTerminate,
				Flow:        def.ID,
				Step:        nextStep.ID,
				RenderHints: result.Hints,
			}, nil
		}
		next.CurrentStep = nextStep.ID
		if err := e.commit(next, sess.Version); err != nil {
			return models.OutboundInstruction{}, err
		}
		return models.OutboundInstruction{
			Kind:        models.InstructionPrompt,
			Flow:        def.ID,
			Step:        nextStep.ID,
			RenderHints: result.Hints,
		}, nil
	}
}

// startEntryFlow starts the classifier-chosen entry flow on the given
// session and commits it. reason, when non-empty, is carried on the
// returned instruction (fresh start after expiry or an internal reset).
func (e *Engine) startEntryFlow(ctx context.Context, sess *models.Session, reason string) (models.OutboundInstruction, error) {
	entry := e.classifier.EntryFlow(ctx, sess.UserKey)
	def, err := e.registry.Resolve(entry)
	if err != nil {
		slog.Error("Engine entry classifier returned unknown flow", "error", err, "userKey", sess.UserKey, "flow", entry)
		return models.OutboundInstruction{}, err
	}
	return e.beginFlow(ctx, sess, def, reason)
}

// beginFlow starts def fresh on the session, enforcing the auth gate,
// and commits. Unknown users asking for an auth-required flow are
// redirected to registration.
func (e *Engine) beginFlow(ctx context.Context, sess *models.Session, def *models.FlowDefinition, reason string) (models.OutboundInstruction, error) {
	if def.RequiresAuth && !e.classifier.Known(ctx, sess.UserKey) {
		reg, err := e.registry.Resolve(models.FlowRegistration)
		if err != nil {
			return models.OutboundInstruction{}, err
		}
		slog.Debug("Engine redirecting unknown user to registration", "userKey", sess.UserKey, "requested", def.ID)
		def = reg
		if reason == "" {
			reason = models.ReasonAuthRequired
		}
	}
	sess.StartFlow(def)
	if err := e.commit(sess, sess.Version); err != nil {
		return models.OutboundInstruction{}, err
	}
	return models.OutboundInstruction{
		Kind:   models.InstructionPrompt,
		Flow:   def.ID,
		Step:   def.InitialStep,
		Reason: reason,
	}, nil
}

// commit stamps activity time and writes through the store's CAS.
func (e *Engine) commit(sess *models.Session, baseVersion int64) error {
	sess.LastActivityAt = e.now()
	return e.store.Commit(sess, baseVersion)
}

// globalCommand extracts a global command from free-text input. Other
// input kinds never carry commands.
func globalCommand(input models.NormalizedInput) models.GlobalCommand {
	if input.Kind != models.InputFreeText && input.Kind != models.InputSingleChoice {
		return models.CommandNone
	}
	text := input.Text
	if text == "" {
		text = input.ChoiceID
	}
	return models.ParseGlobalCommand(text)
}

// reprompt builds a re-ask instruction for the current step.
func reprompt(sess *models.Session, step models.StepID, reason string) models.OutboundInstruction {
	return models.OutboundInstruction{
		Kind:   models.InstructionReprompt,
		Flow:   sess.ActiveFlow,
		Step:   step,
		Reason: reason,
	}
}

// errorInstruction builds the generic retry instruction surfaced to the
// user when a handler misbehaves. The session is left unchanged.
func errorInstruction(sess *models.Session, step models.StepID) models.OutboundInstruction {
	return models.OutboundInstruction{
		Kind:   models.InstructionError,
		Flow:   sess.ActiveFlow,
		Step:   step,
		Reason: models.ReasonInternal,
	}
}
