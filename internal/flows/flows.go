// Package flows defines the flow handler contract and the concrete
// business flow handlers shipped with SokoLink.
//
// Handlers are pure with respect to the session: they receive the
// collected slots and the normalized input, and return a StepResult
// describing what should happen next. The engine applies slot updates
// and advances the step cursor; handlers never write session state.
package flows

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sokolink/sokolink/internal/models"
)

// Handler implements the step-specific semantics of one flow.
type Handler interface {
	// Definition returns the immutable flow definition this handler serves.
	Definition() models.FlowDefinition

	// Process handles one unit of input for the given step. Handlers must
	// be side-effect-idempotent: the engine may re-invoke Process after a
	// version-conflict retry.
	Process(ctx context.Context, slots map[string]string, input models.NormalizedInput, step models.StepDefinition) (models.StepResult, error)
}

// Registry is a static mapping from flow ID to handler, populated at
// startup and read-only afterwards.
type Registry struct {
	handlers map[models.FlowID]Handler
}

// NewRegistry creates a handler registry containing all default flows.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[models.FlowID]Handler)}
	r.register(NewMainMenuHandler())
	r.register(NewRegistrationHandler())
	r.register(NewAgreementHandler())
	r.register(NewOfferHandler())
	r.register(NewProductRequestHandler())
	r.register(NewFishAlertHandler())
	r.register(NewGigHandler())
	r.register(NewFlashDealHandler())
	return r
}

func (r *Registry) register(h Handler) {
	r.handlers[h.Definition().ID] = h
}

// Handler returns the handler for the given flow ID.
func (r *Registry) Handler(id models.FlowID) (Handler, bool) {
	h, ok := r.handlers[id]
	return h, ok
}

// All returns every registered handler.
func (r *Registry) All() []Handler {
	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	return out
}

// advance builds the common "store a slot and move forward" result.
func advance(step models.StepDefinition, value string, hints map[string]string) models.StepResult {
	res := models.StepResult{Next: step.Next, Hints: hints}
	if step.FieldName != "" && value != "" {
		res.SlotUpdates = map[string]string{step.FieldName: value}
	}
	return res
}

// retry builds a "re-ask the current step" result.
func retry(reason string) models.StepResult {
	return models.StepResult{Retry: true, RetryReason: reason}
}

// matchChoice resolves a single-choice input against the allowed options.
// Users may answer with the option id itself or its 1-based position.
func matchChoice(input models.NormalizedInput, options ...string) (string, bool) {
	answer := strings.ToLower(strings.TrimSpace(input.ChoiceID))
	if answer == "" {
		answer = strings.ToLower(strings.TrimSpace(input.Text))
	}
	if answer == "" {
		return "", false
	}
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], true
	}
	for _, opt := range options {
		if answer == strings.ToLower(opt) {
			return opt, true
		}
	}
	return "", false
}

// parseAmount parses a positive integer amount from free text, tolerating
// thousand separators.
func parseAmount(text string) (int64, error) {
	cleaned := strings.NewReplacer(",", "", " ", "").Replace(strings.TrimSpace(text))
	n, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", text)
	}
	if n <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %d", n)
	}
	return n, nil
}

// formatCoordinates renders a location input as a slot value.
func formatCoordinates(input models.NormalizedInput) string {
	return fmt.Sprintf("%.6f,%.6f", input.Latitude, input.Longitude)
}
