package flows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sokolink/sokolink/internal/models"
)

// Registration step identifiers.
const (
	StepAskName     models.StepID = "ASK_NAME"
	StepAskHomeArea models.StepID = "ASK_HOME_AREA"
	StepAskRole     models.StepID = "ASK_ROLE"
	StepRegDone     models.StepID = "DONE"
)

// Roles a user can register as.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleFisher = "fisher"
)

// RegistrationHandler serves the REGISTRATION flow for users unknown to
// the platform. It is the only flow that does not require auth.
type RegistrationHandler struct{}

// NewRegistrationHandler creates the registration handler.
func NewRegistrationHandler() *RegistrationHandler {
	return &RegistrationHandler{}
}

// Definition returns the REGISTRATION flow definition.
func (h *RegistrationHandler) Definition() models.FlowDefinition {
	return models.FlowDefinition{
		ID:          models.FlowRegistration,
		InitialStep: StepAskName,
		Timeout:     60 * time.Minute,
		Steps: []models.StepDefinition{
			{ID: StepAskName, Expect: models.InputFreeText, FieldName: "name", Next: StepAskHomeArea},
			{ID: StepAskHomeArea, Expect: models.InputLocation, FieldName: "home_area", Optional: true, Prev: StepAskName, Next: StepAskRole},
			{ID: StepAskRole, Expect: models.InputSingleChoice, FieldName: "role", Prev: StepAskHomeArea, Next: StepRegDone},
			{ID: StepRegDone, Expect: models.InputNone, Terminal: true},
		},
	}
}

// Process collects name, optional home area and role.
func (h *RegistrationHandler) Process(ctx context.Context, slots map[string]string, input models.NormalizedInput, step models.StepDefinition) (models.StepResult, error) {
	switch step.ID {
	case StepAskName:
		name := strings.TrimSpace(input.Text)
		if len(name) < 2 {
			return retry("name_too_short"), nil
		}
		return advance(step, name, nil), nil

	case StepAskHomeArea:
		if input.Skipped {
			return models.StepResult{Next: step.Next}, nil
		}
		return advance(step, formatCoordinates(input), nil), nil

	case StepAskRole:
		role, ok := matchChoice(input, RoleBuyer, RoleSeller, RoleFisher)
		if !ok {
			return retry("unknown_role"), nil
		}
		return advance(step, role, map[string]string{"registered_as": role}), nil
	}
	return models.StepResult{}, fmt.Errorf("registration flow has no handler for step %s", step.ID)
}
