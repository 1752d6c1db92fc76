package flows

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sokolink/sokolink/internal/models"
)

// Gig step identifiers.
const (
	StepGigDescription models.StepID = "ASK_DESCRIPTION"
	StepGigPay         models.StepID = "ASK_PAY"
	StepGigDeadline    models.StepID = "ASK_DEADLINE"
	StepGigReview      models.StepID = "REVIEW"
	StepGigDone        models.StepID = "DONE"
)

// GigHandler serves the GIG_POST flow: posting a short-term job to the
// gig marketplace.
type GigHandler struct{}

// NewGigHandler creates the gig handler.
func NewGigHandler() *GigHandler {
	return &GigHandler{}
}

// Definition returns the GIG_POST flow definition.
func (h *GigHandler) Definition() models.FlowDefinition {
	return models.FlowDefinition{
		ID:           models.FlowGigPost,
		InitialStep:  StepGigDescription,
		RequiresAuth: true,
		Timeout:      45 * time.Minute,
		Steps: []models.StepDefinition{
			{ID: StepGigDescription, Expect: models.InputFreeText, FieldName: "description", Next: StepGigPay},
			{ID: StepGigPay, Expect: models.InputFreeText, FieldName: "pay", Prev: StepGigDescription, Next: StepGigDeadline},
			{ID: StepGigDeadline, Expect: models.InputFreeText, FieldName: "deadline", Optional: true, Prev: StepGigPay, Next: StepGigReview},
			{ID: StepGigReview, Expect: models.InputSingleChoice, Prev: StepGigDeadline, Next: StepGigDone},
			{ID: StepGigDone, Expect: models.InputNone, Terminal: true},
		},
	}
}

// Process collects the gig fields and confirms at review.
func (h *GigHandler) Process(ctx context.Context, slots map[string]string, input models.NormalizedInput, step models.StepDefinition) (models.StepResult, error) {
	switch step.ID {
	case StepGigDescription:
		desc := strings.TrimSpace(input.Text)
		if len(desc) < 5 {
			return retry("description_too_short"), nil
		}
		return advance(step, desc, nil), nil

	case StepGigPay:
		pay, err := parseAmount(input.Text)
		if err != nil {
			return retry("invalid_pay"), nil
		}
		return advance(step, strconv.FormatInt(pay, 10), nil), nil

	case StepGigDeadline:
		if input.Skipped {
			return models.StepResult{Next: step.Next}, nil
		}
		deadline := strings.TrimSpace(input.Text)
		if deadline == "" {
			return retry("empty_deadline"), nil
		}
		return advance(step, deadline, nil), nil

	case StepGigReview:
		choice, ok := matchChoice(input, "confirm", "back")
		if !ok {
			return retry("confirm_or_back"), nil
		}
		if choice == "back" {
			return models.StepResult{Next: step.Prev}, nil
		}
		return models.StepResult{Next: step.Next, Hints: map[string]string{
			"description": slots["description"],
			"pay":         slots["pay"],
		}}, nil
	}
	return models.StepResult{}, fmt.Errorf("gig flow has no handler for step %s", step.ID)
}
