package flows

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sokolink/sokolink/internal/models"
)

// Agreement step identifiers.
const (
	StepAskDirection models.StepID = "ASK_DIRECTION"
	StepAskAmount    models.StepID = "ASK_AMOUNT"
	StepReview       models.StepID = "REVIEW"
	StepAgreementEnd models.StepID = "DONE"
)

// Directions an agreement can take, from the initiating user's view.
const (
	DirectionGiving    = "giving"
	DirectionReceiving = "receiving"
)

// AgreementHandler serves the AGREEMENT_CREATE flow: recording a
// peer-to-peer payment agreement (who owes whom, and how much).
type AgreementHandler struct{}

// NewAgreementHandler creates the agreement handler.
func NewAgreementHandler() *AgreementHandler {
	return &AgreementHandler{}
}

// Definition returns the AGREEMENT_CREATE flow definition.
func (h *AgreementHandler) Definition() models.FlowDefinition {
	return models.FlowDefinition{
		ID:           models.FlowAgreement,
		InitialStep:  StepAskDirection,
		RequiresAuth: true,
		Timeout:      30 * time.Minute,
		Steps: []models.StepDefinition{
			{ID: StepAskDirection, Expect: models.InputSingleChoice, FieldName: "direction", Next: StepAskAmount},
			{ID: StepAskAmount, Expect: models.InputFreeText, FieldName: "amount", Prev: StepAskDirection, Next: StepReview},
			{ID: StepReview, Expect: models.InputSingleChoice, Prev: StepAskAmount, Next: StepAgreementEnd},
			{ID: StepAgreementEnd, Expect: models.InputNone, Terminal: true},
		},
	}
}

// Process collects direction and amount, then confirms at review.
func (h *AgreementHandler) Process(ctx context.Context, slots map[string]string, input models.NormalizedInput, step models.StepDefinition) (models.StepResult, error) {
	switch step.ID {
	case StepAskDirection:
		direction, ok := matchChoice(input, DirectionGiving, DirectionReceiving)
		if !ok {
			return retry("unknown_direction"), nil
		}
		return advance(step, direction, nil), nil

	case StepAskAmount:
		amount, err := parseAmount(input.Text)
		if err != nil {
			slog.Debug("AgreementHandler invalid amount", "text", input.Text, "error", err)
			return retry("invalid_amount"), nil
		}
		hints := map[string]string{
			"direction": slots["direction"],
			"amount":    strconv.FormatInt(amount, 10),
		}
		return advance(step, strconv.FormatInt(amount, 10), hints), nil

	case StepReview:
		choice, ok := matchChoice(input, "confirm", "back")
		if !ok {
			return retry("confirm_or_back"), nil
		}
		if choice == "back" {
			return models.StepResult{Next: step.Prev}, nil
		}
		return models.StepResult{Next: step.Next, Hints: map[string]string{
			"direction": slots["direction"],
			"amount":    slots["amount"],
		}}, nil
	}
	return models.StepResult{}, fmt.Errorf("agreement flow has no handler for step %s", step.ID)
}
