package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/sokolink/sokolink/internal/models"
)

// Flash deal step identifiers.
const (
	StepDealPick    models.StepID = "PICK_DEAL"
	StepDealConfirm models.StepID = "CONFIRM_CLAIM"
	StepDealDone    models.StepID = "DONE"
)

// currentDeals lists the claimable flash deal identifiers. In the full
// platform this would come from the deals module; the flow only needs
// the option set.
var currentDeals = []string{"deal_a", "deal_b", "deal_c"}

// FlashDealHandler serves the FLASH_DEAL_CLAIM flow. The claim
// confirmation step is non-interruptible: once a deal is being
// confirmed, menu and cancel commands are rejected until the user
// answers, so a reserved deal is never left dangling.
type FlashDealHandler struct{}

// NewFlashDealHandler creates the flash deal handler.
func NewFlashDealHandler() *FlashDealHandler {
	return &FlashDealHandler{}
}

// Definition returns the FLASH_DEAL_CLAIM flow definition.
func (h *FlashDealHandler) Definition() models.FlowDefinition {
	return models.FlowDefinition{
		ID:           models.FlowFlashDeal,
		InitialStep:  StepDealPick,
		RequiresAuth: true,
		Timeout:      10 * time.Minute,
		Steps: []models.StepDefinition{
			{ID: StepDealPick, Expect: models.InputSingleChoice, FieldName: "deal", Next: StepDealConfirm},
			{ID: StepDealConfirm, Expect: models.InputSingleChoice, NonInterruptible: true, Prev: StepDealPick, Next: StepDealDone},
			{ID: StepDealDone, Expect: models.InputNone, Terminal: true},
		},
	}
}

// Process picks a deal and confirms the claim.
func (h *FlashDealHandler) Process(ctx context.Context, slots map[string]string, input models.NormalizedInput, step models.StepDefinition) (models.StepResult, error) {
	switch step.ID {
	case StepDealPick:
		deal, ok := matchChoice(input, currentDeals...)
		if !ok {
			return retry("unknown_deal"), nil
		}
		return advance(step, deal, map[string]string{"deal": deal}), nil

	case StepDealConfirm:
		choice, ok := matchChoice(input, "yes", "no")
		if !ok {
			return retry("yes_or_no"), nil
		}
		if choice == "no" {
			return models.StepResult{Terminate: true}, nil
		}
		return models.StepResult{Next: step.Next, Hints: map[string]string{"deal": slots["deal"]}}, nil
	}
	return models.StepResult{}, fmt.Errorf("flash deal flow has no handler for step %s", step.ID)
}
