package flows

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sokolink/sokolink/internal/models"
)

// Main menu step identifiers.
const (
	StepMenu models.StepID = "MENU"
)

// menuOptions maps menu positions to the flows they start, in display order.
var menuOptions = []models.FlowID{
	models.FlowOfferPost,
	models.FlowProductRequest,
	models.FlowAgreement,
	models.FlowFishAlert,
	models.FlowGigPost,
	models.FlowFlashDeal,
}

// MainMenuHandler serves the MAIN_MENU flow: a single choice step that
// chains into the selected business flow.
type MainMenuHandler struct{}

// NewMainMenuHandler creates the main menu handler.
func NewMainMenuHandler() *MainMenuHandler {
	return &MainMenuHandler{}
}

// Definition returns the MAIN_MENU flow definition.
func (h *MainMenuHandler) Definition() models.FlowDefinition {
	return models.FlowDefinition{
		ID:          models.FlowMainMenu,
		InitialStep: StepMenu,
		Timeout:     30 * time.Minute,
		Steps: []models.StepDefinition{
			{ID: StepMenu, Expect: models.InputSingleChoice},
		},
	}
}

// Process resolves the menu selection into a flow to start.
func (h *MainMenuHandler) Process(ctx context.Context, slots map[string]string, input models.NormalizedInput, step models.StepDefinition) (models.StepResult, error) {
	if step.ID != StepMenu {
		return models.StepResult{}, fmt.Errorf("main menu has no step %s", step.ID)
	}

	options := make([]string, len(menuOptions))
	for i, id := range menuOptions {
		options[i] = string(id)
	}
	selected, ok := matchChoice(input, options...)
	if !ok {
		slog.Debug("MainMenuHandler unrecognized selection", "choice", input.ChoiceID, "text", input.Text)
		return retry("unknown_menu_option"), nil
	}

	slog.Debug("MainMenuHandler selection", "flow", selected)
	return models.StepResult{StartFlow: models.FlowID(selected)}, nil
}
