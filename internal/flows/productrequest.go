package flows

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sokolink/sokolink/internal/models"
)

// Product request step identifiers.
const (
	StepRequestItem   models.StepID = "ASK_ITEM"
	StepRequestBudget models.StepID = "ASK_BUDGET"
	StepRequestDone   models.StepID = "DONE"
)

// ProductRequestHandler serves the PRODUCT_REQUEST flow: asking the
// marketplace for a product nobody has listed yet.
type ProductRequestHandler struct{}

// NewProductRequestHandler creates the product request handler.
func NewProductRequestHandler() *ProductRequestHandler {
	return &ProductRequestHandler{}
}

// Definition returns the PRODUCT_REQUEST flow definition.
func (h *ProductRequestHandler) Definition() models.FlowDefinition {
	return models.FlowDefinition{
		ID:           models.FlowProductRequest,
		InitialStep:  StepRequestItem,
		RequiresAuth: true,
		Timeout:      30 * time.Minute,
		Steps: []models.StepDefinition{
			{ID: StepRequestItem, Expect: models.InputFreeText, FieldName: "item", Next: StepRequestBudget},
			{ID: StepRequestBudget, Expect: models.InputFreeText, FieldName: "budget", Optional: true, Prev: StepRequestItem, Next: StepRequestDone},
			{ID: StepRequestDone, Expect: models.InputNone, Terminal: true},
		},
	}
}

// Process collects the requested item and an optional budget.
func (h *ProductRequestHandler) Process(ctx context.Context, slots map[string]string, input models.NormalizedInput, step models.StepDefinition) (models.StepResult, error) {
	switch step.ID {
	case StepRequestItem:
		item := strings.TrimSpace(input.Text)
		if len(item) < 3 {
			return retry("item_too_short"), nil
		}
		return advance(step, item, nil), nil

	case StepRequestBudget:
		if input.Skipped {
			return models.StepResult{Next: step.Next, Hints: map[string]string{"item": slots["item"]}}, nil
		}
		budget, err := parseAmount(input.Text)
		if err != nil {
			return retry("invalid_budget"), nil
		}
		return advance(step, strconv.FormatInt(budget, 10), map[string]string{"item": slots["item"]}), nil
	}
	return models.StepResult{}, fmt.Errorf("product request flow has no handler for step %s", step.ID)
}
