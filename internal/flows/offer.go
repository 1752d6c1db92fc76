package flows

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sokolink/sokolink/internal/models"
)

// Offer step identifiers.
const (
	StepOfferTitle    models.StepID = "ASK_TITLE"
	StepOfferPrice    models.StepID = "ASK_PRICE"
	StepOfferPhoto    models.StepID = "ASK_PHOTO"
	StepOfferLocation models.StepID = "ASK_LOCATION"
	StepOfferReview   models.StepID = "REVIEW"
	StepOfferDone     models.StepID = "DONE"
)

// OfferHandler serves the OFFER_POST flow: listing a product or service
// for sale in the local marketplace.
type OfferHandler struct{}

// NewOfferHandler creates the offer handler.
func NewOfferHandler() *OfferHandler {
	return &OfferHandler{}
}

// Definition returns the OFFER_POST flow definition.
func (h *OfferHandler) Definition() models.FlowDefinition {
	return models.FlowDefinition{
		ID:           models.FlowOfferPost,
		InitialStep:  StepOfferTitle,
		RequiresAuth: true,
		Timeout:      45 * time.Minute,
		Steps: []models.StepDefinition{
			{ID: StepOfferTitle, Expect: models.InputFreeText, FieldName: "title", Next: StepOfferPrice},
			{ID: StepOfferPrice, Expect: models.InputFreeText, FieldName: "price", Prev: StepOfferTitle, Next: StepOfferPhoto},
			{ID: StepOfferPhoto, Expect: models.InputMedia, FieldName: "photo", Optional: true, Prev: StepOfferPrice, Next: StepOfferLocation},
			{ID: StepOfferLocation, Expect: models.InputLocation, FieldName: "location", Optional: true, Prev: StepOfferPhoto, Next: StepOfferReview},
			{ID: StepOfferReview, Expect: models.InputSingleChoice, Prev: StepOfferLocation, Next: StepOfferDone},
			{ID: StepOfferDone, Expect: models.InputNone, Terminal: true},
		},
	}
}

// Process collects the offer fields and confirms at review.
func (h *OfferHandler) Process(ctx context.Context, slots map[string]string, input models.NormalizedInput, step models.StepDefinition) (models.StepResult, error) {
	switch step.ID {
	case StepOfferTitle:
		title := strings.TrimSpace(input.Text)
		if len(title) < 3 {
			return retry("title_too_short"), nil
		}
		return advance(step, title, nil), nil

	case StepOfferPrice:
		price, err := parseAmount(input.Text)
		if err != nil {
			return retry("invalid_price"), nil
		}
		return advance(step, strconv.FormatInt(price, 10), nil), nil

	case StepOfferPhoto:
		if input.Skipped {
			return models.StepResult{Next: step.Next}, nil
		}
		if input.MediaRef == "" {
			return retry("missing_photo"), nil
		}
		return advance(step, input.MediaRef, nil), nil

	case StepOfferLocation:
		if input.Skipped {
			return models.StepResult{Next: step.Next}, nil
		}
		return advance(step, formatCoordinates(input), nil), nil

	case StepOfferReview:
		choice, ok := matchChoice(input, "confirm", "back")
		if !ok {
			return retry("confirm_or_back"), nil
		}
		if choice == "back" {
			return models.StepResult{Next: step.Prev}, nil
		}
		return models.StepResult{Next: step.Next, Hints: map[string]string{
			"title": slots["title"],
			"price": slots["price"],
		}}, nil
	}
	return models.StepResult{}, fmt.Errorf("offer flow has no handler for step %s", step.ID)
}
