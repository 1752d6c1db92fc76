package engine

import (
	"strings"

	"github.com/sokolink/sokolink/internal/models"
)

// Classify turns an inbound transport event into the engine's normalized
// input. The transport has already done channel-specific parsing; this
// only maps fields and defaults the kind.
func Classify(event models.InboundEvent) models.NormalizedInput {
	kind := event.Kind
	if kind == "" {
		kind = models.InputNone
		if event.Text != "" {
			kind = models.InputFreeText
		}
	}
	return models.NormalizedInput{
		Kind:      kind,
		Text:      event.Text,
		ChoiceID:  event.ChoiceID,
		Choices:   event.Choices,
		Latitude:  event.Latitude,
		Longitude: event.Longitude,
		MediaRef:  event.MediaRef,
	}
}

// Coerce checks the normalized input against the step's expected kind and
// adapts it where the chat channel blurs the distinction (users answer
// choice prompts with plain text). It reports false on a type mismatch.
//
// Optional steps accept the skip token regardless of expected kind; the
// handler then receives the skipped sentinel.
func Coerce(input models.NormalizedInput, step models.StepDefinition) (models.NormalizedInput, bool) {
	if step.Optional && input.Kind == models.InputFreeText && models.IsSkipToken(input.Text) {
		return models.NormalizedInput{Kind: step.Expect, Skipped: true}, true
	}

	switch step.Expect {
	case models.InputFreeText:
		if input.Kind != models.InputFreeText || strings.TrimSpace(input.Text) == "" {
			return input, false
		}
		return input, true

	case models.InputSingleChoice:
		switch input.Kind {
		case models.InputSingleChoice:
			return input, true
		case models.InputFreeText:
			// Text replies to a choice prompt are treated as the choice.
			coerced := input
			coerced.Kind = models.InputSingleChoice
			coerced.ChoiceID = strings.TrimSpace(input.Text)
			return coerced, coerced.ChoiceID != ""
		}
		return input, false

	case models.InputMultiChoice:
		switch input.Kind {
		case models.InputMultiChoice:
			return input, len(input.Choices) > 0
		case models.InputSingleChoice:
			coerced := input
			coerced.Kind = models.InputMultiChoice
			coerced.Choices = []string{input.ChoiceID}
			return coerced, input.ChoiceID != ""
		case models.InputFreeText:
			coerced := input
			coerced.Kind = models.InputMultiChoice
			return coerced, strings.TrimSpace(input.Text) != ""
		}
		return input, false

	case models.InputLocation:
		return input, input.Kind == models.InputLocation

	case models.InputMedia:
		return input, input.Kind == models.InputMedia

	case models.InputNone:
		// Acknowledgement steps accept anything.
		return input, true
	}
	return input, false
}
