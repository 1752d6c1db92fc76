package flows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sokolink/sokolink/internal/models"
)

// Fish alert step identifiers.
const (
	StepAlertSpecies models.StepID = "ASK_SPECIES"
	StepAlertFreq    models.StepID = "ASK_FREQUENCY"
	StepAlertSite    models.StepID = "ASK_LANDING_SITE"
	StepAlertDone    models.StepID = "DONE"
)

// Alert frequencies a subscriber can choose.
const (
	FreqInstant = "instant"
	FreqDaily   = "daily"
	FreqWeekly  = "weekly"
)

// knownSpecies lists the catch species alerts can be subscribed to.
var knownSpecies = []string{"tilapia", "nile perch", "omena", "catfish", "mudfish"}

// FishAlertHandler serves the FISH_ALERT_SUBSCRIBE flow: subscribing to
// catch notifications from nearby landing sites.
type FishAlertHandler struct{}

// NewFishAlertHandler creates the fish alert handler.
func NewFishAlertHandler() *FishAlertHandler {
	return &FishAlertHandler{}
}

// Definition returns the FISH_ALERT_SUBSCRIBE flow definition.
func (h *FishAlertHandler) Definition() models.FlowDefinition {
	return models.FlowDefinition{
		ID:           models.FlowFishAlert,
		InitialStep:  StepAlertSpecies,
		RequiresAuth: true,
		Timeout:      30 * time.Minute,
		Steps: []models.StepDefinition{
			{ID: StepAlertSpecies, Expect: models.InputMultiChoice, FieldName: "species", Next: StepAlertFreq},
			{ID: StepAlertFreq, Expect: models.InputSingleChoice, FieldName: "frequency", Prev: StepAlertSpecies, Next: StepAlertSite},
			{ID: StepAlertSite, Expect: models.InputLocation, FieldName: "landing_site", Prev: StepAlertFreq, Next: StepAlertDone},
			{ID: StepAlertDone, Expect: models.InputNone, Terminal: true},
		},
	}
}

// Process collects species, frequency and landing site.
func (h *FishAlertHandler) Process(ctx context.Context, slots map[string]string, input models.NormalizedInput, step models.StepDefinition) (models.StepResult, error) {
	switch step.ID {
	case StepAlertSpecies:
		selected := matchSpecies(input)
		if len(selected) == 0 {
			return retry("unknown_species"), nil
		}
		return advance(step, strings.Join(selected, ","), nil), nil

	case StepAlertFreq:
		freq, ok := matchChoice(input, FreqInstant, FreqDaily, FreqWeekly)
		if !ok {
			return retry("unknown_frequency"), nil
		}
		return advance(step, freq, nil), nil

	case StepAlertSite:
		hints := map[string]string{
			"species":   slots["species"],
			"frequency": slots["frequency"],
		}
		return advance(step, formatCoordinates(input), hints), nil
	}
	return models.StepResult{}, fmt.Errorf("fish alert flow has no handler for step %s", step.ID)
}

// matchSpecies resolves a multi-choice input against the known species
// list. Accepts explicit choice lists or comma-separated text, by name
// or 1-based position.
func matchSpecies(input models.NormalizedInput) []string {
	raw := input.Choices
	if len(raw) == 0 {
		for _, part := range strings.Split(input.Text, ",") {
			if p := strings.TrimSpace(part); p != "" {
				raw = append(raw, p)
			}
		}
	}
	var selected []string
	seen := make(map[string]bool)
	for _, token := range raw {
		one := models.NormalizedInput{ChoiceID: token}
		species, ok := matchChoice(one, knownSpecies...)
		if !ok {
			return nil
		}
		if !seen[species] {
			seen[species] = true
			selected = append(selected, species)
		}
	}
	return selected
}
