package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/sokolink/sokolink/internal/flows"
	"github.com/sokolink/sokolink/internal/models"
)

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SOKOLINK_STATE_DIR", "")
	t.Setenv("API_ADDR", "")
	t.Setenv("CHANNEL", "")
	t.Setenv("SWEEP_SCHEDULE", "")
	t.Setenv("WHATSAPP_DB_DSN", "")
	t.Setenv("WHATSAPP_NUMERIC_CODE", "")

	config := loadEnvironmentConfig()
	if config.StateDir != DefaultStateDir {
		t.Errorf("expected default state dir, got %q", config.StateDir)
	}
	if config.NumericCode {
		t.Error("numeric code should default to false")
	}
	if config.Channel != "whatsapp" {
		t.Errorf("expected whatsapp channel default, got %q", config.Channel)
	}
	if config.SweepCron != DefaultSweepCron {
		t.Errorf("expected default sweep cron, got %q", config.SweepCron)
	}
	want := filepath.Join(DefaultStateDir, DefaultDBFileName)
	if config.DatabaseURL != want {
		t.Errorf("expected SQLite default %q, got %q", want, config.DatabaseURL)
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://sokolink@localhost/sokolink")
	t.Setenv("SOKOLINK_STATE_DIR", "/tmp/sokolink-test")
	t.Setenv("CHANNEL", "twilio")
	t.Setenv("WHATSAPP_NUMERIC_CODE", "yes")

	config := loadEnvironmentConfig()
	if config.DatabaseURL != "postgres://sokolink@localhost/sokolink" {
		t.Errorf("DATABASE_URL not honored: %q", config.DatabaseURL)
	}
	if config.StateDir != "/tmp/sokolink-test" {
		t.Errorf("SOKOLINK_STATE_DIR not honored: %q", config.StateDir)
	}
	if config.Channel != "twilio" {
		t.Errorf("CHANNEL not honored: %q", config.Channel)
	}
	if !config.NumericCode {
		t.Error("WHATSAPP_NUMERIC_CODE not honored")
	}
}

func TestDefaultRendererCoversEveryStep(t *testing.T) {
	render := defaultRenderer()
	for _, h := range flows.NewRegistry().All() {
		def := h.Definition()
		for _, step := range def.Steps {
			if step.Terminal {
				continue
			}
			body := render.Render(models.OutboundInstruction{
				Kind: models.InstructionPrompt,
				Flow: def.ID,
				Step: step.ID,
			})
			if body == "" || strings.HasPrefix(body, "Sorry, I didn't get that") {
				t.Errorf("no copy for %s/%s", def.ID, step.ID)
			}
		}
	}
}

func TestDefaultRendererTerminations(t *testing.T) {
	render := defaultRenderer()

	completed := render.Render(models.OutboundInstruction{
		Kind: models.InstructionTerminate,
		Flow: models.FlowAgreement,
		Step: "DONE",
	})
	if completed != completionNotes[models.FlowAgreement] {
		t.Errorf("unexpected completion copy: %q", completed)
	}

	cancelled := render.Render(models.OutboundInstruction{
		Kind:   models.InstructionTerminate,
		Flow:   models.FlowAgreement,
		Step:   "ASK_AMOUNT",
		Reason: models.ReasonCancelled,
	})
	if !strings.Contains(cancelled, "cancelled") {
		t.Errorf("unexpected cancel copy: %q", cancelled)
	}
}

func TestDefaultRendererRepromptCarriesReason(t *testing.T) {
	render := defaultRenderer()
	body := render.Render(models.OutboundInstruction{
		Kind:   models.InstructionReprompt,
		Flow:   models.FlowAgreement,
		Step:   flows.StepAskAmount,
		Reason: models.ReasonTypeMismatch,
	})
	if !strings.Contains(body, reasonNotes[models.ReasonTypeMismatch]) {
		t.Errorf("reason note missing from reprompt: %q", body)
	}
	if !strings.Contains(body, stepPrompts[models.FlowAgreement][flows.StepAskAmount]) {
		t.Errorf("step prompt missing from reprompt: %q", body)
	}
}
