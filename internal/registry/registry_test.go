package registry

import (
	"testing"
	"time"

	"github.com/sokolink/sokolink/internal/models"
)

func validFlow() models.FlowDefinition {
	return models.FlowDefinition{
		ID:          "TEST_FLOW",
		InitialStep: "A",
		Timeout:     30 * time.Minute,
		Steps: []models.StepDefinition{
			{ID: "A", Expect: models.InputFreeText, Next: "B"},
			{ID: "B", Expect: models.InputSingleChoice, Prev: "A", Next: "C"},
			{ID: "C", Expect: models.InputNone, Terminal: true},
		},
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	if err := r.Register(validFlow()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def, err := r.Resolve("TEST_FLOW")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.InitialStep != "A" {
		t.Errorf("wrong initial step: %s", def.InitialStep)
	}
	steps, err := r.StepsOf("TEST_FLOW")
	if err != nil || len(steps) != 3 {
		t.Errorf("StepsOf returned %d steps, err=%v", len(steps), err)
	}
	initial, err := r.InitialStepOf("TEST_FLOW")
	if err != nil || initial != "A" {
		t.Errorf("InitialStepOf returned %q, err=%v", initial, err)
	}
}

func TestResolveUnknownFlow(t *testing.T) {
	r := New()
	if _, err := r.Resolve("NOPE"); err == nil {
		t.Error("expected error for unknown flow")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	if err := r.Register(validFlow()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(validFlow()); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func TestValidateCatchesBadDefinitions(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.FlowDefinition)
	}{
		{"missing initial step", func(f *models.FlowDefinition) { f.InitialStep = "ZZ" }},
		{"no steps", func(f *models.FlowDefinition) { f.Steps = nil }},
		{"no timeout", func(f *models.FlowDefinition) { f.Timeout = 0 }},
		{"dangling forward edge", func(f *models.FlowDefinition) { f.Steps[0].Next = "ZZ" }},
		{"dangling back edge", func(f *models.FlowDefinition) { f.Steps[1].Prev = "ZZ" }},
		{"terminal with forward edge", func(f *models.FlowDefinition) { f.Steps[2].Next = "A" }},
		{"duplicate step", func(f *models.FlowDefinition) { f.Steps[1].ID = "A"; f.Steps[1].Prev = ""; f.Steps[1].Next = "C" }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			def := validFlow()
			c.mutate(&def)
			r := New()
			if err := r.Register(def); err != nil {
				t.Fatalf("unexpected register error: %v", err)
			}
			if err := r.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidatePassesForValidFlow(t *testing.T) {
	r := New()
	if err := r.Register(validFlow()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}
