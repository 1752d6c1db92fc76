package models

import (
	"testing"
	"time"
)

func TestFlowDefinitionStepLookup(t *testing.T) {
	def := FlowDefinition{
		ID:          FlowAgreement,
		InitialStep: "ASK_DIRECTION",
		Steps: []StepDefinition{
			{ID: "ASK_DIRECTION", Expect: InputSingleChoice, Next: "ASK_AMOUNT"},
			{ID: "ASK_AMOUNT", Expect: InputFreeText, Next: "REVIEW"},
		},
	}
	step, ok := def.Step("ASK_AMOUNT")
	if !ok {
		t.Fatal("expected ASK_AMOUNT to be found")
	}
	if step.Expect != InputFreeText {
		t.Errorf("expected free_text, got %s", step.Expect)
	}
	if def.HasStep("MISSING") {
		t.Error("HasStep should be false for unknown step")
	}
}

func TestSessionSuspendResumeRoundTrip(t *testing.T) {
	s := &Session{
		UserKey:     "u1",
		ActiveFlow:  FlowAgreement,
		CurrentStep: "REVIEW",
		Slots:       map[string]string{"direction": "giving", "amount": "5000"},
		CreatedAt:   time.Now(),
	}
	s.Suspend()
	if !s.Idle() {
		t.Fatal("session should be idle after suspend")
	}
	if len(s.Suspended) != 1 {
		t.Fatalf("expected 1 suspended snapshot, got %d", len(s.Suspended))
	}
	if !s.Resume() {
		t.Fatal("resume should succeed")
	}
	if s.ActiveFlow != FlowAgreement || s.CurrentStep != "REVIEW" {
		t.Errorf("resume restored wrong position: %s/%s", s.ActiveFlow, s.CurrentStep)
	}
	if s.Slots["direction"] != "giving" || s.Slots["amount"] != "5000" {
		t.Errorf("resume lost slots: %v", s.Slots)
	}
}

func TestSessionSuspendDepthBound(t *testing.T) {
	s := &Session{UserKey: "u1"}
	for i := 0; i < MaxSuspendedDepth+2; i++ {
		s.ActiveFlow = FlowOfferPost
		s.CurrentStep = StepID(rune('A' + i))
		s.Slots = map[string]string{}
		s.Suspend()
	}
	if len(s.Suspended) != MaxSuspendedDepth {
		t.Errorf("stack should be bounded at %d, got %d", MaxSuspendedDepth, len(s.Suspended))
	}
	// Oldest entries are dropped, newest survive.
	top, _ := s.TopSuspended()
	if top.Step != StepID(rune('A'+MaxSuspendedDepth+1)) {
		t.Errorf("unexpected top of stack: %s", top.Step)
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := &Session{
		UserKey:     "u1",
		ActiveFlow:  FlowOfferPost,
		CurrentStep: "ASK_TITLE",
		Slots:       map[string]string{"title": "fresh tilapia"},
		Suspended:   []Snapshot{{Flow: FlowMainMenu, Step: "MENU", Slots: map[string]string{"k": "v"}}},
	}
	c := s.Clone()
	c.Slots["title"] = "changed"
	c.Suspended[0].Slots["k"] = "changed"
	if s.Slots["title"] != "fresh tilapia" {
		t.Error("clone shares slot map with original")
	}
	if s.Suspended[0].Slots["k"] != "v" {
		t.Error("clone shares suspended slot map with original")
	}
}

func TestParseGlobalCommand(t *testing.T) {
	cases := []struct {
		text string
		want GlobalCommand
	}{
		{"menu", CommandMenu},
		{" MENU ", CommandMenu},
		{"0", CommandMenu},
		{"cancel", CommandCancel},
		{"#", CommandCancel},
		{"resume", CommandResume},
		{"9", CommandResume},
		{"hello", CommandNone},
		{"", CommandNone},
	}
	for _, c := range cases {
		if got := ParseGlobalCommand(c.text); got != c.want {
			t.Errorf("ParseGlobalCommand(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}

func TestIsSkipToken(t *testing.T) {
	if !IsSkipToken(" Skip ") {
		t.Error("expected skip token to be recognized case-insensitively")
	}
	if IsSkipToken("skipped") {
		t.Error("did not expect 'skipped' to be a skip token")
	}
}
