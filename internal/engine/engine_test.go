package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sokolink/sokolink/internal/flows"
	"github.com/sokolink/sokolink/internal/models"
	"github.com/sokolink/sokolink/internal/registry"
	"github.com/sokolink/sokolink/internal/store"
)

// newTestEngine builds an engine over the default flow set, an in-memory
// store, and a classifier that considers every user known.
func newTestEngine(t *testing.T) (*Engine, *store.InMemoryStore) {
	t.Helper()
	reg := registry.New()
	handlers := flows.NewRegistry()
	for _, h := range handlers.All() {
		if err := reg.Register(h.Definition()); err != nil {
			t.Fatalf("failed to register flow: %v", err)
		}
	}
	if err := reg.Validate(); err != nil {
		t.Fatalf("registry validation failed: %v", err)
	}
	st := store.NewInMemoryStore()
	eng, err := New(reg, st, handlers, NewDefaultClassifier(nil))
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return eng, st
}

func textEvent(user, text string) models.InboundEvent {
	return models.InboundEvent{UserKey: user, Kind: models.InputFreeText, Text: text}
}

func choiceEvent(user, choice string) models.InboundEvent {
	return models.InboundEvent{UserKey: user, Kind: models.InputSingleChoice, ChoiceID: choice}
}

// mustHandle runs HandleEvent and fails the test on error.
func mustHandle(t *testing.T, e *Engine, ev models.InboundEvent) models.OutboundInstruction {
	t.Helper()
	instr, err := e.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	return instr
}

// loadSession fetches the committed session and fails the test if absent.
func loadSession(t *testing.T, st store.SessionStore, user string) *models.Session {
	t.Helper()
	sess, err := st.Load(user)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if sess == nil {
		t.Fatalf("no session for %s", user)
	}
	return sess
}

// enterAgreement walks a fresh user into AGREEMENT_CREATE at ASK_DIRECTION.
func enterAgreement(t *testing.T, e *Engine, user string) {
	t.Helper()
	instr := mustHandle(t, e, textEvent(user, "hello"))
	if instr.Flow != models.FlowMainMenu {
		t.Fatalf("expected main menu entry, got %s", instr.Flow)
	}
	instr = mustHandle(t, e, choiceEvent(user, "3"))
	if instr.Flow != models.FlowAgreement || instr.Step != flows.StepAskDirection {
		t.Fatalf("menu option 3 should open agreement at ASK_DIRECTION, got %s/%s", instr.Flow, instr.Step)
	}
}

func TestFirstEventStartsEntryFlow(t *testing.T) {
	e, st := newTestEngine(t)
	instr := mustHandle(t, e, textEvent("u1", "hi"))
	if instr.Kind != models.InstructionPrompt || instr.Flow != models.FlowMainMenu || instr.Step != flows.StepMenu {
		t.Errorf("unexpected entry instruction: %+v", instr)
	}
	sess := loadSession(t, st, "u1")
	if sess.Version != 1 || sess.ActiveFlow != models.FlowMainMenu {
		t.Errorf("unexpected session after entry: %+v", sess)
	}
}

// newUnknownUserEngine builds an engine whose classifier treats every
// user as unregistered.
func newUnknownUserEngine(t *testing.T) (*Engine, *store.InMemoryStore) {
	t.Helper()
	reg := registry.New()
	handlers := flows.NewRegistry()
	for _, h := range handlers.All() {
		if err := reg.Register(h.Definition()); err != nil {
			t.Fatalf("failed to register flow: %v", err)
		}
	}
	st := store.NewInMemoryStore()
	e, err := New(reg, st, handlers, NewDefaultClassifier(func(context.Context, string) bool { return false }))
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return e, st
}

func TestUnknownUserEntersRegistration(t *testing.T) {
	e, _ := newUnknownUserEngine(t)
	instr := mustHandle(t, e, textEvent("stranger", "hi"))
	if instr.Flow != models.FlowRegistration || instr.Step != flows.StepAskName {
		t.Errorf("unknown user should enter registration, got %+v", instr)
	}
}

// An unregistered user who reaches the menu and picks a flow that needs
// an account gets sent to registration instead of into the flow.
func TestAuthRequiredFlowRedirectsUnknownUser(t *testing.T) {
	e, st := newUnknownUserEngine(t)
	user := "stranger"

	mustHandle(t, e, textEvent(user, "hi"))
	instr := mustHandle(t, e, textEvent(user, "menu"))
	if instr.Flow != models.FlowMainMenu || instr.Step != flows.StepMenu {
		t.Fatalf("menu command should open the main menu, got %+v", instr)
	}

	instr = mustHandle(t, e, choiceEvent(user, "6"))
	if instr.Kind != models.InstructionPrompt || instr.Flow != models.FlowRegistration || instr.Step != flows.StepAskName {
		t.Fatalf("flash deal should redirect to registration, got %+v", instr)
	}
	if instr.Reason != models.ReasonAuthRequired {
		t.Errorf("expected reason %q, got %q", models.ReasonAuthRequired, instr.Reason)
	}
	sess := loadSession(t, st, user)
	if sess.ActiveFlow != models.FlowRegistration || sess.CurrentStep != flows.StepAskName {
		t.Errorf("session should be in registration, got %s/%s", sess.ActiveFlow, sess.CurrentStep)
	}
}

// End-to-end scenario: AGREEMENT_CREATE through choice, text, menu
// interruption and resume, with slots surviving the round trip.
func TestAgreementEndToEndWithInterruption(t *testing.T) {
	e, st := newTestEngine(t)
	user := "u1"
	enterAgreement(t, e, user)

	instr := mustHandle(t, e, choiceEvent(user, "giving"))
	if instr.Step != flows.StepAskAmount {
		t.Fatalf("expected ASK_AMOUNT, got %s", instr.Step)
	}
	sess := loadSession(t, st, user)
	if sess.Slots["direction"] != "giving" {
		t.Fatalf("direction slot not applied: %v", sess.Slots)
	}

	instr = mustHandle(t, e, textEvent(user, "5000"))
	if instr.Step != flows.StepReview {
		t.Fatalf("expected REVIEW, got %s", instr.Step)
	}
	sess = loadSession(t, st, user)
	if sess.Slots["direction"] != "giving" || sess.Slots["amount"] != "5000" {
		t.Fatalf("slots wrong at review: %v", sess.Slots)
	}

	// Global menu command at REVIEW suspends the agreement.
	instr = mustHandle(t, e, textEvent(user, "menu"))
	if instr.Flow != models.FlowMainMenu || instr.Step != flows.StepMenu {
		t.Fatalf("menu command should open main menu, got %+v", instr)
	}
	sess = loadSession(t, st, user)
	if len(sess.Suspended) != 1 || sess.Suspended[0].Flow != models.FlowAgreement || sess.Suspended[0].Step != flows.StepReview {
		t.Fatalf("agreement not suspended at REVIEW: %+v", sess.Suspended)
	}

	// Resume restores REVIEW with both slots intact.
	instr = mustHandle(t, e, textEvent(user, "resume"))
	if instr.Flow != models.FlowAgreement || instr.Step != flows.StepReview {
		t.Fatalf("resume should restore REVIEW, got %+v", instr)
	}
	sess = loadSession(t, st, user)
	if sess.Slots["direction"] != "giving" || sess.Slots["amount"] != "5000" {
		t.Fatalf("slots lost across interruption: %v", sess.Slots)
	}
	if len(sess.Suspended) != 0 {
		t.Fatalf("stack should be empty after resume: %v", sess.Suspended)
	}

	// Confirm completes the flow and the session goes idle.
	instr = mustHandle(t, e, choiceEvent(user, "confirm"))
	if instr.Kind != models.InstructionTerminate {
		t.Fatalf("confirm should terminate the flow, got %+v", instr)
	}
	sess = loadSession(t, st, user)
	if !sess.Idle() || len(sess.Slots) != 0 {
		t.Fatalf("session should be idle with cleared slots: %+v", sess)
	}
}

func TestTypeMismatchDoesNotMutateSession(t *testing.T) {
	e, st := newTestEngine(t)
	user := "u1"
	enterAgreement(t, e, user)
	before := loadSession(t, st, user)

	// ASK_DIRECTION expects a choice; a location is a mismatch.
	instr := mustHandle(t, e, models.InboundEvent{
		UserKey: user, Kind: models.InputLocation, Latitude: -0.1, Longitude: 34.7,
	})
	if instr.Kind != models.InstructionReprompt || instr.Reason != models.ReasonTypeMismatch {
		t.Errorf("expected type-mismatch reprompt, got %+v", instr)
	}
	after := loadSession(t, st, user)
	if after.Version != before.Version {
		t.Errorf("type mismatch must not commit: version %d -> %d", before.Version, after.Version)
	}
}

func TestDuplicateDeliveryIsHarmless(t *testing.T) {
	e, st := newTestEngine(t)
	user := "u1"
	enterAgreement(t, e, user)

	mustHandle(t, e, choiceEvent(user, "giving"))
	v1 := loadSession(t, st, user).Version

	// Same webhook delivered again: a choice reply at the free-text
	// amount step fails coercion, so the replay is answered with a
	// re-prompt and no state change.
	instr := mustHandle(t, e, choiceEvent(user, "giving"))
	if instr.Kind != models.InstructionReprompt {
		t.Errorf("duplicate delivery should reprompt, got %+v", instr)
	}
	after := loadSession(t, st, user)
	if after.Version != v1 {
		t.Errorf("duplicate delivery must not double-apply: version %d -> %d", v1, after.Version)
	}
	if after.Slots["amount"] != "" {
		t.Errorf("duplicate delivery wrote a slot: %v", after.Slots)
	}
}

func TestCancelDiscardsActiveFlow(t *testing.T) {
	e, st := newTestEngine(t)
	user := "u1"
	enterAgreement(t, e, user)
	mustHandle(t, e, choiceEvent(user, "giving"))

	instr := mustHandle(t, e, textEvent(user, "cancel"))
	if instr.Kind != models.InstructionTerminate {
		t.Errorf("cancel should terminate, got %+v", instr)
	}
	sess := loadSession(t, st, user)
	if !sess.Idle() || len(sess.Slots) != 0 {
		t.Errorf("cancel should leave an idle session with cleared slots: %+v", sess)
	}
}

func TestResumeWithEmptyStackReprompts(t *testing.T) {
	e, st := newTestEngine(t)
	user := "u1"
	enterAgreement(t, e, user)
	before := loadSession(t, st, user)

	instr := mustHandle(t, e, textEvent(user, "resume"))
	if instr.Kind != models.InstructionReprompt || instr.Reason != models.ReasonNothingToDo {
		t.Errorf("resume with empty stack should reprompt, got %+v", instr)
	}
	if loadSession(t, st, user).Version != before.Version {
		t.Error("resume with empty stack must not commit")
	}
}

func TestNonInterruptibleStepRejectsMenu(t *testing.T) {
	e, st := newTestEngine(t)
	user := "u1"
	mustHandle(t, e, textEvent(user, "hi"))
	mustHandle(t, e, choiceEvent(user, "6")) // FLASH_DEAL_CLAIM
	instr := mustHandle(t, e, choiceEvent(user, "deal_a"))
	if instr.Step != flows.StepDealConfirm {
		t.Fatalf("expected CONFIRM_CLAIM, got %s", instr.Step)
	}

	instr = mustHandle(t, e, textEvent(user, "menu"))
	if instr.Kind != models.InstructionReprompt || instr.Reason != models.ReasonBusy {
		t.Errorf("menu during claim confirmation should be busy, got %+v", instr)
	}
	sess := loadSession(t, st, user)
	if sess.ActiveFlow != models.FlowFlashDeal || len(sess.Suspended) != 0 {
		t.Errorf("busy interruption must not suspend: %+v", sess)
	}
}

func TestOptionalStepSkipToken(t *testing.T) {
	e, st := newTestEngine(t)
	user := "u1"
	mustHandle(t, e, textEvent(user, "hi"))
	mustHandle(t, e, choiceEvent(user, "1")) // OFFER_POST
	mustHandle(t, e, textEvent(user, "solar lantern"))
	instr := mustHandle(t, e, textEvent(user, "1500"))
	if instr.Step != flows.StepOfferPhoto {
		t.Fatalf("expected ASK_PHOTO, got %s", instr.Step)
	}

	// The photo step expects media, but skip is accepted because the
	// step is optional.
	instr = mustHandle(t, e, textEvent(user, "skip"))
	if instr.Step != flows.StepOfferLocation {
		t.Errorf("skip should advance past the optional photo, got %+v", instr)
	}
	sess := loadSession(t, st, user)
	if _, ok := sess.Slots["photo"]; ok {
		t.Errorf("skipped step must not write its slot: %v", sess.Slots)
	}
}

func TestExpiredSessionGetsFreshStart(t *testing.T) {
	e, st := newTestEngine(t)
	user := "u1"
	enterAgreement(t, e, user)
	mustHandle(t, e, choiceEvent(user, "giving"))

	// Move the clock past the agreement flow's timeout.
	e.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	instr := mustHandle(t, e, textEvent(user, "5000"))
	if instr.Kind != models.InstructionPrompt || instr.Reason != models.ReasonExpired {
		t.Errorf("expired session should get a fresh-start prompt, got %+v", instr)
	}
	if instr.Flow != models.FlowMainMenu {
		t.Errorf("fresh start should enter the main menu, got %s", instr.Flow)
	}
	sess := loadSession(t, st, user)
	if sess.ActiveFlow != models.FlowMainMenu || len(sess.Slots) != 0 {
		t.Errorf("expiry should clear the old flow: %+v", sess)
	}
}

func TestCurrentStepAlwaysBelongsToActiveFlow(t *testing.T) {
	e, st := newTestEngine(t)
	reg := e.registry
	user := "u1"

	script := []models.InboundEvent{
		textEvent(user, "hi"),
		choiceEvent(user, "3"),
		choiceEvent(user, "giving"),
		textEvent(user, "menu"),
		choiceEvent(user, "4"),
		textEvent(user, "tilapia"),
		textEvent(user, "resume"),
		textEvent(user, "5000"),
	}
	for i, ev := range script {
		mustHandle(t, e, ev)
		sess := loadSession(t, st, user)
		if sess.Idle() {
			continue
		}
		def, err := reg.Resolve(sess.ActiveFlow)
		if err != nil {
			t.Fatalf("event %d: active flow %s not in registry", i, sess.ActiveFlow)
		}
		if !def.HasStep(sess.CurrentStep) {
			t.Fatalf("event %d: step %s not in flow %s", i, sess.CurrentStep, sess.ActiveFlow)
		}
	}
}

// conflictStore wraps a real store but fails every commit with a
// version conflict, simulating a permanently contended session.
type conflictStore struct {
	store.SessionStore
	commits int
}

func (c *conflictStore) Commit(sess *models.Session, expectedVersion int64) error {
	c.commits++
	return store.ErrVersionConflict
}

func TestPersistentConflictBecomesTransient(t *testing.T) {
	reg := registry.New()
	handlers := flows.NewRegistry()
	for _, h := range handlers.All() {
		if err := reg.Register(h.Definition()); err != nil {
			t.Fatalf("failed to register flow: %v", err)
		}
	}
	cs := &conflictStore{SessionStore: store.NewInMemoryStore()}
	e, err := New(reg, cs, handlers, NewDefaultClassifier(nil))
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	_, err = e.HandleEvent(context.Background(), textEvent("u1", "hi"))
	if !errors.Is(err, ErrTransient) {
		t.Errorf("expected transient error after exhausted retries, got %v", err)
	}
	if cs.commits != maxCommitAttempts {
		t.Errorf("expected exactly %d commit attempts, got %d", maxCommitAttempts, cs.commits)
	}
}

func TestHandlerChainValidationRejectsBadFlows(t *testing.T) {
	reg := registry.New()
	handlers := flows.NewRegistry()
	// Registry missing most flows: engine construction must fail.
	if err := reg.Register(flows.NewMainMenuHandler().Definition()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New(reg, store.NewInMemoryStore(), handlers, NewDefaultClassifier(nil)); err == nil {
		t.Error("expected startup validation failure with incomplete registry")
	}
}
