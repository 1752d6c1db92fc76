package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/sokolink/sokolink/internal/flows"
	"github.com/sokolink/sokolink/internal/models"
	"github.com/sokolink/sokolink/internal/registry"
	"github.com/sokolink/sokolink/internal/store"
)

type recordingNotifier struct {
	notices []string
}

func (n *recordingNotifier) NotifyExpired(ctx context.Context, userKey string, flow models.FlowID) {
	n.notices = append(n.notices, userKey+":"+string(flow))
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, h := range flows.NewRegistry().All() {
		if err := reg.Register(h.Definition()); err != nil {
			t.Fatalf("failed to register flow: %v", err)
		}
	}
	return reg
}

// seedSession commits a session with the given flow and last activity.
func seedSession(t *testing.T, st store.SessionStore, user string, flow models.FlowID, step models.StepID, lastActivity time.Time) {
	t.Helper()
	sess := &models.Session{
		UserKey:        user,
		ActiveFlow:     flow,
		CurrentStep:    step,
		Slots:          map[string]string{"title": "solar lantern"},
		LastActivityAt: lastActivity,
		CreatedAt:      lastActivity,
	}
	if err := st.Commit(sess, 0); err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}
}

func TestSweepExpiresOnlyTimedOutSessions(t *testing.T) {
	reg := newTestRegistry(t)
	st := store.NewInMemoryStore()
	notifier := &recordingNotifier{}
	s := New(reg, st, WithNotifier(notifier))

	base := time.Now()
	s.now = func() time.Time { return base }

	// Agreement timeout is 30m: one well past it, one inside it.
	seedSession(t, st, "stale", models.FlowAgreement, "ASK_AMOUNT", base.Add(-2*time.Hour))
	seedSession(t, st, "fresh", models.FlowAgreement, "ASK_AMOUNT", base.Add(-5*time.Minute))

	expired, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expiry, got %d", expired)
	}

	stale, err := st.Load("stale")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !stale.Idle() || len(stale.Slots) != 0 || len(stale.Suspended) != 0 {
		t.Errorf("stale session not cleared: %+v", stale)
	}

	fresh, err := st.Load("fresh")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if fresh.ActiveFlow != models.FlowAgreement {
		t.Errorf("fresh session should be untouched: %+v", fresh)
	}

	if len(notifier.notices) != 1 || notifier.notices[0] != "stale:"+string(models.FlowAgreement) {
		t.Errorf("unexpected notices: %v", notifier.notices)
	}
}

func TestSweepRespectsPerFlowTimeouts(t *testing.T) {
	reg := newTestRegistry(t)
	st := store.NewInMemoryStore()
	s := New(reg, st)

	base := time.Now()
	s.now = func() time.Time { return base }

	// 15 minutes idle: past the 10m flash deal timeout, inside the 30m
	// agreement timeout.
	seedSession(t, st, "deal", models.FlowFlashDeal, "PICK_DEAL", base.Add(-15*time.Minute))
	seedSession(t, st, "agree", models.FlowAgreement, "ASK_DIRECTION", base.Add(-15*time.Minute))

	expired, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected only the flash deal to expire, got %d", expired)
	}
	agree, _ := st.Load("agree")
	if agree.ActiveFlow != models.FlowAgreement {
		t.Errorf("agreement session should survive: %+v", agree)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	st := store.NewInMemoryStore()
	s := New(reg, st)

	base := time.Now()
	s.now = func() time.Time { return base }
	seedSession(t, st, "stale", models.FlowAgreement, "ASK_AMOUNT", base.Add(-2*time.Hour))

	if n, err := s.Sweep(context.Background()); err != nil || n != 1 {
		t.Fatalf("first sweep: n=%d err=%v", n, err)
	}
	if n, err := s.Sweep(context.Background()); err != nil || n != 0 {
		t.Fatalf("second sweep should be a no-op: n=%d err=%v", n, err)
	}
}

// raceStore delays the sweep's view: the session it listed gets touched
// before the sweep commits, so the commit must lose and the sweep skip.
type raceStore struct {
	store.SessionStore
	touch func()
}

func (r *raceStore) ListActive(cutoff time.Time) ([]*models.Session, error) {
	sessions, err := r.SessionStore.ListActive(cutoff)
	if err == nil && r.touch != nil {
		r.touch()
	}
	return sessions, err
}

func TestSweepLosesRaceToLiveSession(t *testing.T) {
	reg := newTestRegistry(t)
	inner := store.NewInMemoryStore()

	base := time.Now()
	seedSession(t, inner, "busy", models.FlowAgreement, "ASK_AMOUNT", base.Add(-2*time.Hour))

	st := &raceStore{SessionStore: inner}
	st.touch = func() {
		sess, err := inner.Load("busy")
		if err != nil || sess == nil {
			t.Fatalf("race touch load failed: %v", err)
		}
		sess.LastActivityAt = base
		if err := inner.Commit(sess, sess.Version); err != nil {
			t.Fatalf("race touch commit failed: %v", err)
		}
	}

	s := New(reg, st)
	s.now = func() time.Time { return base }

	expired, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if expired != 0 {
		t.Errorf("sweep should lose the race, expired %d", expired)
	}
	busy, _ := inner.Load("busy")
	if busy.ActiveFlow != models.FlowAgreement {
		t.Errorf("live session must survive the sweep: %+v", busy)
	}
}
