// Package sweeper expires abandoned sessions in the background.
//
// The engine already expires a stale session when its user comes back;
// the sweeper covers users who never come back, so reserved resources
// (a held flash deal, a half-written offer) are released and the user
// can be told their session lapsed.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sokolink/sokolink/internal/models"
	"github.com/sokolink/sokolink/internal/registry"
	"github.com/sokolink/sokolink/internal/store"
)

// Notifier delivers best-effort expiry notices. A failed notice is
// logged and dropped; the expiry itself has already been committed.
type Notifier interface {
	NotifyExpired(ctx context.Context, userKey string, flow models.FlowID)
}

// Opts holds configuration options for the sweeper.
type Opts struct {
	Notifier Notifier
}

// Option configures the sweeper.
type Option func(*Opts)

// WithNotifier sets the expiry notifier.
func WithNotifier(n Notifier) Option {
	return func(o *Opts) {
		o.Notifier = n
	}
}

// Sweeper scans for sessions whose flow timeout has elapsed and
// force-terminates them through the same versioned commit path the
// engine uses, so a sweep can never clobber a live transition.
type Sweeper struct {
	registry *registry.Registry
	store    store.SessionStore
	notifier Notifier
	now      func() time.Time
}

// New creates a Sweeper over the given flow registry and session store.
func New(reg *registry.Registry, st store.SessionStore, opts ...Option) *Sweeper {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Sweeper{
		registry: reg,
		store:    st,
		notifier: cfg.Notifier,
		now:      time.Now,
	}
}

// Sweep runs one pass and returns the number of sessions expired.
// It is idempotent: sessions already expired or touched since the scan
// are skipped via the version check.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.shortestTimeout())

	candidates, err := s.store.ListActive(cutoff)
	if err != nil {
		slog.Error("Sweeper failed to list candidate sessions", "error", err)
		return 0, err
	}
	slog.Debug("Sweeper pass started", "candidates", len(candidates))

	expired := 0
	for _, sess := range candidates {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if s.sweepOne(ctx, sess, now) {
			expired++
		}
	}
	if expired > 0 {
		slog.Info("Sweeper pass completed", "candidates", len(candidates), "expired", expired)
	}
	return expired, nil
}

// sweepOne expires a single candidate if its flow timeout has elapsed.
func (s *Sweeper) sweepOne(ctx context.Context, sess *models.Session, now time.Time) bool {
	def, err := s.registry.Resolve(sess.ActiveFlow)
	if err != nil {
		// Session from an older deployment; the engine resets these on
		// the user's next message, the sweeper leaves them alone.
		slog.Warn("Sweeper skipping session with unknown flow", "userKey", sess.UserKey, "flow", sess.ActiveFlow)
		return false
	}
	if now.Sub(sess.LastActivityAt) <= def.Timeout {
		return false
	}

	flow := sess.ActiveFlow
	next := sess.Clone()
	next.ClearActive()
	next.Suspended = nil
	next.LastActivityAt = now
	if err := s.store.Commit(next, sess.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// The user came back between scan and commit. Their message
			// wins; nothing to expire.
			slog.Debug("Sweeper lost race to live session", "userKey", sess.UserKey)
			return false
		}
		slog.Error("Sweeper failed to commit expiry", "error", err, "userKey", sess.UserKey)
		return false
	}

	slog.Info("Sweeper expired session", "userKey", sess.UserKey, "flow", flow, "idle", now.Sub(sess.LastActivityAt).Round(time.Second))
	if s.notifier != nil {
		s.notifier.NotifyExpired(ctx, sess.UserKey, flow)
	}
	return true
}

// shortestTimeout returns the smallest flow timeout in the registry,
// used as the scan cutoff so no expirable session is missed.
func (s *Sweeper) shortestTimeout() time.Duration {
	shortest := time.Duration(0)
	for _, id := range s.registry.FlowIDs() {
		def, err := s.registry.Resolve(id)
		if err != nil {
			continue
		}
		if shortest == 0 || def.Timeout < shortest {
			shortest = def.Timeout
		}
	}
	if shortest == 0 {
		shortest = time.Minute
	}
	return shortest
}
