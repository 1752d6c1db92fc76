// Package store provides session storage backends for SokoLink.
//
// It includes an in-memory store for tests and development, plus SQLite
// and PostgreSQL backends. All backends implement the same keyed,
// versioned document contract: Commit is an atomic compare-and-swap on
// the session version, so two concurrent writers for the same user key
// can never both succeed against the same base version.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/sokolink/sokolink/internal/models"
)

// ErrVersionConflict is returned by Commit when the stored session
// version no longer matches the expected base version. The caller must
// reload and re-apply.
var ErrVersionConflict = errors.New("session version conflict")

// SessionStore is the keyed, versioned session document contract.
// No flow or business logic lives behind it.
type SessionStore interface {
	// Load returns the session for the user key, or nil if none exists.
	Load(userKey string) (*models.Session, error)

	// Commit writes the session if the stored version still equals
	// expectedVersion, incrementing the session version. expectedVersion 0
	// means the session must not exist yet. Returns ErrVersionConflict if
	// another writer got there first.
	Commit(session *models.Session, expectedVersion int64) error

	// Delete removes the session for the user key. Deleting a missing
	// session is not an error.
	Delete(userKey string) error

	// ListActive returns sessions with an active flow whose last activity
	// is before the cutoff. Used by the timeout sweeper.
	ListActive(cutoff time.Time) ([]*models.Session, error)

	// Close releases backend resources.
	Close() error
}

// InMemoryStore is a mutex-guarded map implementation of SessionStore.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

// NewInMemoryStore creates an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*models.Session)}
}

// Load returns a copy of the stored session, or nil if none exists.
func (s *InMemoryStore) Load(userKey string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userKey]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

// Commit performs the compare-and-swap write.
func (s *InMemoryStore) Commit(session *models.Session, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.sessions[session.UserKey]
	if expectedVersion == 0 {
		if exists {
			return ErrVersionConflict
		}
	} else {
		if !exists || current.Version != expectedVersion {
			return ErrVersionConflict
		}
	}
	committed := session.Clone()
	committed.Version = expectedVersion + 1
	s.sessions[session.UserKey] = committed
	session.Version = committed.Version
	return nil
}

// Delete removes the session for the user key.
func (s *InMemoryStore) Delete(userKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userKey)
	return nil
}

// ListActive returns copies of non-idle sessions last touched before cutoff.
func (s *InMemoryStore) ListActive(cutoff time.Time) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Session
	for _, sess := range s.sessions {
		if !sess.Idle() && sess.LastActivityAt.Before(cutoff) {
			out = append(out, sess.Clone())
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
