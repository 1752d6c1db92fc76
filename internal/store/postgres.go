// Package store provides session storage backends for SokoLink.
//
// This file implements the PostgreSQL-backed session store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/sokolink/sokolink/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a SessionStore backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres session store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Load retrieves the session for a user key, or nil if none exists.
func (s *PostgresStore) Load(userKey string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT user_key, active_flow, current_step, slots, suspended, last_activity_at, created_at, version
		FROM sessions WHERE user_key = $1`, userKey)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore Load not found", "userKey", userKey)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore Load failed", "error", err, "userKey", userKey)
		return nil, fmt.Errorf("failed to load session for %s: %w", userKey, err)
	}
	slog.Debug("PostgresStore Load succeeded", "userKey", userKey, "flow", sess.ActiveFlow, "version", sess.Version)
	return sess, nil
}

// Commit writes the session via compare-and-swap on the version column.
func (s *PostgresStore) Commit(session *models.Session, expectedVersion int64) error {
	slotsJSON, err := encodeSlots(session.Slots)
	if err != nil {
		slog.Error("PostgresStore Commit slot encoding failed", "error", err, "userKey", session.UserKey)
		return err
	}
	suspendedJSON, err := encodeSuspended(session.Suspended)
	if err != nil {
		slog.Error("PostgresStore Commit stack encoding failed", "error", err, "userKey", session.UserKey)
		return err
	}

	newVersion := expectedVersion + 1
	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.Exec(`INSERT INTO sessions
			(user_key, active_flow, current_step, slots, suspended, last_activity_at, created_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_key) DO NOTHING`,
			session.UserKey, string(session.ActiveFlow), string(session.CurrentStep),
			nilIfEmpty(slotsJSON), nilIfEmpty(suspendedJSON),
			session.LastActivityAt, session.CreatedAt, newVersion)
	} else {
		res, err = s.db.Exec(`UPDATE sessions
			SET active_flow = $1, current_step = $2, slots = $3, suspended = $4, last_activity_at = $5, version = $6
			WHERE user_key = $7 AND version = $8`,
			string(session.ActiveFlow), string(session.CurrentStep),
			nilIfEmpty(slotsJSON), nilIfEmpty(suspendedJSON),
			session.LastActivityAt, newVersion,
			session.UserKey, expectedVersion)
	}
	if err != nil {
		slog.Error("PostgresStore Commit failed", "error", err, "userKey", session.UserKey)
		return fmt.Errorf("failed to commit session for %s: %w", session.UserKey, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		slog.Error("PostgresStore Commit rows affected failed", "error", err, "userKey", session.UserKey)
		return err
	}
	if affected == 0 {
		slog.Debug("PostgresStore Commit version conflict", "userKey", session.UserKey, "expectedVersion", expectedVersion)
		return ErrVersionConflict
	}

	session.Version = newVersion
	slog.Debug("PostgresStore Commit succeeded", "userKey", session.UserKey, "version", newVersion)
	return nil
}

// Delete removes the session for a user key.
func (s *PostgresStore) Delete(userKey string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE user_key = $1`, userKey)
	if err != nil {
		slog.Error("PostgresStore Delete failed", "error", err, "userKey", userKey)
		return fmt.Errorf("failed to delete session for %s: %w", userKey, err)
	}
	slog.Debug("PostgresStore Delete succeeded", "userKey", userKey)
	return nil
}

// ListActive returns non-idle sessions last touched before the cutoff.
func (s *PostgresStore) ListActive(cutoff time.Time) ([]*models.Session, error) {
	rows, err := s.db.Query(`SELECT user_key, active_flow, current_step, slots, suspended, last_activity_at, created_at, version
		FROM sessions WHERE active_flow != '' AND last_activity_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore ListActive query failed", "error", err)
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			slog.Error("PostgresStore ListActive scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListActive rows iteration failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore ListActive succeeded", "count", len(sessions))
	return sessions, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
