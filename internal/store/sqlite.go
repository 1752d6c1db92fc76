// Package store provides session storage backends for SokoLink.
//
// This file implements the SQLite-backed session store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sokolink/sokolink/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a SessionStore backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite session store with the given DSN.
// The DSN should be a file path to the SQLite database file. If the
// directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load retrieves the session for a user key, or nil if none exists.
func (s *SQLiteStore) Load(userKey string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT user_key, active_flow, current_step, slots, suspended, last_activity_at, created_at, version
		FROM sessions WHERE user_key = ?`, userKey)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore Load not found", "userKey", userKey)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore Load failed", "error", err, "userKey", userKey)
		return nil, fmt.Errorf("failed to load session for %s: %w", userKey, err)
	}
	slog.Debug("SQLiteStore Load succeeded", "userKey", userKey, "flow", sess.ActiveFlow, "version", sess.Version)
	return sess, nil
}

// Commit writes the session via compare-and-swap on the version column.
func (s *SQLiteStore) Commit(session *models.Session, expectedVersion int64) error {
	slotsJSON, err := encodeSlots(session.Slots)
	if err != nil {
		slog.Error("SQLiteStore Commit slot encoding failed", "error", err, "userKey", session.UserKey)
		return err
	}
	suspendedJSON, err := encodeSuspended(session.Suspended)
	if err != nil {
		slog.Error("SQLiteStore Commit stack encoding failed", "error", err, "userKey", session.UserKey)
		return err
	}

	newVersion := expectedVersion + 1
	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.Exec(`INSERT OR IGNORE INTO sessions
			(user_key, active_flow, current_step, slots, suspended, last_activity_at, created_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			session.UserKey, string(session.ActiveFlow), string(session.CurrentStep),
			nilIfEmpty(slotsJSON), nilIfEmpty(suspendedJSON),
			session.LastActivityAt, session.CreatedAt, newVersion)
	} else {
		res, err = s.db.Exec(`UPDATE sessions
			SET active_flow = ?, current_step = ?, slots = ?, suspended = ?, last_activity_at = ?, version = ?
			WHERE user_key = ? AND version = ?`,
			string(session.ActiveFlow), string(session.CurrentStep),
			nilIfEmpty(slotsJSON), nilIfEmpty(suspendedJSON),
			session.LastActivityAt, newVersion,
			session.UserKey, expectedVersion)
	}
	if err != nil {
		slog.Error("SQLiteStore Commit failed", "error", err, "userKey", session.UserKey)
		return fmt.Errorf("failed to commit session for %s: %w", session.UserKey, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		slog.Error("SQLiteStore Commit rows affected failed", "error", err, "userKey", session.UserKey)
		return err
	}
	if affected == 0 {
		slog.Debug("SQLiteStore Commit version conflict", "userKey", session.UserKey, "expectedVersion", expectedVersion)
		return ErrVersionConflict
	}

	session.Version = newVersion
	slog.Debug("SQLiteStore Commit succeeded", "userKey", session.UserKey, "version", newVersion)
	return nil
}

// Delete removes the session for a user key.
func (s *SQLiteStore) Delete(userKey string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE user_key = ?`, userKey)
	if err != nil {
		slog.Error("SQLiteStore Delete failed", "error", err, "userKey", userKey)
		return fmt.Errorf("failed to delete session for %s: %w", userKey, err)
	}
	slog.Debug("SQLiteStore Delete succeeded", "userKey", userKey)
	return nil
}

// ListActive returns non-idle sessions last touched before the cutoff.
func (s *SQLiteStore) ListActive(cutoff time.Time) ([]*models.Session, error) {
	rows, err := s.db.Query(`SELECT user_key, active_flow, current_step, slots, suspended, last_activity_at, created_at, version
		FROM sessions WHERE active_flow != '' AND last_activity_at < ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore ListActive query failed", "error", err)
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			slog.Error("SQLiteStore ListActive scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListActive rows iteration failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore ListActive succeeded", "count", len(sessions))
	return sessions, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
