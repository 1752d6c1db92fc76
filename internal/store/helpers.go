package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sokolink/sokolink/internal/models"
)

// encodeSlots marshals a slot map to JSON, returning "" for empty maps so
// nullable columns stay null.
func encodeSlots(slots map[string]string) (string, error) {
	if len(slots) == 0 {
		return "", nil
	}
	b, err := json.Marshal(slots)
	if err != nil {
		return "", fmt.Errorf("marshal slots failed: %w", err)
	}
	return string(b), nil
}

// encodeSuspended marshals the suspended-flow stack to JSON.
func encodeSuspended(stack []models.Snapshot) (string, error) {
	if len(stack) == 0 {
		return "", nil
	}
	b, err := json.Marshal(stack)
	if err != nil {
		return "", fmt.Errorf("marshal suspended stack failed: %w", err)
	}
	return string(b), nil
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner abstracts sql.Row and sql.Rows for session scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSession scans one session row in column order:
// user_key, active_flow, current_step, slots, suspended,
// last_activity_at, created_at, version.
func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var slotsJSON, suspendedJSON sql.NullString
	err := row.Scan(
		&sess.UserKey, &sess.ActiveFlow, &sess.CurrentStep,
		&slotsJSON, &suspendedJSON,
		&sess.LastActivityAt, &sess.CreatedAt, &sess.Version,
	)
	if err != nil {
		return nil, err
	}
	if slotsJSON.Valid && slotsJSON.String != "" {
		sess.Slots = make(map[string]string)
		if err := json.Unmarshal([]byte(slotsJSON.String), &sess.Slots); err != nil {
			return nil, fmt.Errorf("unmarshal slots failed: %w", err)
		}
	}
	if suspendedJSON.Valid && suspendedJSON.String != "" {
		if err := json.Unmarshal([]byte(suspendedJSON.String), &sess.Suspended); err != nil {
			return nil, fmt.Errorf("unmarshal suspended stack failed: %w", err)
		}
	}
	return &sess, nil
}
