// Package models defines session state structures for SokoLink flows.
package models

import "time"

// MaxSuspendedDepth bounds the suspended-flow stack. When a new flow is
// suspended onto a full stack the oldest snapshot is dropped.
const MaxSuspendedDepth = 5

// Snapshot captures a suspended flow so it can be resumed later with its
// collected slots intact.
type Snapshot struct {
	Flow  FlowID            `json:"flow"`
	Step  StepID            `json:"step"`
	Slots map[string]string `json:"slots,omitempty"`
}

// Session is the durable per-user record of conversational state. One
// session exists per user key. An empty ActiveFlow means the session is
// idle (no flow in progress).
type Session struct {
	UserKey        string            `json:"user_key"`
	ActiveFlow     FlowID            `json:"active_flow,omitempty"`
	CurrentStep    StepID            `json:"current_step,omitempty"`
	Slots          map[string]string `json:"slots,omitempty"`
	Suspended      []Snapshot        `json:"suspended,omitempty"` // LIFO, bounded by MaxSuspendedDepth
	LastActivityAt time.Time         `json:"last_activity_at"`
	CreatedAt      time.Time         `json:"created_at"`
	Version        int64             `json:"version"`
}

// Idle reports whether the session has no active flow.
func (s *Session) Idle() bool {
	return s.ActiveFlow == ""
}

// Clone returns a deep copy of the session. Engine transitions mutate a
// clone and commit it, leaving the loaded session untouched on failure.
func (s *Session) Clone() *Session {
	c := *s
	if s.Slots != nil {
		c.Slots = make(map[string]string, len(s.Slots))
		for k, v := range s.Slots {
			c.Slots[k] = v
		}
	}
	if s.Suspended != nil {
		c.Suspended = make([]Snapshot, len(s.Suspended))
		for i, snap := range s.Suspended {
			c.Suspended[i] = snap
			if snap.Slots != nil {
				c.Suspended[i].Slots = make(map[string]string, len(snap.Slots))
				for k, v := range snap.Slots {
					c.Suspended[i].Slots[k] = v
				}
			}
		}
	}
	return &c
}

// Suspend pushes the active flow onto the suspended stack and leaves the
// session idle. The oldest snapshot is dropped if the stack is full.
func (s *Session) Suspend() {
	if s.Idle() {
		return
	}
	snap := Snapshot{Flow: s.ActiveFlow, Step: s.CurrentStep, Slots: s.Slots}
	if len(s.Suspended) >= MaxSuspendedDepth {
		s.Suspended = s.Suspended[1:]
	}
	s.Suspended = append(s.Suspended, snap)
	s.ClearActive()
}

// Resume pops the most recent snapshot back into the active flow.
// It reports false if the stack is empty.
func (s *Session) Resume() bool {
	if len(s.Suspended) == 0 {
		return false
	}
	snap := s.Suspended[len(s.Suspended)-1]
	s.Suspended = s.Suspended[:len(s.Suspended)-1]
	s.ActiveFlow = snap.Flow
	s.CurrentStep = snap.Step
	s.Slots = snap.Slots
	if s.Slots == nil {
		s.Slots = make(map[string]string)
	}
	return true
}

// TopSuspended returns the most recent snapshot without popping it.
func (s *Session) TopSuspended() (Snapshot, bool) {
	if len(s.Suspended) == 0 {
		return Snapshot{}, false
	}
	return s.Suspended[len(s.Suspended)-1], true
}

// ClearActive drops the active flow and its slots, leaving the session
// idle. The suspended stack is not touched.
func (s *Session) ClearActive() {
	s.ActiveFlow = ""
	s.CurrentStep = ""
	s.Slots = make(map[string]string)
}

// StartFlow replaces the active flow with a fresh instance of the given
// flow at its initial step, with empty slots.
func (s *Session) StartFlow(flow *FlowDefinition) {
	s.ActiveFlow = flow.ID
	s.CurrentStep = flow.InitialStep
	s.Slots = make(map[string]string)
}
