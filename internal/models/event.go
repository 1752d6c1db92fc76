// Package models defines the inbound event and outbound instruction
// contracts between the transport layer and the flow engine.
package models

import "strings"

// InboundEvent is a normalized chat event delivered by the transport
// layer. The transport is responsible for parsing channel-specific
// payloads; the engine only ever sees this shape.
type InboundEvent struct {
	ID        string    `json:"id"`
	UserKey   string    `json:"user_key"`
	Kind      InputKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	ChoiceID  string    `json:"choice_id,omitempty"`
	Choices   []string  `json:"choices,omitempty"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
	MediaRef  string    `json:"media_ref,omitempty"`
	Time      int64     `json:"time,omitempty"`
}

// NormalizedInput is the engine-internal view of an inbound event after
// classification. Skipped marks the sentinel value passed to handlers
// when an optional step is skipped.
type NormalizedInput struct {
	Kind      InputKind
	Text      string
	ChoiceID  string
	Choices   []string
	Latitude  float64
	Longitude float64
	MediaRef  string
	Skipped   bool
}

// InstructionKind classifies what the transport should present next.
type InstructionKind string

// Instruction kind constants.
const (
	InstructionPrompt    InstructionKind = "prompt"
	InstructionReprompt  InstructionKind = "reprompt"
	InstructionTerminate InstructionKind = "terminate"
	InstructionError     InstructionKind = "error"
)

// Reprompt/error reason codes carried on OutboundInstruction.
const (
	ReasonTypeMismatch  = "type_mismatch"
	ReasonCancelled     = "cancelled"
	ReasonRetry         = "retry"
	ReasonBusy          = "busy"
	ReasonExpired       = "session_expired"
	ReasonInternal      = "internal"
	ReasonNothingToDo   = "nothing_to_resume"
	ReasonAuthRequired  = "auth_required"
	ReasonStaleDelivery = "stale_delivery"
)

// OutboundInstruction tells the transport layer what to render next. The
// engine never constructs user-facing copy; RenderHints is an opaque bag
// supplied by the flow handler.
type OutboundInstruction struct {
	Kind        InstructionKind   `json:"kind"`
	Flow        FlowID            `json:"flow,omitempty"`
	Step        StepID            `json:"step,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	RenderHints map[string]string `json:"render_hints,omitempty"`
}

// StepResult is what a flow handler returns from Process. Exactly one of
// the outcomes applies: advance to Next, Retry the current step,
// Terminate the flow, or chain into StartFlow (used by menu selections).
type StepResult struct {
	Next        StepID
	SlotUpdates map[string]string
	Retry       bool
	RetryReason string
	Terminate   bool
	StartFlow   FlowID
	Hints       map[string]string
}

// GlobalCommand is a flow-independent command recognized at any step.
type GlobalCommand string

// Global command constants.
const (
	CommandNone   GlobalCommand = ""
	CommandMenu   GlobalCommand = "menu"
	CommandCancel GlobalCommand = "cancel"
	CommandResume GlobalCommand = "resume"
)

// SkipToken is the recognized token for skipping an optional step.
const SkipToken = "skip"

// ParseGlobalCommand recognizes flow-independent commands in free text.
// Checked before step-specific dispatch.
func ParseGlobalCommand(text string) GlobalCommand {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "menu", "0":
		return CommandMenu
	case "cancel", "#":
		return CommandCancel
	case "resume", "9":
		return CommandResume
	default:
		return CommandNone
	}
}

// IsSkipToken reports whether the text is the skip token for optional steps.
func IsSkipToken(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), SkipToken)
}
