// Package models defines the flow, step and session data types shared
// across the SokoLink conversational engine.
package models

import "time"

// FlowID identifies a multi-step conversation flow.
type FlowID string

// StepID identifies a single step within a flow.
type StepID string

// InputKind classifies the unit of user input a step expects.
type InputKind string

// Input kind constants.
const (
	InputFreeText     InputKind = "free_text"
	InputSingleChoice InputKind = "single_choice"
	InputMultiChoice  InputKind = "multi_choice"
	InputLocation     InputKind = "location"
	InputMedia        InputKind = "media"
	InputNone         InputKind = "none"
)

// Flow identifiers for the business flows shipped with the platform.
const (
	FlowMainMenu       FlowID = "MAIN_MENU"
	FlowRegistration   FlowID = "REGISTRATION"
	FlowAgreement      FlowID = "AGREEMENT_CREATE"
	FlowOfferPost      FlowID = "OFFER_POST"
	FlowProductRequest FlowID = "PRODUCT_REQUEST"
	FlowFishAlert      FlowID = "FISH_ALERT_SUBSCRIBE"
	FlowGigPost        FlowID = "GIG_POST"
	FlowFlashDeal      FlowID = "FLASH_DEAL_CLAIM"
)

// StepDefinition describes one step of a flow: what input it expects,
// which slot it writes, and its forward/back edges within the flow.
type StepDefinition struct {
	ID               StepID    `json:"id"`
	Expect           InputKind `json:"expect"`
	FieldName        string    `json:"field_name,omitempty"` // slot this step writes
	Optional         bool      `json:"optional,omitempty"`
	Terminal         bool      `json:"terminal,omitempty"`
	NonInterruptible bool      `json:"non_interruptible,omitempty"`
	Next             StepID    `json:"next,omitempty"` // default forward edge
	Prev             StepID    `json:"prev,omitempty"` // back edge for review/correction steps
}

// FlowDefinition is the immutable description of a flow, loaded at startup.
type FlowDefinition struct {
	ID           FlowID           `json:"id"`
	Steps        []StepDefinition `json:"steps"`
	InitialStep  StepID           `json:"initial_step"`
	RequiresAuth bool             `json:"requires_auth,omitempty"`
	Timeout      time.Duration    `json:"timeout"`
}

// Step returns the definition of the given step, if it belongs to the flow.
func (f *FlowDefinition) Step(id StepID) (StepDefinition, bool) {
	for _, s := range f.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return StepDefinition{}, false
}

// HasStep reports whether the given step belongs to the flow.
func (f *FlowDefinition) HasStep(id StepID) bool {
	_, ok := f.Step(id)
	return ok
}
