// Package messaging provides the pluggable chat channel abstraction
// and the event pump that feeds inbound messages to the flow engine.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/sokolink/sokolink/internal/models"
)

// Channel configuration constants.
const (
	// DefaultChannelBufferSize is the buffer size of the inbound event channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel emits; events
	// are dropped rather than blocking the transport's receive loop.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by send operations after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex strips everything but digits during canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service is a pluggable chat channel: it validates recipients, sends
// outbound text, and surfaces inbound messages as normalized events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient identifier according to the channel's rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing (event polling, webhooks).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channel.
	Stop() error

	// Events returns the channel of normalized inbound events.
	Events() <-chan models.InboundEvent
}

// canonicalizePhone validates a phone-number recipient and reduces it
// to bare digits. Both channel implementations share these rules.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: too short")
	}
	return canonical, nil
}
