package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sokolink/sokolink/internal/models"
	"github.com/sokolink/sokolink/internal/twiliowhatsapp"
	"github.com/sokolink/sokolink/internal/util"
)

// TwilioService implements Service using the Twilio WhatsApp API.
// Inbound messages arrive via webhook rather than a live connection, so
// the HTTP layer must mount TwilioWebhookHandler.
type TwilioService struct {
	client  twiliowhatsapp.Sender
	events  chan models.InboundEvent
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client: client,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient reduces a recipient to bare digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op: Twilio delivers inbound messages via webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channel and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.events)
	return nil
}

// SendMessage sends a message via the Twilio API.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonical, body)
}

// Events returns the channel of normalized inbound events.
func (s *TwilioService) Events() <-chan models.InboundEvent {
	return s.events
}

// TwilioWebhookHandler handles inbound Twilio webhook requests and
// emits them as normalized events. Twilio WhatsApp webhooks carry
// location shares as Latitude/Longitude form fields and media as
// MediaUrl0; plain messages carry only Body.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	default:
	}

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	canonical, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("Twilio webhook invalid sender", "error", err, "from", from)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	event := translateTwilioForm(r)
	event.ID = r.FormValue("MessageSid")
	if event.ID == "" {
		event.ID = util.GenerateEventID()
	}
	event.UserKey = canonical
	event.Time = time.Now().Unix()

	slog.Debug("Twilio webhook received", "userKey", canonical, "kind", event.Kind)
	s.emit(event)

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// translateTwilioForm maps the webhook form fields onto an input kind.
func translateTwilioForm(r *http.Request) models.InboundEvent {
	if lat, latErr := strconv.ParseFloat(r.FormValue("Latitude"), 64); latErr == nil {
		if lon, lonErr := strconv.ParseFloat(r.FormValue("Longitude"), 64); lonErr == nil {
			return models.InboundEvent{Kind: models.InputLocation, Latitude: lat, Longitude: lon}
		}
	}
	if media := r.FormValue("MediaUrl0"); media != "" {
		return models.InboundEvent{Kind: models.InputMedia, MediaRef: media}
	}
	if payload := r.FormValue("ButtonPayload"); payload != "" {
		return models.InboundEvent{Kind: models.InputSingleChoice, ChoiceID: payload, Text: r.FormValue("ButtonText")}
	}
	return models.InboundEvent{Kind: models.InputFreeText, Text: r.FormValue("Body")}
}

// emit pushes an event without blocking the webhook handler. The read
// lock is held across the send: Stop closes the channel under the write
// lock, so a send can never race the close.
func (s *TwilioService) emit(event models.InboundEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound event (service stopped)", "userKey", event.UserKey)
		return
	}
	select {
	case s.events <- event:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService events channel blocked, dropping event", "userKey", event.UserKey)
	}
}
