package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/sokolink/sokolink/internal/models"
	"github.com/sokolink/sokolink/internal/whatsapp"
)

// WhatsAppService implements Service over the Whatsmeow-based client.
// It translates raw WhatsApp events (text, list replies, locations,
// images) into normalized inbound events.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // nil when constructed with a mock sender
	events   chan models.InboundEvent
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
}

// NewWhatsAppService creates a WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{
		client: client,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return s
}

// ValidateAndCanonicalizeRecipient reduces a WhatsApp recipient to bare
// digits suitable for JID construction.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start registers the inbound event handler on the underlying client.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling")
		return nil
	}
	go s.handleEvents(ctx)
	return nil
}

// Stop stops background processing and closes the event channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.events)
	slog.Info("WhatsAppService stopped")
	return nil
}

// SendMessage sends a text message through the WhatsApp client.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonical)
		return err
	}
	slog.Debug("WhatsAppService message sent", "to", canonical, "body_length", len(body))
	return nil
}

// Events returns the channel of normalized inbound events.
func (s *WhatsAppService) Events() <-chan models.InboundEvent {
	return s.events
}

// handleEvents registers the whatsmeow event handler and keeps it
// running until the context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	client := s.waClient.GetClient()
	if client == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}
	client.AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	slog.Debug("WhatsAppService event handler registered")
	select {
	case <-ctx.Done():
		slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
	case <-s.done:
		slog.Debug("WhatsAppService handleEvents stopping, service stopped")
	}
}

// handleIncomingMessage translates one WhatsApp message into a
// normalized inbound event and emits it.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}
	event, ok := translateMessage(evt.Message)
	if !ok {
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", evt.Info.Sender.String())
		return
	}
	// WhatsApp stamps every message with its own ID; keep it so replayed
	// deliveries stay recognizable downstream.
	event.ID = string(evt.Info.ID)
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.UserKey = evt.Info.Sender.User
	event.Time = evt.Info.Timestamp.Unix()

	s.emit(event)
}

// translateMessage maps the WhatsApp payload variants onto input kinds.
// Unsupported payloads (stickers, audio, reactions) report false.
func translateMessage(msg *waE2E.Message) (models.InboundEvent, bool) {
	switch {
	case msg.GetConversation() != "":
		return models.InboundEvent{Kind: models.InputFreeText, Text: msg.GetConversation()}, true

	case msg.GetExtendedTextMessage().GetText() != "":
		return models.InboundEvent{Kind: models.InputFreeText, Text: msg.GetExtendedTextMessage().GetText()}, true

	case msg.GetListResponseMessage() != nil:
		// Interactive list reply: the row ID is the choice.
		reply := msg.GetListResponseMessage()
		return models.InboundEvent{
			Kind:     models.InputSingleChoice,
			ChoiceID: reply.GetSingleSelectReply().GetSelectedRowID(),
			Text:     reply.GetTitle(),
		}, true

	case msg.GetButtonsResponseMessage() != nil:
		reply := msg.GetButtonsResponseMessage()
		return models.InboundEvent{
			Kind:     models.InputSingleChoice,
			ChoiceID: reply.GetSelectedButtonID(),
			Text:     reply.GetSelectedDisplayText(),
		}, true

	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		return models.InboundEvent{
			Kind:      models.InputLocation,
			Latitude:  loc.GetDegreesLatitude(),
			Longitude: loc.GetDegreesLongitude(),
		}, true

	case msg.GetImageMessage() != nil:
		// The engine only needs a stable reference; media download is
		// deferred until a flow actually consumes the photo.
		return models.InboundEvent{
			Kind:     models.InputMedia,
			MediaRef: msg.GetImageMessage().GetDirectPath(),
		}, true
	}
	return models.InboundEvent{}, false
}

// emit pushes an event without blocking the whatsmeow receive loop. The
// read lock is held across the send: Stop closes the channel under the
// write lock, so a send can never race the close.
func (s *WhatsAppService) emit(event models.InboundEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping inbound event (service stopped)", "userKey", event.UserKey)
		return
	}
	select {
	case s.events <- event:
		slog.Debug("WhatsAppService inbound event forwarded", "userKey", event.UserKey, "kind", event.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService events channel blocked, dropping event", "userKey", event.UserKey)
	}
}
