package messaging

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sokolink/sokolink/internal/engine"
	"github.com/sokolink/sokolink/internal/models"
)

// EventHandler processes one inbound event into an instruction. The
// flow engine is the production implementation.
type EventHandler interface {
	HandleEvent(ctx context.Context, event models.InboundEvent) (models.OutboundInstruction, error)
}

// Renderer turns an engine instruction into user-facing message copy.
// The engine never constructs copy itself; deployments inject their
// own wording and localization here. An empty result suppresses the
// outbound send.
type Renderer interface {
	Render(instr models.OutboundInstruction) string
}

// RenderFunc adapts a function to the Renderer interface.
type RenderFunc func(instr models.OutboundInstruction) string

// Render calls f.
func (f RenderFunc) Render(instr models.OutboundInstruction) string {
	return f(instr)
}

// transientApology is sent when the engine gives up on a contended
// event; the user just resends their message.
const transientApology = "Sorry, something went wrong on our side. Please send that again."

// Pump consumes the channel's inbound events, runs each through the
// engine, renders the resulting instruction, and sends the reply.
type Pump struct {
	service  Service
	handler  EventHandler
	renderer Renderer
}

// NewPump creates a Pump over the given channel, handler, and renderer.
func NewPump(service Service, handler EventHandler, renderer Renderer) *Pump {
	return &Pump{service: service, handler: handler, renderer: renderer}
}

// Run consumes events until the context is cancelled or the channel's
// event stream closes. Per-event failures are logged and skipped; the
// pump itself only stops on shutdown.
func (p *Pump) Run(ctx context.Context) error {
	slog.Info("Event pump started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Event pump stopping", "reason", ctx.Err())
			return ctx.Err()
		case event, ok := <-p.service.Events():
			if !ok {
				slog.Info("Event pump stopping: event channel closed")
				return nil
			}
			p.handleOne(ctx, event)
		}
	}
}

// handleOne processes a single inbound event end to end.
func (p *Pump) handleOne(ctx context.Context, event models.InboundEvent) {
	instr, err := p.handler.HandleEvent(ctx, event)
	if err != nil {
		if errors.Is(err, engine.ErrTransient) {
			slog.Warn("Event pump transient failure, apologizing", "userKey", event.UserKey, "eventID", event.ID)
			p.send(ctx, event.UserKey, transientApology)
			return
		}
		slog.Error("Event pump handler failure", "error", err, "userKey", event.UserKey, "eventID", event.ID)
		return
	}

	body := p.renderer.Render(instr)
	if body == "" {
		slog.Debug("Event pump renderer suppressed reply", "userKey", event.UserKey, "kind", instr.Kind)
		return
	}
	p.send(ctx, event.UserKey, body)
}

func (p *Pump) send(ctx context.Context, to, body string) {
	if err := p.service.SendMessage(ctx, to, body); err != nil {
		slog.Error("Event pump send failure", "error", err, "to", to)
	}
}
