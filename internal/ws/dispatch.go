package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"talenttrade/backend/internal/service"
	apperrors "talenttrade/backend/pkg/errors"
	"talenttrade/backend/pkg/metrics"
)

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

// PresenceRequest is the presence:join and presence:leave payload
type PresenceRequest struct {
	ExchangeID string `json:"exchangeId"`
}

// PresenceLeft is the presence:user_left payload
type PresenceLeft struct {
	UserID string `json:"userId"`
}

// CallInitiated answers call:initiate
type CallInitiated struct {
	CallID string `json:"callId"`
}

// Pong answers ping
type Pong struct {
	Time int64 `json:"time"`
}

func (h *Hub) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"presence:join":  h.onPresenceJoin,
		"presence:leave": h.onPresenceLeave,
		"message:send":   h.onMessageSend,
		"typing:start":   h.onTyping(true),
		"typing:stop":    h.onTyping(false),
		"call:initiate":  h.onCallInitiate,
		"call:accept":    h.onCallAccept,
		"call:decline":   h.onCallDecline,
		"call:offer":     h.onCallRelay(service.RelayOffer),
		"call:answer":    h.onCallRelay(service.RelayAnswer),
		"call:ice":       h.onCallRelay(service.RelayICE),
		"call:end":       h.onCallEnd,
		"ping":           h.onPing,
	}
}

// dispatch runs one inbound event to completion. Failures are answered on
// the sender's connection only.
func (h *Hub) dispatch(c *Client, frame Frame) {
	log := c.log.WithEvent(frame.Event)
	handler, ok := h.handlers[frame.Event]
	if !ok {
		metrics.EventsTotal.WithLabelValues("unknown", metrics.OutcomeRejected).Inc()
		log.Warn("unknown event")
		c.emit("error", ErrorPayload{Message: "Unknown event"})
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.opts.EventTimeout)
	defer cancel()

	start := time.Now()
	err := apperrors.Guard(func() error {
		return handler(ctx, c, frame.Data)
	})
	metrics.EventDuration.WithLabelValues(frame.Event).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.EventsTotal.WithLabelValues(frame.Event, metrics.OutcomeOK).Inc()
		return
	}

	if apperrors.IsServerSide(err) {
		metrics.EventsTotal.WithLabelValues(frame.Event, metrics.OutcomeFailed).Inc()
		log.LogError(err, "event failed")
	} else {
		metrics.EventsTotal.WithLabelValues(frame.Event, metrics.OutcomeRejected).Inc()
		log.Warn("event refused", "error", err)
	}
	c.emit(errorEventFor(frame.Event), ErrorPayload{Message: apperrors.PublicMessage(err)})
}

func errorEventFor(event string) string {
	if strings.HasPrefix(event, "call:") {
		return "call:error"
	}
	return "error"
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Validation("Invalid payload")
	}
	return nil
}

func (h *Hub) onPresenceJoin(ctx context.Context, c *Client, data json.RawMessage) error {
	var req PresenceRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if _, err := h.svc.Chat.Authorize(ctx, c.UserID(), req.ExchangeID); err != nil {
		return err
	}
	room := service.ExchangeRoom(req.ExchangeID)
	h.rooms.Join(c, room)
	h.EmitToRoom(room, "presence:user_joined", PresenceUser{UserID: c.UserID(), Name: c.user.Name}, c.ID)
	return nil
}

func (h *Hub) onPresenceLeave(_ context.Context, c *Client, data json.RawMessage) error {
	var req PresenceRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.ExchangeID == "" {
		return apperrors.Validation("exchangeId is required")
	}
	room := service.ExchangeRoom(req.ExchangeID)
	h.rooms.Leave(c, room)
	h.EmitToRoom(room, "presence:user_left", PresenceLeft{UserID: c.UserID()}, c.ID)
	return nil
}

func (h *Hub) onMessageSend(ctx context.Context, c *Client, data json.RawMessage) error {
	var req service.SendMessageRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	_, err := h.svc.Chat.SendMessage(ctx, c.user, req)
	return err
}

func (h *Hub) onTyping(started bool) handlerFunc {
	return func(_ context.Context, c *Client, data json.RawMessage) error {
		var req service.TypingRequest
		if err := decode(data, &req); err != nil {
			return err
		}
		if started {
			return h.svc.Typing.Start(c.user, c.ID, req)
		}
		return h.svc.Typing.Stop(c.user, c.ID, req)
	}
}

func (h *Hub) onCallInitiate(ctx context.Context, c *Client, data json.RawMessage) error {
	var req service.InitiateCallRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	call, err := h.svc.Calls.Initiate(ctx, c.user, req)
	if err != nil {
		return err
	}
	c.emit("call:initiated", CallInitiated{CallID: call.ID})
	return nil
}

func (h *Hub) onCallAccept(ctx context.Context, c *Client, data json.RawMessage) error {
	var req service.CallRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	return h.svc.Calls.Accept(ctx, c.user, req)
}

func (h *Hub) onCallDecline(ctx context.Context, c *Client, data json.RawMessage) error {
	var req service.CallRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	return h.svc.Calls.Decline(ctx, c.user, req)
}

func (h *Hub) onCallRelay(kind service.RelayKind) handlerFunc {
	return func(ctx context.Context, c *Client, data json.RawMessage) error {
		var req service.RelayRequest
		if err := decode(data, &req); err != nil {
			return err
		}
		return h.svc.Calls.Relay(ctx, c.user, kind, req)
	}
}

func (h *Hub) onCallEnd(ctx context.Context, c *Client, data json.RawMessage) error {
	var req service.EndCallRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	return h.svc.Calls.End(ctx, c.user, req)
}

func (h *Hub) onPing(_ context.Context, c *Client, _ json.RawMessage) error {
	c.emit("pong", Pong{Time: h.now().UnixMilli()})
	return nil
}
