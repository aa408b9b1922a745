package ws

import (
	"context"
	"fmt"
	"log"
)

// Handler processes one inbound envelope for a session and returns the
// response envelope. Returning an error produces an error envelope for the
// sender; it never tears the session down.
type Handler func(ctx context.Context, s *Session, env Envelope) (Envelope, error)

// Dispatcher routes parsed envelopes to handlers by message type. The handler
// table is built once at startup; re-registering a tag overwrites the
// previous binding.
type Dispatcher struct {
	registry *Registry
	topics   *TopicIndex
	handlers map[MessageType]Handler
}

// NewDispatcher creates a dispatcher bound to the session registry and topic
// index (which serve subscribe/unsubscribe and pong directly).
func NewDispatcher(registry *Registry, topics *TopicIndex) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		topics:   topics,
		handlers: make(map[MessageType]Handler),
	}
}

// RegisterHandler binds a handler to a message type. Last registration wins.
func (d *Dispatcher) RegisterHandler(t MessageType, h Handler) {
	d.handlers[t] = h
}

// Dispatch routes one envelope. The returned bool is false when the message
// produces no response (pong). Handler panics and errors are contained here:
// only transport failures end a session.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, env Envelope) (resp Envelope, ok bool) {
	switch env.Type {
	case TypePong:
		s.Touch()
		return Envelope{}, false

	case TypeSubscribe:
		p, err := env.Topics()
		if err != nil {
			return ErrorEnvelope(CodeInvalidPayload, err.Error(), env.RequestID), true
		}
		d.topics.Subscribe(s.ID, p.Topics...)
		return NewEnvelope(TypeSubscriptionConfirmed, map[string]any{
			"action": "subscribe",
			"topics": p.Topics,
		}, env.RequestID), true

	case TypeUnsubscribe:
		p, err := env.Topics()
		if err != nil {
			return ErrorEnvelope(CodeInvalidPayload, err.Error(), env.RequestID), true
		}
		d.topics.Unsubscribe(s.ID, p.Topics...)
		return NewEnvelope(TypeSubscriptionConfirmed, map[string]any{
			"action": "unsubscribe",
			"topics": p.Topics,
		}, env.RequestID), true
	}

	h, found := d.handlers[env.Type]
	if !found {
		return ErrorEnvelope(CodeUnknownMessageType,
			fmt.Sprintf("no handler for message type %q", env.Type), env.RequestID), true
	}

	resp, err := d.safeInvoke(ctx, h, s, env)
	if err != nil {
		log.Printf("[WS] handler %s for session %s failed: %v", env.Type, s.ID, err)
		return ErrorEnvelope(CodeHandlerError, err.Error(), env.RequestID), true
	}
	if resp.RequestID == "" {
		resp.RequestID = env.RequestID
	}
	return resp, true
}

// safeInvoke contains handler panics so one misbehaving handler cannot take
// the read loop down with it.
func (d *Dispatcher) safeInvoke(ctx context.Context, h Handler, s *Session, env Envelope) (resp Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, s, env)
}
