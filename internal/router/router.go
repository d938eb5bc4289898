// Package router wraps the persistent channel: it tags outgoing
// messages with the sender identity, addresses them to one or more
// recipients, and dispatches inbound messages to handlers by kind.
package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/application/metric"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
	"github.com/slateroom/slateroom/internal/session"
)

// Transport is the write half of the channel.
type Transport interface {
	WriteEnvelope(env *protocol.Envelope) error
}

// Handler processes one inbound envelope. A handler error is logged and
// never aborts the channel's processing loop.
type Handler func(ctx context.Context, env *protocol.Envelope) error

type Router struct {
	sess      *session.Session
	transport Transport

	mu       sync.RWMutex
	handlers map[protocol.Type]Handler
}

func New(sess *session.Session, transport Transport) *Router {
	return &Router{
		sess:      sess,
		transport: transport,
		handlers:  make(map[protocol.Type]Handler),
	}
}

// Handle registers the handler for a message kind. Last registration
// wins; registration happens once at wiring time.
func (r *Router) Handle(t protocol.Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[t] = h
}

// Send addresses payload to the given recipients. When no recipient can
// be resolved the message is dropped with a log line rather than
// surfaced as an error: it almost always means a stale or departed
// participant.
func (r *Router) Send(t protocol.Type, payload any, to ...identity.Ref) error {
	recipients := make([]identity.Ref, 0, len(to))
	for _, ref := range to {
		if !ref.IsZero() {
			recipients = append(recipients, ref)
		}
	}

	if len(recipients) == 0 {
		slog.Warn(
			"dropping unroutable message",
			slog.String(constant.MessageType, string(t)),
			slog.String(constant.SessionID, r.sess.ID.String()),
		)
		metric.RecordMessageDropped(string(t))
		return nil
	}

	env, err := protocol.New(t, r.sess.ID.String(), r.sess.Local.Ref, payload, recipients...)
	if err != nil {
		return err
	}

	if err := r.transport.WriteEnvelope(env); err != nil {
		return err
	}

	metric.RecordMessageRouted(string(t))
	return nil
}

// Broadcast sends payload to every known session participant.
func (r *Router) Broadcast(t protocol.Type, payload any) error {
	return r.Send(t, payload, r.sess.Refs()...)
}

// Dispatch hands an inbound envelope to its handler. Unknown kinds and
// handler failures are logged and swallowed so one bad message never
// takes the loop down.
func (r *Router) Dispatch(ctx context.Context, env *protocol.Envelope) {
	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()

	if !ok {
		slog.Debug(
			"no handler for message",
			slog.String(constant.MessageType, string(env.Type)),
		)
		return
	}

	if err := h(ctx, env); err != nil {
		slog.Error(
			"handle message",
			slog.Any(constant.Error, err),
			slog.String(constant.MessageType, string(env.Type)),
			slog.Int64(constant.ProfileID, env.From.ProfileID),
		)
	}
}
