// Package relay is the channel server: it authenticates participants,
// holds their websocket connections, and routes addressed envelopes
// between them.
package relay

import (
	"log/slog"
	"sync"

	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/application/metric"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
)

// Conn is the write half of one participant's websocket.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Hub maps connected participants to their connections and fans
// envelopes out to their recipients.
type Hub struct {
	mu    sync.RWMutex
	peers map[string]Conn
	names map[string]identity.Local
}

func NewHub() *Hub {
	return &Hub{
		peers: make(map[string]Conn),
		names: make(map[string]identity.Local),
	}
}

// Register adds a connection, announces the arrival to everyone else,
// and replays the current roster to the newcomer so a late joiner sees
// everyone who arrived before it. A second connection for the same
// identity replaces the first.
func (h *Hub) Register(local identity.Local, conn Conn) {
	h.mu.Lock()
	if old, ok := h.peers[local.Key()]; ok {
		old.Close()
	}
	h.peers[local.Key()] = conn
	h.names[local.Key()] = local

	incumbents := make([]identity.Local, 0, len(h.names))
	for key, peer := range h.names {
		if key == local.Key() {
			continue
		}
		incumbents = append(incumbents, peer)
	}
	h.mu.Unlock()

	metric.IncrementWSActiveConnections()
	h.announce(protocol.TypeUserOnline, local)

	for _, peer := range incumbents {
		env, err := presenceEnvelope(protocol.TypeUserOnline, peer)
		if err != nil {
			slog.Error("build roster envelope", slog.Any(constant.Error, err))
			continue
		}
		if err := conn.WriteJSON(env); err != nil {
			slog.Error("replay roster", slog.Any(constant.Error, err), slog.String(constant.Peer, peer.Key()))
		}
	}
}

// Unregister drops a connection and announces the departure. The conn
// is compared so a stale goroutine cannot unregister a replacement.
func (h *Hub) Unregister(local identity.Local, conn Conn) {
	h.mu.Lock()
	current, ok := h.peers[local.Key()]
	if !ok || current != conn {
		h.mu.Unlock()
		return
	}
	delete(h.peers, local.Key())
	delete(h.names, local.Key())
	h.mu.Unlock()

	metric.DecrementWSActiveConnections()
	h.announce(protocol.TypeUserOffline, local)
}

// Connected reports whether the identity has a live connection.
func (h *Hub) Connected(ref identity.Ref) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.peers[ref.Key()]
	return ok
}

// Route delivers an envelope to each of its recipients. A missing
// recipient is logged and skipped; the rest still receive their copy.
func (h *Hub) Route(env *protocol.Envelope) {
	for _, to := range env.To {
		ref := to.Ref()

		h.mu.RLock()
		conn, ok := h.peers[ref.Key()]
		h.mu.RUnlock()

		if !ok {
			slog.Info(
				"recipient not connected, dropping",
				slog.String(constant.MessageType, string(env.Type)),
				slog.String(constant.Peer, ref.Key()),
			)
			metric.RecordMessageDropped(string(env.Type))
			continue
		}

		if err := conn.WriteJSON(env); err != nil {
			slog.Error(
				"route envelope",
				slog.Any(constant.Error, err),
				slog.String(constant.MessageType, string(env.Type)),
				slog.String(constant.Peer, ref.Key()),
			)
			continue
		}

		metric.RecordMessageRouted(string(env.Type))
	}
}

func presenceEnvelope(t protocol.Type, subject identity.Local) (*protocol.Envelope, error) {
	return protocol.New(t, "", subject.Ref, protocol.PresenceEvent{
		ProfileID:   subject.ProfileID,
		ProfileKind: string(subject.Kind),
		DisplayName: subject.DisplayName,
	})
}

// announce broadcasts a presence transition to everyone but the subject.
func (h *Hub) announce(t protocol.Type, subject identity.Local) {
	env, err := presenceEnvelope(t, subject)
	if err != nil {
		slog.Error("build presence envelope", slog.Any(constant.Error, err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for key, conn := range h.peers {
		if key == subject.Key() {
			continue
		}
		if err := conn.WriteJSON(env); err != nil {
			slog.Error("announce presence", slog.Any(constant.Error, err), slog.String(constant.Peer, key))
		}
	}
}
