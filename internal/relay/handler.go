package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/slateroom/slateroom/internal/application/config"
	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
	"github.com/slateroom/slateroom/internal/relay/appctx"
)

type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	hub      *Hub
	registry Registry
}

func NewWebSocketHandler(cfg *config.Config, hub *Hub, registry Registry) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				return r.Header.Get("Origin") == cfg.Domain
			},
		},
		hub:      hub,
		registry: registry,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	local, ok := appctx.LocalFrom(c.Request().Context())
	if !ok {
		return fmt.Errorf("get identity from context")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("websocket upgrade error", slog.Any(constant.Error, err))
		return err
	}
	defer ws.Close()

	conn := newSafeConn(ws)
	h.hub.Register(local, conn)
	defer func() {
		h.hub.Unregister(local, conn)
		if err := h.registry.Remove(context.Background(), local.Ref); err != nil {
			slog.Error("remove presence", slog.Any(constant.Error, err))
		}
	}()

	if err := h.registry.Refresh(c.Request().Context(), local); err != nil {
		slog.Error("initial presence refresh", slog.Any(constant.Error, err))
	}

	if err := ws.SetReadDeadline(time.Now().Add(constant.PongWait)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(constant.PongWait))
		return nil
	})

	ticker := time.NewTicker(constant.ChannelPingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.WritePing(); err != nil {
					slog.Error("ping failed", slog.Any(constant.Error, err))
					return
				}
			case <-c.Request().Context().Done():
				return
			}
		}
	}()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		default:
			_, msg, err := ws.ReadMessage()
			if err != nil {
				h.logReadError(err, local)
				return nil
			}

			ws.SetReadDeadline(time.Now().Add(constant.PongWait))

			env := new(protocol.Envelope)
			if err := json.Unmarshal(msg, env); err != nil {
				slog.Error("unmarshal envelope", slog.Any(constant.Error, err), slog.String(constant.Peer, local.Key()))
				continue
			}

			if err := h.handleEnvelope(c.Request().Context(), local, conn, env); err != nil {
				slog.Error(
					"handle envelope",
					slog.Any(constant.Error, err),
					slog.String(constant.MessageType, string(env.Type)),
					slog.String(constant.Peer, local.Key()),
				)
			}
		}
	}
}

func (h *WebSocketHandler) handleEnvelope(ctx context.Context, local identity.Local, conn Conn, env *protocol.Envelope) error {
	// The sender identity is stamped server-side; a client cannot speak
	// for anyone else.
	env.From = protocol.Addr(local.Ref)

	switch env.Type {
	case protocol.TypePing:
		pong, err := protocol.New(protocol.TypePong, env.SessionID, local.Ref, nil)
		if err != nil {
			return err
		}
		return conn.WriteJSON(pong)

	case protocol.TypeUserOnline:
		// Presence heartbeat: refresh the liveness record.
		return h.registry.Refresh(ctx, local)

	default:
		h.hub.Route(env)
		return nil
	}
}

func (h *WebSocketHandler) logReadError(err error, local identity.Local) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("participant disconnected", slog.String(constant.Peer, local.Key()))
		default:
			slog.Error("websocket close error", slog.Any(constant.Error, err), slog.String(constant.Peer, local.Key()))
		}
		return
	}

	slog.Error("websocket read", slog.Any(constant.Error, err), slog.String(constant.Peer, local.Key()))
}
