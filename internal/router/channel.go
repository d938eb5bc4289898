package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
)

// Channel maintains the persistent websocket to the relay, reconnecting
// with a capped backoff after unexpected closures. The delay is shorter
// while a call is active.
type Channel struct {
	url   string
	token string
	local identity.Local

	dialer *websocket.Dialer

	dispatch    func(ctx context.Context, env *protocol.Envelope)
	callActive  func() bool
	sessionOpen func() bool

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func NewChannel(url, token string, local identity.Local) *Channel {
	return &Channel{
		url:         url,
		token:       token,
		local:       local,
		dialer:      websocket.DefaultDialer,
		dispatch:    func(context.Context, *protocol.Envelope) {},
		callActive:  func() bool { return false },
		sessionOpen: func() bool { return false },
	}
}

// OnEnvelope sets the inbound dispatch function. Messages arrive one at
// a time in arrival order.
func (c *Channel) OnEnvelope(f func(ctx context.Context, env *protocol.Envelope)) {
	c.dispatch = f
}

// SetCallActive supplies the check used to pick the reconnect delay.
func (c *Channel) SetCallActive(f func() bool) {
	c.callActive = f
}

// SetSessionOpen gates the presence heartbeat.
func (c *Channel) SetSessionOpen(f func() bool) {
	c.sessionOpen = f
}

// Run connects and keeps the channel alive until ctx is cancelled.
func (c *Channel) Run(ctx context.Context) error {
	for {
		if err := c.connect(ctx); err != nil {
			slog.Error("channel dial failed", slog.Any(constant.Error, err))
		} else {
			c.readLoop(ctx)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := constant.ReconnectIdle
		if c.callActive() {
			delay = constant.ReconnectInCall
		}

		slog.Info("channel closed, reconnecting", slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Channel) connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	return nil
}

func (c *Channel) readLoop(ctx context.Context) {
	conn := c.current()
	if conn == nil {
		return
	}

	defer func() {
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
		conn.Close()
	}()

	heartbeatCtx, stopHeartbeats := context.WithCancel(ctx)
	defer stopHeartbeats()
	go c.heartbeats(heartbeatCtx)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(constant.PongWait)); err != nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		env := new(protocol.Envelope)
		if err := json.Unmarshal(msg, env); err != nil {
			// Malformed inbound messages are logged and ignored;
			// they must never crash the handler loop.
			slog.Error("unmarshal channel message", slog.Any(constant.Error, err))
			continue
		}

		c.dispatch(ctx, env)
	}
}

// heartbeats runs the two fire-and-forget timers: a connectivity ping
// every 30s and, while a session is open, a presence report every 15s.
// Neither expects an acknowledgment.
func (c *Channel) heartbeats(ctx context.Context) {
	ping := time.NewTicker(constant.ChannelPingInterval)
	defer ping.Stop()

	presence := time.NewTicker(constant.PresenceInterval)
	defer presence.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			env, err := protocol.New(protocol.TypePing, "", c.local.Ref, nil)
			if err != nil {
				continue
			}
			if err := c.WriteEnvelope(env); err != nil {
				slog.Error("ping failed", slog.Any(constant.Error, err))
				return
			}
		case <-presence.C:
			if !c.sessionOpen() {
				continue
			}
			env, err := protocol.New(protocol.TypeUserOnline, "", c.local.Ref, protocol.PresenceEvent{
				ProfileID:   c.local.ProfileID,
				ProfileKind: string(c.local.Kind),
				DisplayName: c.local.DisplayName,
			})
			if err != nil {
				continue
			}
			if err := c.WriteEnvelope(env); err != nil {
				slog.Error("presence heartbeat failed", slog.Any(constant.Error, err))
			}
		}
	}
}

func (c *Channel) current() *websocket.Conn {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn
}

// WriteEnvelope implements Transport. Writes are serialized; concurrent
// writers share one connection.
func (c *Channel) WriteEnvelope(env *protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return errors.New("channel not connected")
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(constant.WriteWait)); err != nil {
		return err
	}

	return c.conn.WriteJSON(env)
}

func (c *Channel) logReadError(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("channel closed by relay")
		default:
			slog.Error("channel close error", slog.Any(constant.Error, err))
		}
		return
	}

	slog.Error("channel read", slog.Any(constant.Error, err))
}
