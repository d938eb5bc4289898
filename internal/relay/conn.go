package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slateroom/slateroom/internal/application/constant"
)

// safeConn serializes writes to one websocket. Routing, presence
// announcements, and the ping ticker all write concurrently.
type safeConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func newSafeConn(ws *websocket.Conn) *safeConn {
	return &safeConn{ws: ws}
}

func (c *safeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(constant.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *safeConn) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(constant.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

func (c *safeConn) Close() error {
	return c.ws.Close()
}
