package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one connected websocket consumer.
type Client struct {
	ID          string
	Conn        *websocket.Conn
	ConnectedAt time.Time
	IPAddress   string

	writeMu sync.Mutex
}

// WriteJSON serializes writes so concurrent broadcasts never interleave
// frames on one connection.
func (c *Client) WriteJSON(v interface{}, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.Conn.WriteJSON(v)
}

// EventMessage is the wire envelope for one session event.
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	SessionID string      `json:"session_id,omitempty"`
	Seq       int64       `json:"seq"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}
