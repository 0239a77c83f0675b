package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// WebSocketClient wraps a WebSocket connection. Reads happen on the session
// goroutine only; writes may come from engine workers reporting progress and
// are serialized.
type WebSocketClient struct {
	conn *websocket.Conn
	mu   sync.Mutex // Protects writes
}

// NewWebSocketClient creates a new WebSocketClient from a WebSocket connection.
// maxMessageSize bounds incoming messages; 0 leaves it unbounded.
func NewWebSocketClient(conn *websocket.Conn, maxMessageSize int64) *WebSocketClient {
	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	return &WebSocketClient{conn: conn}
}

// ReadMessage reads the next text or binary message (blocking).
func (c *WebSocketClient) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Send writes msg as a JSON text message.
func (c *WebSocketClient) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// Close sends a close frame and closes the connection.
func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}

// RemoteAddr returns the remote address as a string.
func (c *WebSocketClient) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
