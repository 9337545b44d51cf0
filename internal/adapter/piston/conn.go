// Package piston provides WebSocket and REST clients for the Piston execution sandbox.
package piston

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens interactive sandbox connections.
type Dialer struct {
	dialer         *websocket.Dialer
	writeTimeout   time.Duration
	maxMessageSize int64
}

// NewDialer creates a new sandbox dialer.
func NewDialer(handshakeTimeout, writeTimeout time.Duration, maxMessageSize int64) *Dialer {
	return &Dialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		writeTimeout:   writeTimeout,
		maxMessageSize: maxMessageSize,
	}
}

// Dial connects to the sandbox WebSocket endpoint.
func (d *Dialer) Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if d.maxMessageSize > 0 {
		ws.SetReadLimit(d.maxMessageSize)
	}
	return &Conn{ws: ws, writeTimeout: d.writeTimeout}, nil
}

// Conn is a single sandbox connection. Writes are serialized; reads must
// come from one goroutine.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// Send writes one JSON frame.
func (c *Conn) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive blocks for the next text frame.
func (c *Conn) Receive() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close sends a close frame and closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	deadline := time.Now().Add(time.Second)
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}

// IsNormalClose reports whether err is a clean close from the peer.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}

// ErrClosed is returned when writing to a closed connection.
var ErrClosed = &ClosedError{}

// ClosedError represents a write on a closed connection.
type ClosedError struct{}

func (e *ClosedError) Error() string {
	return "connection closed"
}
