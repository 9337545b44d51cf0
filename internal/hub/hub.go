// Package hub tracks relay WebSocket connections grouped by source buffer.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection represents a single relay WebSocket connection.
type Connection struct {
	ID       string
	BufferID string
	Conn     *websocket.Conn
	Send     chan []byte
	hub      *Hub
	mu       sync.Mutex

	// registered is closed once the hub loop has added the connection.
	registered chan struct{}
}

// Hub manages all relay connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// buffers maps buffer_id to the set of bound connection IDs
	buffers map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *BufferMessage

	// done is closed when Run returns; later sends are dropped.
	done     chan struct{}
	doneOnce sync.Once

	mu sync.RWMutex
}

// BufferMessage is a payload for every connection bound to a buffer.
type BufferMessage struct {
	BufferID string
	Data     []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		buffers:     make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *BufferMessage, 256),
		done:        make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.doneOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if conn.BufferID != "" {
				h.addLocked(conn.BufferID, conn.ID)
			}
			h.mu.Unlock()
			close(conn.registered)
			log.Printf("INFO: connection registered: %s", conn.ID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				h.unbindLocked(conn)
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("INFO: connection unregistered: %s", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.buffers[msg.BufferID] {
				conn, exists := h.connections[connID]
				if !exists {
					continue
				}
				select {
				case conn.Send <- msg.Data:
				default:
					log.Printf("WARN: connection %s buffer full, closing", connID)
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection wraps a WebSocket. It is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:         uuid.New().String(),
		Conn:       ws,
		Send:       make(chan []byte, 256),
		hub:        h,
		registered: make(chan struct{}),
	}
}

// Register registers a connection with the hub and returns once it can
// receive messages.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		return
	}
	select {
	case <-conn.registered:
	case <-h.done:
	}
}

// Unregister removes a connection and closes its send channel.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BindBuffer moves a connection to a buffer's broadcast group.
func (h *Hub) BindBuffer(conn *Connection, bufferID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unbindLocked(conn)
	conn.BufferID = bufferID
	h.addLocked(bufferID, conn.ID)
}

func (h *Hub) addLocked(bufferID, connID string) {
	if h.buffers[bufferID] == nil {
		h.buffers[bufferID] = make(map[string]bool)
	}
	h.buffers[bufferID][connID] = true
}

func (h *Hub) unbindLocked(conn *Connection) {
	if conn.BufferID == "" || h.buffers[conn.BufferID] == nil {
		return
	}
	delete(h.buffers[conn.BufferID], conn.ID)
	if len(h.buffers[conn.BufferID]) == 0 {
		delete(h.buffers, conn.BufferID)
	}
}

// Broadcast queues data for every connection bound to bufferID.
func (h *Hub) Broadcast(bufferID string, data []byte) {
	select {
	case h.broadcast <- &BufferMessage{BufferID: bufferID, Data: data}:
	case <-h.done:
	}
}

// BroadcastJSON marshals v and broadcasts it to bufferID.
func (h *Hub) BroadcastJSON(bufferID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(bufferID, data)
	return nil
}

// SendToConnection queues data for a single connection without blocking.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return ErrNotRegistered
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection marshals v and queues it for a single connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// GetConnectionCount returns the number of registered connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetBufferCount returns the number of buffers with at least one connection.
func (h *Hub) GetBufferCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buffers)
}

// HasActiveConnections reports whether any connection is bound to bufferID.
func (h *Hub) HasActiveConnections(bufferID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buffers[bufferID]) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the underlying WebSocket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

var (
	ErrBufferFull    = &SendError{Reason: "send buffer full"}
	ErrNotRegistered = &SendError{Reason: "connection not registered"}
)

// SendError is returned when a message cannot be queued for a connection.
type SendError struct {
	Reason string
}

func (e *SendError) Error() string {
	return e.Reason
}
