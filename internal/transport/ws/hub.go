package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/observability"
)

// ErrConnectionClosed is returned when sending to a connection that has shut down.
var ErrConnectionClosed = errors.New("connection closed")

// Connection represents a single WebSocket connection.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes writes to Conn.
	mu sync.Mutex
	// sendMu guards closed and the close of Send.
	sendMu sync.Mutex
	closed bool
}

// Context is cancelled when the connection shuts down. Runs started for this
// connection derive from it.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Enqueue hands data to the write pump, waiting for buffer space. It fails
// once the connection has shut down.
func (c *Connection) Enqueue(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return &domain.TransportError{Op: "enqueue", Err: ErrConnectionClosed}
	}
	select {
	case c.Send <- data:
		return nil
	case <-c.ctx.Done():
		return &domain.TransportError{Op: "enqueue", Err: ErrConnectionClosed}
	}
}

// Shutdown cancels the connection context and closes Send so the write pump
// drains what is queued and then closes the socket. Safe to call repeatedly.
func (c *Connection) Shutdown() {
	// Cancel before taking sendMu so a blocked Enqueue lets go of it.
	c.cancel()
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
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

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Hub tracks the live WebSocket connections.
type Hub struct {
	connections map[string]*Connection
	metrics     *observability.Metrics
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub(metrics *observability.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		metrics:     metrics,
		logger:      logger.Named("WS"),
	}
}

// NewConnection wraps ws in a Connection with a 256-frame send buffer.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:     uuid.New().String(),
		Conn:   ws,
		Send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()
	h.metrics.ConnectionOpened("ws")
	h.logger.Info("connection registered", zap.String("connection_id", conn.ID))
}

// Unregister removes a connection from the hub. Unknown connections are ignored.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	_, ok := h.connections[conn.ID]
	delete(h.connections, conn.ID)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.metrics.ConnectionClosed("ws")
	h.logger.Info("connection unregistered", zap.String("connection_id", conn.ID))
}

// Count returns the number of active connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}
