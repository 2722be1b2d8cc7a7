package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/huddlehq/huddle/internal/v1/logging"
	"github.com/huddlehq/huddle/internal/v1/metrics"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error) // Read the next message from the connection
	WriteMessage(messageType int, data []byte) error     // Write a message to the connection
	Close() error                                        // Close the connection
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
}

const (
	// writeWait bounds how long a single frame write may block.
	writeWait = 10 * time.Second
	// maxMessageSize caps one inbound frame; oversized frames kill the socket.
	maxMessageSize = 1 << 20
	// sendBufferSize is the per-client outbound queue depth.
	sendBufferSize = 256
)

// connState is the dispatcher-side lifecycle of one socket.
type connState int

const (
	stateUnbound connState = iota // socket attached, no participant record
	stateWaiting                  // parked in a waiting room pending review
	stateActive                   // live participant in a room
	stateClosed                   // socket gone, bindings cleared
)

// Client is one signaling connection. Its id is minted at upgrade time and
// becomes the participant id once a join binds it to a room; the registry
// reaches the socket only through the Sender methods (Send, Close, IsOpen).
// A single outbound queue keeps delivery in FIFO order per socket.
type Client struct {
	conn wsConnection
	hub  *Hub
	id   string

	mu     sync.RWMutex
	state  connState
	roomID string
	name   string
	closed bool

	closeOnce sync.Once
	send      chan []byte
}

func newClient(hub *Hub, conn wsConnection) *Client {
	return &Client{
		conn: conn,
		hub:  hub,
		id:   uuid.NewString(),
		send: make(chan []byte, sendBufferSize),
	}
}

// ID returns the server-minted connection id, reused as the participant id.
func (c *Client) ID() string {
	return c.id
}

// State returns the current dispatcher state.
func (c *Client) State() connState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// binding returns the state together with the bound room, read atomically.
func (c *Client) binding() (connState, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.roomID
}

// bind attaches the socket to a room as either a waiting candidate or a
// live participant.
func (c *Client) bind(roomID, name string, state connState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
	c.name = name
	c.state = state
}

// clearBinding detaches the socket from its room; the connection itself
// stays open so the client can join again.
func (c *Client) clearBinding() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = ""
	c.name = ""
	if c.state != stateClosed {
		c.state = stateUnbound
	}
}

func (c *Client) boundRoom() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// Send queues one pre-serialized frame without blocking. Frames to closed
// clients are dropped; a full queue drops the frame rather than stalling
// the sender's critical section.
func (c *Client) Send(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	// The closed check above races with Close; recover absorbs a send on a
	// just-closed channel.
	defer func() {
		if r := recover(); r != nil {
			logging.GetLogger().Debug("Dropped frame for closing client", zap.String("clientId", c.id))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Client send queue full, dropping frame", zap.String("clientId", c.id))
	}
}

// Close shuts the outbound queue exactly once. The writePump drains what is
// already queued, writes the close frame, and closes the underlying socket,
// which in turn unblocks the readPump.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.state = stateClosed
		c.mu.Unlock()
		close(c.send)
	})
}

// IsOpen reports whether the client can still receive frames.
func (c *Client) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// readPump processes inbound frames in arrival order until the socket dies.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.hub.dispatch(c, data)
	}
}

// writePump serializes all writes to the socket. Draining the queue before
// the close frame guarantees a kick or reject notice reaches the client
// ahead of the termination.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "Error writing frame", zap.String("clientId", c.id), zap.Error(err))
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
