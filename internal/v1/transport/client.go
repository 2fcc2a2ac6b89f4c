package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/huddlekit/signaling/internal/v1/logging"
	"github.com/huddlekit/signaling/internal/v1/metrics"
)

const (
	// writeWait is the deadline for a single outbound frame.
	writeWait = 10 * time.Second

	// maxMessageSize bounds inbound frames. Negotiation fragments are small;
	// anything larger is a misbehaving client.
	maxMessageSize = 64 * 1024

	// sendBufferSize is the outbound queue depth per connection. A full
	// buffer drops the frame rather than stalling the room.
	sendBufferSize = 256
)

// wsConnection defines the interface for WebSocket connection operations.
// In production this is *websocket.Conn; tests substitute mock
// implementations to simulate errors and disconnections.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

// Client represents a single live connection. It holds the connection's room
// binding (room code and peer id), which is mutated only by the reader
// goroutine; other goroutines interact with the client solely through Send
// and Kick.
type Client struct {
	hub  *Hub
	conn wsConnection

	id string // transport-assigned connection id

	// Room binding. Owned by the reader goroutine.
	roomCode    string
	peerID      string
	displayName string

	pingInterval time.Duration
	pongTimeout  time.Duration

	send chan []byte

	mu          sync.RWMutex
	closed      bool
	closeReason string
	closeOnce   sync.Once
}

func newClient(hub *Hub, conn wsConnection, connID string, pingInterval, pongTimeout time.Duration) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		id:           connID,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		send:         make(chan []byte, sendBufferSize),
	}
}

// ConnID satisfies registry.Sender.
func (c *Client) ConnID() string {
	return c.id
}

// Send enqueues a frame for delivery. It never blocks; a full or closed
// queue drops the frame and reports false.
func (c *Client) Send(data []byte) bool {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	c.mu.RUnlock()

	// The closed check above races with Kick closing the channel; recover
	// keeps a lost race from taking down the sender's goroutine.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from send to closed client", zap.String("connId", c.id))
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		logging.Warn(context.Background(), "Client send buffer full, dropping frame", zap.String("connId", c.id))
		return false
	}
}

// Kick forcefully closes the connection. Closing the send channel makes the
// writePump drain its buffer, emit a close frame, and shut the socket; the
// readPump then unblocks and runs the departure path.
func (c *Client) Kick(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeReason = reason
		c.mu.Unlock()
		close(c.send)
	})
}

// readPump processes inbound frames until the connection drops. A dead
// transport (no pong inside pongTimeout) is treated identically to an
// explicit disconnect.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.Kick("connection closed")
		c.conn.Close()
		metrics.DecConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		// Keepalive only; pongs do not touch the room's idle clock.
		return c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		ctx := logging.WithConn(context.Background(), c.id)
		c.hub.route(ctx, c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.RLock()
				reason := c.closeReason
				c.mu.RUnlock()
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "error writing message", zap.String("connId", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
