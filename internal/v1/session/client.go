package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meshcompute/signaling/internal/v1/logging"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
)

// ErrSendFailed means the peer's outgoing queue was full or closed.
var ErrSendFailed = errors.New("client send failed")

// wsConnection abstracts the WebSocket connection so tests can substitute a
// mock. In production it is satisfied by *websocket.Conn.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client is one WebSocket connection. Before registration it has no
// identity; a successful register binds it to one (room_id, peer_id) for
// the rest of its life.
type Client struct {
	conn wsConnection
	send chan []byte
	hub  *Hub

	mu         sync.RWMutex
	registered bool
	peerID     string
	roomID     string
	closed     bool

	closeOnce sync.Once
}

func newClient(hub *Hub, conn wsConnection) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		hub:  hub,
	}
}

// binding returns the registered identity, if any.
func (c *Client) binding() (peerID, roomID string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerID, c.roomID, c.registered
}

func (c *Client) bind(peerID, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = true
	c.peerID = peerID
	c.roomID = roomID
}

// SendJSON marshals and queues a message for the write pump. Non-blocking:
// a full or closed queue reports ErrSendFailed rather than stalling the
// sender's room.
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.sendRaw(data)
}

func (c *Client) sendRaw(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrSendFailed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendFailed
	}
}

// Disconnect tears the connection down from the server side. Only the send
// queue is closed here; the write pump flushes anything already queued (a
// final error frame, typically) and closes the socket when it exits.
func (c *Client) Disconnect() {
	c.closeSend()
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
	})
}

// readPump reads frames until the connection dies, dispatching each to the
// hub. The deferred cleanup is the single exit path for every kind of
// termination: clean close, error, or timeout.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(context.Background(), c)
		c.closeSend()
		c.conn.Close()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		c.hub.dispatch(context.Background(), c, data)
	}
}

// writePump drains the send queue onto the socket. Ends when the queue
// closes, emitting a close frame on the way out.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Warn(context.Background(), "write to peer failed", zap.Error(err))
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// sendError reports a handler failure without tearing the connection down.
func (c *Client) sendError(ctx context.Context, code, message string) {
	if err := c.SendJSON(errorMessage(code, message)); err != nil {
		logging.Warn(ctx, "could not deliver error to peer", zap.String("code", code))
	}
}
