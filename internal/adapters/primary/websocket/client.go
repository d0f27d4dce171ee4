package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lorrc/receipt-relay/internal/core/domain"
)

const (
	// Maximum message size allowed from peer. The relay is
	// server-to-client; inbound frames are control traffic only.
	maxMessageSize = 512

	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultSendBuffer = 64
)

// Tuning controls per-connection keepalive and buffering behaviour.
// Zero values fall back to defaults; tests shrink the deadlines.
type Tuning struct {
	// WriteWait is the time allowed to write a message to the peer.
	WriteWait time.Duration

	// PongWait is the time allowed to read the next pong from the
	// peer before the connection is considered dead.
	PongWait time.Duration

	// PingPeriod is the keepalive probe interval. Must be less than
	// PongWait; defaults to 90% of it.
	PingPeriod time.Duration

	// SendBuffer is the capacity of the outbound queue. Overflow is a
	// delivery failure for this connection only.
	SendBuffer int
}

func (t Tuning) withDefaults() Tuning {
	if t.WriteWait <= 0 {
		t.WriteWait = defaultWriteWait
	}
	if t.PongWait <= 0 {
		t.PongWait = defaultPongWait
	}
	if t.PingPeriod <= 0 {
		t.PingPeriod = t.PongWait * 9 / 10
	}
	if t.SendBuffer <= 0 {
		t.SendBuffer = defaultSendBuffer
	}
	return t
}

// Client is the middleman between one websocket connection and the
// hub. The socket is owned by the client's pumps: the hub only
// enqueues onto Send and signals close by closing it.
type Client struct {
	// ID is the connection ID, unique for the process lifetime.
	// Assigned by the registry at accept time.
	ID uuid.UUID

	Hub  *Hub
	Conn *websocket.Conn

	// Send is the bounded outbound queue. The hub enqueues without
	// blocking; a full queue disconnects the client.
	Send chan domain.Event

	tuning    Tuning
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewClient wraps an upgraded connection. The caller registers the
// client with the hub and starts the pumps.
func NewClient(hub *Hub, conn *websocket.Conn, tuning Tuning, logger *slog.Logger) *Client {
	tuning = tuning.withDefaults()
	return &Client{
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan domain.Event, tuning.SendBuffer),
		tuning: tuning,
		logger: logger,
	}
}

// CloseSend closes the Send channel exactly once, signalling WritePump
// to send a close frame and release the socket.
func (c *Client) CloseSend() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// ReadPump reads from the websocket connection until it fails or the
// peer goes away. Inbound application frames are discarded: the relay
// is one-directional, the read loop exists to service pong frames and
// notice disconnects. Runs in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.tuning.PongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.tuning.PongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "connection_id", c.ID, "error", err)
			}
			return
		}
	}
}

// WritePump drains the Send queue onto the websocket connection and
// sends keepalive pings. Runs in its own goroutine; exits when the
// hub closes Send or a write fails, closing the socket either way.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.tuning.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.tuning.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}

			if !ok {
				// The hub closed the queue: orderly shutdown.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.writeJSON(event); err != nil {
				c.logger.Warn("failed to write event", "connection_id", c.ID, "error", err)
				c.Hub.Unregister(c)
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.tuning.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}

			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "connection_id", c.ID, "error", err)
				c.Hub.Unregister(c)
				return
			}
		}
	}
}

func (c *Client) writeJSON(event domain.Event) error {
	w, err := c.Conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(w).Encode(event); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}
