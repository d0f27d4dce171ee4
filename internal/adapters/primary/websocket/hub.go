package websocket

import (
	"context"
	"log/slog"

	"github.com/lorrc/receipt-relay/internal/core/domain"
	apperrors "github.com/lorrc/receipt-relay/internal/core/errors"
	"github.com/lorrc/receipt-relay/internal/core/ports"
)

// intakeBuffer bounds how many events may be queued for fan-out before
// Broadcast starts reporting backlog.
const intakeBuffer = 256

// Hub owns the registry and fans events out to every registered
// client. All Send-channel writes and closes happen on the Run
// goroutine, so a fan-out can never race a close.
type Hub struct {
	registry *Registry

	// broadcast is the intake queue between the channel listener and
	// the fan-out loop.
	broadcast chan domain.Event

	// unregister carries disconnect requests from client pumps and
	// the acceptor into the Run goroutine.
	unregister chan *Client

	// done is closed when Run exits so that Unregister never blocks
	// against a stopped hub.
	done chan struct{}

	logger *slog.Logger
}

// Ensure Hub implements the EventBroadcaster port.
var _ ports.EventBroadcaster = (*Hub)(nil)

// NewHub creates a hub over the given registry.
func NewHub(registry *Registry, logger *slog.Logger) *Hub {
	return &Hub{
		registry:   registry,
		broadcast:  make(chan domain.Event, intakeBuffer),
		unregister: make(chan *Client, intakeBuffer),
		done:       make(chan struct{}),
		logger:     logger.With("component", "websocket_hub"),
	}
}

// Broadcast queues an event for fan-out to every connected client.
// Returns ErrBroadcastBacklog when the intake queue is saturated so
// the caller can ask the channel for redelivery instead of blocking.
func (h *Hub) Broadcast(event domain.Event) error {
	select {
	case h.broadcast <- event:
		return nil
	case <-h.done:
		return apperrors.ErrBroadcastBacklog
	default:
		h.logger.Warn("broadcast intake full, rejecting event",
			"event_type", event.Kind,
			"receipt_id", event.ReceiptID,
		)
		return apperrors.ErrBroadcastBacklog
	}
}

// Register adds a client to the registry and assigns its connection
// ID. Fails only when the connection limit is reached.
func (h *Hub) Register(client *Client) error {
	id, err := h.registry.Register(client)
	if err != nil {
		return err
	}

	h.logger.Info("client registered",
		"connection_id", id,
		"total_connections", h.registry.Len(),
	)
	return nil
}

// Unregister requests removal of a client. Safe to call from any
// goroutine and any number of times; the actual teardown happens on
// the Run goroutine.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		// Hub stopped; every connection is being torn down anyway.
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	return h.registry.Len()
}

// Run drains the intake and unregister queues until ctx is cancelled,
// then closes every remaining connection. This MUST be run as a
// goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.unregister:
			h.dropClient(client)

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

// fanOut attempts delivery of one event to every client in the
// current registry snapshot. Deliveries are independent: a full queue
// on one client disconnects that client and nothing else.
func (h *Hub) fanOut(event domain.Event) {
	clients := h.registry.Snapshot()

	h.logger.Debug("broadcasting event",
		"event_type", event.Kind,
		"receipt_id", event.ReceiptID,
		"client_count", len(clients),
	)

	for _, client := range clients {
		select {
		case client.Send <- event:
			// Queued for this client's write loop.
		default:
			h.logger.Warn("client send queue full, disconnecting",
				"connection_id", client.ID,
			)
			h.dropClient(client)
		}
	}
}

// dropClient removes a client from the registry and signals its write
// loop to close the socket. Runs on the Run goroutine only.
func (h *Hub) dropClient(client *Client) {
	if h.registry.Unregister(client.ID) {
		h.logger.Info("client unregistered",
			"connection_id", client.ID,
			"total_connections", h.registry.Len(),
		)
	}
	client.CloseSend()
}

// shutdown closes every remaining connection in an orderly fashion.
func (h *Hub) shutdown() {
	close(h.done)
	for _, client := range h.registry.Snapshot() {
		h.registry.Unregister(client.ID)
		client.CloseSend()
	}
	h.logger.Info("hub stopped")
}
