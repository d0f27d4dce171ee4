package websocket

import (
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/lorrc/receipt-relay/internal/core/errors"
)

// Registry tracks the set of currently connected clients, keyed by
// connection ID. It is the only state shared between the acceptor and
// the broadcast path; all access goes through its methods. A client is
// present if and only if its connection is open.
type Registry struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client

	// limit caps the number of simultaneous connections. 0 means
	// unlimited.
	limit int
}

// NewRegistry creates an empty registry with the given connection
// limit (0 = unlimited).
func NewRegistry(limit int) *Registry {
	return &Registry{
		clients: make(map[uuid.UUID]*Client),
		limit:   limit,
	}
}

// Register adds an open connection and assigns its connection ID.
// Returns ErrRegistryFull when the connection limit is reached; the
// registry keeps serving existing connections.
func (r *Registry) Register(client *Client) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limit > 0 && len(r.clients) >= r.limit {
		return uuid.Nil, apperrors.ErrRegistryFull
	}

	id := uuid.New()
	client.ID = id
	r.clients[id] = client
	return id, nil
}

// Unregister removes a connection. Idempotent: removing an unknown or
// already-removed ID is a no-op. Reports whether the client was
// present.
func (r *Registry) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

// Snapshot returns a point-in-time copy of the connected clients for
// iteration. Mutations after the call do not affect the returned
// slice. Order is unspecified.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Len returns the number of connected clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
