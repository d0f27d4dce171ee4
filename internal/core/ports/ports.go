package ports

import (
	"context"

	"github.com/lorrc/receipt-relay/internal/core/domain"
)

// EventBroadcaster fans one event out to every currently connected
// client. Implementations must not block on slow peers.
type EventBroadcaster interface {
	Broadcast(event domain.Event) error
}

// EventPublisher is the contract producers use to put events on the
// pub/sub channel. The implementation stamps the event timestamp; the
// draft never carries one. Failures are reported synchronously.
type EventPublisher interface {
	Submit(ctx context.Context, project, topic string, draft domain.Draft) error
}
