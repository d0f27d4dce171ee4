package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lorrc/receipt-relay/internal/core/domain"
	"github.com/lorrc/receipt-relay/internal/core/ports"
)

// Publisher serializes event drafts and submits them to the channel.
// It stamps the event timestamp itself; callers never supply one.
type Publisher struct {
	channel *Channel
	now     func() time.Time
	logger  *slog.Logger
}

// Ensure Publisher implements the EventPublisher port.
var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a publisher over an established channel.
func NewPublisher(channel *Channel, logger *slog.Logger) *Publisher {
	return &Publisher{
		channel: channel,
		now:     time.Now,
		logger:  logger.With("component", "pubsub_publisher"),
	}
}

// Submit completes the draft with the current UTC timestamp and
// publishes it on the subject for {project, topic}. Serialization and
// broker failures are returned to the caller, never swallowed.
func (p *Publisher) Submit(ctx context.Context, project, topic string, draft domain.Draft) error {
	event := draft.Stamp(p.now())

	data, err := event.Encode()
	if err != nil {
		return err
	}

	subject := subjectFor(project, topic)
	if _, err := p.channel.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	p.logger.Debug("event published",
		"subject", subject,
		"event_type", event.Kind,
		"status", event.Status,
		"receipt_id", event.ReceiptID,
	)
	return nil
}

// SubmitUpload reports an upload lifecycle change for a receipt.
func (p *Publisher) SubmitUpload(ctx context.Context, project, topic string, status domain.EventStatus, receiptID, userUID string) error {
	return p.Submit(ctx, project, topic, domain.Draft{
		Kind:      domain.EventReceiptUpload,
		Status:    status,
		ReceiptID: receiptID,
		UserUID:   userUID,
	})
}

// SubmitUpdate reports a processing lifecycle change for a receipt.
func (p *Publisher) SubmitUpdate(ctx context.Context, project, topic string, status domain.EventStatus, receiptID, userUID string) error {
	return p.Submit(ctx, project, topic, domain.Draft{
		Kind:      domain.EventReceiptUpdate,
		Status:    status,
		ReceiptID: receiptID,
		UserUID:   userUID,
	})
}
