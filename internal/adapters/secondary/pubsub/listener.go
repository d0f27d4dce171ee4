package pubsub

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lorrc/receipt-relay/internal/core/domain"
	apperrors "github.com/lorrc/receipt-relay/internal/core/errors"
	"github.com/lorrc/receipt-relay/internal/core/ports"
)

// ListenerOptions identify the subscription and bound the re-subscribe
// backoff.
type ListenerOptions struct {
	Project string
	Topic   string

	// Durable names the consumer so redelivery state survives
	// restarts.
	Durable string

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (o ListenerOptions) withDefaults() ListenerOptions {
	if o.MinBackoff <= 0 {
		o.MinBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
	return o
}

// Listener consumes the receipt event subscription for the lifetime of
// the process and relays every decoded event to the broadcaster.
// Delivery from the channel is at-least-once and unordered; the
// listener does not deduplicate.
type Listener struct {
	channel     *Channel
	broadcaster ports.EventBroadcaster
	opts        ListenerOptions
	logger      *slog.Logger
}

// NewListener creates a listener over an established channel.
func NewListener(channel *Channel, broadcaster ports.EventBroadcaster, opts ListenerOptions, logger *slog.Logger) *Listener {
	return &Listener{
		channel:     channel,
		broadcaster: broadcaster,
		opts:        opts.withDefaults(),
		logger: logger.With(
			"component", "pubsub_listener",
			"project", opts.Project,
			"topic", opts.Topic,
		),
	}
}

// Run subscribes and processes messages until ctx is cancelled.
// Subscription-stream failures are retried with bounded exponential
// backoff; Run returns only on cancellation, never on a transient
// channel error. This MUST be run as a goroutine.
func (l *Listener) Run(ctx context.Context) {
	backoff := l.opts.MinBackoff

	for {
		sub, err := l.subscribe()
		if err != nil {
			l.logger.Error("subscribe failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, l.opts.MaxBackoff)
			continue
		}

		l.logger.Info("listening for events", "durable", l.opts.Durable)
		backoff = l.opts.MinBackoff

		if err := l.consume(ctx, sub); err != nil {
			l.logger.Error("subscription stream failed", "error", err, "retry_in", backoff)
		}
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, l.opts.MaxBackoff)
	}
}

func (l *Listener) subscribe() (*nats.Subscription, error) {
	if err := l.channel.EnsureStream(l.opts.Project); err != nil {
		return nil, err
	}

	return l.channel.js.SubscribeSync(
		subjectFor(l.opts.Project, l.opts.Topic),
		nats.Durable(l.opts.Durable),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
}

// consume pulls messages until ctx is cancelled or the subscription
// becomes unusable.
func (l *Listener) consume(ctx context.Context, sub *nats.Subscription) error {
	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		l.handle(msg)
	}
}

// handle decodes one inbound message, relays it, and settles it with
// the channel. Failures here never stop the listener: malformed
// payloads are permanently unprocessable and get acknowledged so the
// channel stops redelivering them; broadcaster backlog is transient
// and gets negatively acknowledged for redelivery.
func (l *Listener) handle(msg *nats.Msg) {
	logger := l.logger
	if meta, err := msg.Metadata(); err == nil {
		logger = logger.With(
			"stream_seq", meta.Sequence.Stream,
			"delivery_attempt", meta.NumDelivered,
		)
	}

	event, err := domain.DecodeEvent(msg.Data)
	if err != nil {
		logger.Warn("dropping malformed event", "error", err)
		if err := msg.Ack(); err != nil {
			logger.Warn("failed to ack malformed event", "error", err)
		}
		return
	}

	if err := l.broadcaster.Broadcast(event); err != nil {
		if errors.Is(err, apperrors.ErrBroadcastBacklog) {
			logger.Warn("broadcast backlog full, requesting redelivery")
			if err := msg.Nak(); err != nil {
				logger.Warn("failed to nak event", "error", err)
			}
			return
		}
		logger.Error("broadcast failed", "error", err)
	}

	if err := msg.Ack(); err != nil {
		logger.Warn("failed to ack event", "error", err)
	}
}
