package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	apperrors "github.com/lorrc/receipt-relay/internal/core/errors"
)

// Options configure the connection to the pub/sub broker.
type Options struct {
	URL            string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration

	// MaxReconnects caps client-level reconnect attempts. -1 means
	// keep trying forever.
	MaxReconnects int
}

// Channel wraps the broker connection and its JetStream context. One
// Channel is shared by the listener and the publisher; it lives for
// the process lifetime.
type Channel struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// Connect establishes the broker connection. A failure here is a
// startup-configuration failure and is fatal to the caller.
func Connect(opts Options, logger *slog.Logger) (*Channel, error) {
	logger = logger.With("component", "pubsub_channel")

	nc, err := nats.Connect(opts.URL,
		nats.Timeout(opts.ConnectTimeout),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("channel disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("channel reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to pub/sub broker at %s: %w", opts.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening stream context: %w", err)
	}

	return &Channel{nc: nc, js: js, logger: logger}, nil
}

// subjectFor maps the {project, topic} pair onto a broker subject.
func subjectFor(project, topic string) string {
	return project + "." + topic
}

// EnsureStream creates the project's stream if it does not exist yet.
// Safe to call concurrently with producers.
func (c *Channel) EnsureStream(project string) error {
	_, err := c.js.StreamInfo(project)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("looking up stream %s: %w", project, err)
	}

	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:     project,
		Subjects: []string{project + ".>"},
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", project, err)
	}

	c.logger.Info("created stream", "project", project)
	return nil
}

// Ping verifies the broker round trip. Used by the readiness probe.
func (c *Channel) Ping(ctx context.Context) error {
	if c.nc.Status() != nats.CONNECTED {
		return fmt.Errorf("%w: status %s", apperrors.ErrChannelUnavailable, c.nc.Status())
	}
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrChannelUnavailable, err)
	}
	return nil
}

// Close flushes and closes the broker connection.
func (c *Channel) Close() {
	if err := c.nc.Flush(); err != nil {
		c.logger.Warn("flush on close failed", "error", err)
	}
	c.nc.Close()
	c.logger.Info("channel closed")
}
