package pubsub

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/receipt-relay/internal/core/domain"
)

// startTestBroker starts an embedded NATS server with JetStream and
// returns its client URL.
func startTestBroker(t *testing.T) string {
	t.Helper()

	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded broker not ready")
	}
	return srv.ClientURL()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func connectTestChannel(t *testing.T) *Channel {
	t.Helper()

	channel, err := Connect(Options{
		URL:            startTestBroker(t),
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  100 * time.Millisecond,
		MaxReconnects:  -1,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(channel.Close)

	return channel
}

// captureBroadcaster records relayed events and can be primed to fail
// its first deliveries with a backlog error.
type captureBroadcaster struct {
	mu       sync.Mutex
	events   []domain.Event
	failNext []error
}

func (b *captureBroadcaster) Broadcast(event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.failNext) > 0 {
		err := b.failNext[0]
		b.failNext = b.failNext[1:]
		return err
	}

	b.events = append(b.events, event)
	return nil
}

func (b *captureBroadcaster) Events() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Event(nil), b.events...)
}
