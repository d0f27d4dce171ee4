package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wsAdapter "github.com/lorrc/receipt-relay/internal/adapters/primary/websocket"
	"github.com/lorrc/receipt-relay/internal/adapters/secondary/pubsub"
	"github.com/lorrc/receipt-relay/internal/core/domain"
)

// startRelay wires the whole pipeline against an embedded broker:
// publisher -> channel -> listener -> hub -> websocket clients.
func startRelay(t *testing.T) (*pubsub.Publisher, string) {
	t.Helper()

	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	broker, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	broker.Start()
	t.Cleanup(broker.Shutdown)
	if !broker.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded broker not ready")
	}

	channel, err := pubsub.Connect(pubsub.Options{
		URL:            broker.ClientURL(),
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  100 * time.Millisecond,
		MaxReconnects:  -1,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(channel.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := wsAdapter.NewHub(wsAdapter.NewRegistry(0), testLogger())
	go hub.Run(ctx)

	listener := pubsub.NewListener(channel, hub, pubsub.ListenerOptions{
		Project: "receipt-tracking-application",
		Topic:   "receipt-events",
		Durable: "webapp-sub",
	}, testLogger())
	go listener.Run(ctx)

	handler := NewWebSocketHandler(hub, testConfig("development"), testLogger())
	srv := httptest.NewServer(stdhttp.HandlerFunc(handler.ServeHTTP))
	t.Cleanup(srv.Close)

	return pubsub.NewPublisher(channel, testLogger()), "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialPeer(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readWire(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	return wire
}

func TestRelay_EndToEnd(t *testing.T) {
	publisher, url := startRelay(t)

	peers := []*websocket.Conn{
		dialPeer(t, url),
		dialPeer(t, url),
		dialPeer(t, url),
	}

	// Give the listener a beat to establish its durable subscription
	// before publishing.
	time.Sleep(200 * time.Millisecond)

	err := publisher.Submit(context.Background(),
		"receipt-tracking-application", "receipt-events",
		domain.Draft{
			Kind:      domain.EventReceiptUpload,
			Status:    domain.StatusReceived,
			ReceiptID: "r1",
			UserUID:   "u9",
		})
	require.NoError(t, err)

	for _, peer := range peers {
		wire := readWire(t, peer)
		assert.Equal(t, "receipt_upload", wire["type"])
		assert.Equal(t, "received", wire["status"])
		assert.Equal(t, "r1", wire["receipt_id"])
		assert.Equal(t, "u9", wire["user_uid"])

		timestamp, ok := wire["timestamp"].(string)
		require.True(t, ok, "timestamp must be a string")
		_, err := time.Parse(domain.TimestampFormat, timestamp)
		assert.NoError(t, err, "timestamp %q must match the wire layout", timestamp)
	}

	// A peer connecting after the broadcast receives nothing
	// retroactively.
	late := dialPeer(t, url)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err, "late joiner must not receive the earlier event")
}
