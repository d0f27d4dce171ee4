package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/receipt-relay/internal/core/domain"
)

// dialTestClient stands up a hub with a real upgraded connection and
// returns the server-side client plus the peer connection.
func dialTestClient(t *testing.T, tuning Tuning) (*Hub, *Client, *websocket.Conn) {
	t.Helper()

	hub := NewHub(NewRegistry(0), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	accepted := make(chan *Client, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, tuning, testLogger())
		if err := hub.Register(client); err != nil {
			_ = conn.Close()
			return
		}
		go client.WritePump()
		go client.ReadPump()
		accepted <- client
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })

	select {
	case client := <-accepted:
		return hub, client, peer
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server-side client")
		return nil, nil, nil
	}
}

func TestClient_DeliversEventsAsJSON(t *testing.T) {
	hub, _, peer := dialTestClient(t, Tuning{})

	require.NoError(t, hub.Broadcast(domain.Event{
		Kind:      domain.EventReceiptUpdate,
		Status:    domain.StatusProcessed,
		ReceiptID: "abc123",
		UserUID:   "u1",
		Timestamp: "2025-03-01T12:00:00Z",
	}))

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := peer.ReadMessage()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "receipt_update", wire["type"])
	assert.Equal(t, "processed", wire["status"])
	assert.Equal(t, "abc123", wire["receipt_id"])
	assert.Equal(t, "u1", wire["user_uid"])
	assert.Equal(t, "2025-03-01T12:00:00Z", wire["timestamp"])
}

func TestClient_PeerDisconnectUnregisters(t *testing.T) {
	hub, _, peer := dialTestClient(t, Tuning{})

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, peer.Close())

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestClient_MissedKeepaliveDisconnects(t *testing.T) {
	// A peer that never reads cannot answer pings; the read deadline
	// must tear the connection down.
	hub, _, _ := dialTestClient(t, Tuning{
		PongWait:   200 * time.Millisecond,
		PingPeriod: 100 * time.Millisecond,
	})

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 20*time.Millisecond)
}

func TestClient_InboundFramesAreDiscarded(t *testing.T) {
	hub, _, peer := dialTestClient(t, Tuning{})

	// The relay is one-directional; unsolicited client frames must
	// not disturb the connection.
	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte(`{"hello":"world"}`)))

	require.NoError(t, hub.Broadcast(domain.Event{
		Kind:   domain.EventReceiptUpload,
		Status: domain.StatusReceived,
	}))

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"receipt_upload"`)
	assert.Equal(t, 1, hub.ClientCount())
}
