package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/receipt-relay/internal/core/domain"
	apperrors "github.com/lorrc/receipt-relay/internal/core/errors"
)

func TestDecodeEvent(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		payload := []byte(`{"type":"receipt_update","status":"processed","receipt_id":"abc123","user_uid":"u1","timestamp":"2025-03-01T12:00:00Z"}`)

		event, err := domain.DecodeEvent(payload)

		require.NoError(t, err)
		assert.Equal(t, domain.EventReceiptUpdate, event.Kind)
		assert.Equal(t, domain.StatusProcessed, event.Status)
		assert.Equal(t, "abc123", event.ReceiptID)
		assert.Equal(t, "u1", event.UserUID)
		assert.Equal(t, "2025-03-01T12:00:00Z", event.Timestamp)
	})

	t.Run("missing status is rejected", func(t *testing.T) {
		payload := []byte(`{"type":"receipt_upload","receipt_id":"r1","user_uid":"u9"}`)

		_, err := domain.DecodeEvent(payload)

		assert.ErrorIs(t, err, apperrors.ErrMalformedEvent)
	})

	t.Run("missing type is rejected", func(t *testing.T) {
		payload := []byte(`{"status":"received","receipt_id":"r1"}`)

		_, err := domain.DecodeEvent(payload)

		assert.ErrorIs(t, err, apperrors.ErrMalformedEvent)
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := domain.DecodeEvent([]byte("not json at all"))

		assert.ErrorIs(t, err, apperrors.ErrMalformedEvent)
	})
}

func TestDraftStamp(t *testing.T) {
	draft := domain.Draft{
		Kind:      domain.EventReceiptUpload,
		Status:    domain.StatusReceived,
		ReceiptID: "r1",
		UserUID:   "u9",
	}

	now := time.Date(2025, 3, 1, 12, 30, 45, 123456789, time.UTC)
	event := draft.Stamp(now)

	assert.Equal(t, "2025-03-01T12:30:45Z", event.Timestamp)

	// The stamp must always be UTC, regardless of the local zone.
	local := now.In(time.FixedZone("CET", 3600))
	assert.Equal(t, event.Timestamp, draft.Stamp(local).Timestamp)

	// Round-trips through the declared layout.
	_, err := time.Parse(domain.TimestampFormat, event.Timestamp)
	require.NoError(t, err)
}

func TestEventWireFormat(t *testing.T) {
	// The field names are a compatibility contract with existing
	// clients; a rename here breaks the frontend.
	event := domain.Event{
		Kind:      domain.EventReceiptUpdate,
		Status:    domain.StatusFailed,
		ReceiptID: "abc",
		UserUID:   "u1",
		Timestamp: "2025-03-01T12:00:00Z",
	}

	data, err := event.Encode()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, map[string]any{
		"type":       "receipt_update",
		"status":     "failed",
		"receipt_id": "abc",
		"user_uid":   "u1",
		"timestamp":  "2025-03-01T12:00:00Z",
	}, wire)
}
