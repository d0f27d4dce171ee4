package domain

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/lorrc/receipt-relay/internal/core/errors"
)

// EventKind identifies which part of the receipt lifecycle an event
// belongs to. The set is open-ended; clients ignore kinds they do not
// recognize.
type EventKind string

const (
	EventReceiptUpload EventKind = "receipt_upload"
	EventReceiptUpdate EventKind = "receipt_update"
)

// EventStatus describes how far through processing a receipt is.
type EventStatus string

const (
	StatusReceived          EventStatus = "received"
	StatusProcessingStarted EventStatus = "processing_started"
	StatusProcessed         EventStatus = "processed"
	StatusFailed            EventStatus = "failed"
)

// TimestampFormat is the wire layout for event timestamps: UTC with
// second precision. Existing clients parse this exact layout.
const TimestampFormat = "2006-01-02T15:04:05Z"

// Event is the payload relayed end to end and pushed to connected
// clients. Field names and casing are a compatibility contract with
// the web frontend and must not change.
type Event struct {
	Kind      EventKind   `json:"type"`
	Status    EventStatus `json:"status"`
	ReceiptID string      `json:"receipt_id"`
	UserUID   string      `json:"user_uid"`
	Timestamp string      `json:"timestamp"`
}

// Draft carries the caller-supplied fields of an event. The timestamp
// is deliberately absent: the publisher stamps it at submission time.
type Draft struct {
	Kind      EventKind
	Status    EventStatus
	ReceiptID string
	UserUID   string
}

// Stamp completes a draft into a full event, assigning the timestamp
// from the given instant.
func (d Draft) Stamp(now time.Time) Event {
	return Event{
		Kind:      d.Kind,
		Status:    d.Status,
		ReceiptID: d.ReceiptID,
		UserUID:   d.UserUID,
		Timestamp: now.UTC().Format(TimestampFormat),
	}
}

// Validate checks the required tags. Records without a kind or a
// status never reach the broadcaster.
func (e Event) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("%w: missing type", apperrors.ErrMalformedEvent)
	}
	if e.Status == "" {
		return fmt.Errorf("%w: missing status", apperrors.ErrMalformedEvent)
	}
	return nil
}

// DecodeEvent parses an inbound channel payload into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", apperrors.ErrMalformedEvent, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Encode serializes the event for the wire.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	return data, nil
}
