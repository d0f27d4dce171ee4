package errors

import "errors"

// Relay errors. Each of these is contained by its owning component:
// a malformed message or a single broken connection never propagates
// past the listener or the hub.
var (
	// ErrMalformedEvent marks an inbound channel payload that cannot be
	// decoded into an event. Such messages are acknowledged and dropped.
	ErrMalformedEvent = errors.New("malformed event payload")

	// ErrRegistryFull is returned by Register when the configured
	// connection limit has been reached. Existing connections keep
	// being served.
	ErrRegistryFull = errors.New("connection registry is full")

	// ErrBroadcastBacklog is returned by Broadcast when the hub's
	// intake buffer is saturated. The listener reacts by requesting
	// redelivery from the channel.
	ErrBroadcastBacklog = errors.New("broadcast backlog is full")

	// ErrChannelUnavailable indicates the pub/sub connection is not
	// usable right now.
	ErrChannelUnavailable = errors.New("pub/sub channel unavailable")
)
