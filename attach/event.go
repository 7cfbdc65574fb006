package attach

import (
	"context"
	"fmt"
)

// StreamStatus is the status field of a stream event.
type StreamStatus string

// The stream statuses of the control protocol. Only StreamNew is acted on.
const (
	StreamNew         StreamStatus = "NEW"
	StreamNewResolve  StreamStatus = "NEWRESOLVE"
	StreamRemap       StreamStatus = "REMAP"
	StreamSentConnect StreamStatus = "SENTCONNECT"
	StreamSentResolve StreamStatus = "SENTRESOLVE"
	StreamSucceeded   StreamStatus = "SUCCEEDED"
	StreamFailed      StreamStatus = "FAILED"
	StreamClosed      StreamStatus = "CLOSED"
	StreamDetached    StreamStatus = "DETACHED"
)

// StreamEvent is a stream status change reported by the router.
type StreamEvent struct {
	// ID is the router assigned stream identifier.
	ID string

	// Status is the new status of the stream.
	Status StreamStatus

	// CircuitID is the circuit the stream is attached to, "0" or empty
	// if it is unattached.
	CircuitID string

	// Target is the destination as host:port.
	Target string
}

// String returns a one line description of the event.
func (e StreamEvent) String() string {
	return fmt.Sprintf("stream %s %s target=%s circuit=%s", e.ID,
		e.Status, e.Target, e.CircuitID)
}

// Feed is a subscription to stream events.
type Feed interface {
	// Updates returns the channel events are delivered on. An
	// implementation may close it once the feed is cancelled.
	Updates() <-chan StreamEvent

	// Cancel ends the subscription.
	Cancel()
}

// Controller is the part of the router control session the attacher needs.
type Controller interface {
	// SetConf sets a configuration option.
	SetConf(ctx context.Context, key, value string) error

	// ResetConf resets configuration options to their defaults.
	ResetConf(ctx context.Context, keys ...string) error

	// SubscribeStreamEvents subscribes to stream events.
	SubscribeStreamEvents() (Feed, error)

	// AttachStream attaches a stream to a circuit.
	AttachStream(ctx context.Context, streamID, circuitID string) error
}
