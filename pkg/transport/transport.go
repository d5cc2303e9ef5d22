// Package transport establishes a direct peer link through manual
// offer/answer signaling and exchanges opaque binary payloads once
// connected. The signaling payloads themselves travel out-of-band
// (copy/paste or equivalent) - this package only produces and consumes
// them.
package transport

import (
	"context"
	"time"
)

type SignalKind uint8

const (
	SignalKind_Offer SignalKind = iota
	SignalKind_Answer
)

func (k SignalKind) String() string {
	if k == SignalKind_Offer {
		return "offer"
	}
	return "answer"
}

type EventKind uint8

const (
	// A local signaling payload is ready to be relayed to the peer.
	EventKind_Signal EventKind = iota
	// The peer link is established; Send may now be used.
	EventKind_Connected
	// A binary payload arrived from the peer.
	EventKind_Data
	// The link closed, either side.
	EventKind_Closed
	// Something went wrong; the event carries the error.
	EventKind_Error
)

// Event is the single funnel for everything a transport reports back.
// Consumers read one channel, so events are observed in arrival order -
// important for the coordinator, which assumes inbound datagrams are
// never reordered.
type Event struct {
	Kind       EventKind
	SignalKind SignalKind
	Signal     string
	Data       []byte
	Err        error
}

// Transport is the peer-link capability contract. WebRTC is the shipping
// implementation; a WebSocket variant covers LAN play and an in-memory
// variant backs the tests.
type Transport interface {
	// StartHost begins a session as the connection initiator. A
	// SignalKind_Offer event follows once the local payload is ready.
	StartHost(ctx context.Context) error

	// StartGuest begins a session from a relayed offer payload. A
	// SignalKind_Answer event follows once the local payload is ready.
	StartGuest(ctx context.Context, offerPayload string) error

	// ProcessSignal feeds a relayed payload (the guest's answer, from the
	// host's perspective) into the in-progress connection. A malformed
	// payload is an error but does not tear down the attempt - the human
	// relaying it can retry.
	ProcessSignal(payload string) error

	// Send transmits one binary payload. Before the link is connected it
	// is a warn-and-drop no-op, never an error: sends racing a teardown
	// are expected. Channel-level failures surface as error events.
	Send(data []byte)

	// Close tears the link down unconditionally. Idempotent.
	Close()

	// IsConnected reports whether the link is currently established.
	IsConnected() bool

	Events() <-chan Event
}

const (
	DefaultConnectionTimeout = 30 * time.Second

	eventBufferLength = 64
)
