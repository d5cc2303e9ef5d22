// Package session orchestrates one multiplayer safari session: it owns the
// peer transport and the state synchronizer, runs the heartbeat loop, and
// presents the provider contract the game layer consumes.
package session

import (
	"context"

	"github.com/photosafari/peerlink/pkg/transport"
	"github.com/photosafari/peerlink/pkg/wire"
)

type State uint8

const (
	State_Disconnected State = iota
	State_Connecting
	State_Connected
	State_Error
)

func (s State) String() string {
	switch s {
	case State_Disconnected:
		return "disconnected"
	case State_Connecting:
		return "connecting"
	case State_Connected:
		return "connected"
	case State_Error:
		return "error"
	}
	return "unknown"
}

// Status is pushed by the coordinator on every transition; consumers never
// compute it themselves. Exactly one status holds at any time.
type Status struct {
	State     State
	Message   string
	LatencyMs float64
}

// Callbacks is the presentation-facing surface: connection UI, the peer
// avatar renderer, and notification toasts all hang off these. Every
// field is optional. Callbacks fire from the coordinator's event
// goroutine, so handlers must not block.
type Callbacks struct {
	OnStatus       func(Status)
	OnSignal       func(payload string, kind transport.SignalKind)
	OnPeerState    func(wire.GameState)
	OnGameEvent    func(wire.GameEvent)
	OnNotification func(text string)
	OnError        func(err error)
}

// Provider is the abstract multiplayer contract. The coordinator in this
// package is the peer-to-peer implementation; a server-authoritative
// provider could satisfy the same interface without touching the game
// layer.
type Provider interface {
	// CreateSession starts hosting and returns the local offer payload
	// once it has been generated and surfaced - not once a peer joins.
	CreateSession(ctx context.Context) (string, error)

	// JoinSession consumes a relayed offer and returns the local answer
	// payload once generated.
	JoinSession(ctx context.Context, offerPayload string) (string, error)

	// ProcessAnswer feeds the guest's relayed answer back in (host side).
	ProcessAnswer(payload string) error

	// Disconnect tears the session down. Safe to call repeatedly.
	Disconnect()

	// Update is the per-frame hook. Push-based providers ignore it, but
	// the interface keeps it so a polling provider can reconcile here.
	Update(deltaTime float64)

	SendGameState(state wire.GameState)
	SendGameEvent(event wire.GameEvent)

	// PeerStateAt reconstructs the remote player's state at a remote-clock
	// timestamp for rendering between network updates.
	PeerStateAt(timestamp uint32) (wire.GameState, bool)

	IsConnected() bool

	// Latency is the one-way estimate in milliseconds (RTT/2); zero
	// before the first completed ping round trip.
	Latency() float64
}
