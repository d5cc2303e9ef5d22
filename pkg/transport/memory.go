package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	peererrors "github.com/photosafari/peerlink/pkg/errors"
	utils "github.com/photosafari/peerlink/pkg/util"
	"go.uber.org/zap"
)

type MemoryTransportParams struct {
	ConnectionTimeout time.Duration
	Logger            *zap.Logger
}

// memoryTransport is the in-process implementation used by tests: the full
// offer/answer signaling dance with no sockets underneath. Delivery is
// synchronous and ordered, matching the reliable ordered guarantee of the
// real transports.
type memoryTransport struct {
	params MemoryTransportParams

	log    *zap.Logger
	events chan Event

	session string

	timeout connTimeout

	mut       sync.Mutex
	peer      *memoryTransport
	connected bool
	closed    bool
}

// CreateMemoryTransportPair returns two linked transports: drive one as
// host and the other as guest, relaying signal payloads between them as a
// test harness the way a human would copy/paste them in production.
func CreateMemoryTransportPair(params MemoryTransportParams) (*memoryTransport, *memoryTransport) {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if params.ConnectionTimeout <= 0 {
		params.ConnectionTimeout = DefaultConnectionTimeout
	}

	session := utils.CreateRandomStringGenerator(time.Now().UnixMicro()).GetRandomString(8)

	a := &memoryTransport{
		params:  params,
		log:     logger.With(zap.String("transport", "Memory"), zap.String("side", "a")),
		events:  make(chan Event, eventBufferLength),
		session: session,
	}
	b := &memoryTransport{
		params:  params,
		log:     logger.With(zap.String("transport", "Memory"), zap.String("side", "b")),
		events:  make(chan Event, eventBufferLength),
		session: session,
	}
	a.peer, b.peer = b, a

	return a, b
}

func (t *memoryTransport) Events() <-chan Event {
	return t.events
}

func (t *memoryTransport) StartHost(ctx context.Context) error {
	payload, err := json.Marshal(wsSignal{Kind: "offer", Token: t.session})
	if err != nil {
		return err
	}

	t.armTimeout()

	t.emit(Event{
		Kind:       EventKind_Signal,
		SignalKind: SignalKind_Offer,
		Signal:     string(payload),
	})
	return nil
}

func (t *memoryTransport) StartGuest(ctx context.Context, offerPayload string) error {
	var offer wsSignal
	if err := json.Unmarshal([]byte(offerPayload), &offer); err != nil || offer.Kind != "offer" {
		return &peererrors.InvalidSignal{Reason: "offer payload is not a memory session offer"}
	}
	if offer.Token != t.session {
		return &peererrors.InvalidSignal{Reason: "offer token does not match this session"}
	}

	payload, err := json.Marshal(wsSignal{Kind: "answer", Token: t.session})
	if err != nil {
		return err
	}

	t.emit(Event{
		Kind:       EventKind_Signal,
		SignalKind: SignalKind_Answer,
		Signal:     string(payload),
	})

	t.markConnected()
	return nil
}

func (t *memoryTransport) ProcessSignal(payload string) error {
	var answer wsSignal
	if err := json.Unmarshal([]byte(payload), &answer); err != nil || answer.Kind != "answer" {
		return &peererrors.InvalidSignal{Reason: "answer payload is not a memory session answer"}
	}
	if answer.Token != t.session {
		return &peererrors.InvalidSignal{Reason: "answer token does not match this session"}
	}

	t.markConnected()
	return nil
}

func (t *memoryTransport) Send(data []byte) {
	t.mut.Lock()
	peer, connected := t.peer, t.connected
	t.mut.Unlock()

	if !connected {
		t.log.Warn("Dropping send attempt on unconnected transport", zap.Int("size", len(data)))
		return
	}

	peer.mut.Lock()
	peerClosed := peer.closed
	peer.mut.Unlock()

	if peerClosed {
		t.emit(Event{Kind: EventKind_Error, Err: &peererrors.SendFailure{Cause: errPeerGone{}}})
		return
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	peer.emit(Event{Kind: EventKind_Data, Data: buf})
}

func (t *memoryTransport) Close() {
	t.timeout.stop()

	t.mut.Lock()
	if t.closed {
		t.mut.Unlock()
		return
	}
	t.closed = true
	t.connected = false
	peer := t.peer
	t.mut.Unlock()

	t.emit(Event{Kind: EventKind_Closed})

	// The other side observes a remote close, same as a dropped socket.
	if peer != nil {
		peer.Close()
	}
}

func (t *memoryTransport) markConnected() {
	t.timeout.stop()

	t.mut.Lock()
	already := t.connected
	t.connected = true
	t.mut.Unlock()

	if !already {
		t.emit(Event{Kind: EventKind_Connected})
	}
}

func (t *memoryTransport) armTimeout() {
	t.timeout.arm(t.params.ConnectionTimeout, func() {
		t.emit(Event{Kind: EventKind_Error, Err: &peererrors.ConnectionTimeout{
			TimeoutMs: t.params.ConnectionTimeout.Milliseconds(),
		}})
		t.Close()
	})
}

func (t *memoryTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn("Event buffer full, dropping transport event", zap.Uint8("kind", uint8(ev.Kind)))
	}
}

type errPeerGone struct{}

func (errPeerGone) Error() string {
	return "peer transport is closed"
}

func (t *memoryTransport) IsConnected() bool {
	t.mut.Lock()
	defer t.mut.Unlock()

	return t.connected
}

var _ Transport = (*memoryTransport)(nil)
