package session

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/photosafari/peerlink/pkg/transport"
	"github.com/photosafari/peerlink/pkg/wire"
	"go.uber.org/zap"
)

type callbackRecorder struct {
	statuses      chan Status
	signals       chan string
	peerStates    chan wire.GameState
	gameEvents    chan wire.GameEvent
	notifications chan string
	errors        chan error
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{
		statuses:      make(chan Status, 256),
		signals:       make(chan string, 8),
		peerStates:    make(chan wire.GameState, 64),
		gameEvents:    make(chan wire.GameEvent, 16),
		notifications: make(chan string, 16),
		errors:        make(chan error, 16),
	}
}

func (r *callbackRecorder) callbacks() Callbacks {
	return Callbacks{
		OnStatus:       func(s Status) { r.statuses <- s },
		OnSignal:       func(payload string, kind transport.SignalKind) { r.signals <- payload },
		OnPeerState:    func(s wire.GameState) { r.peerStates <- s },
		OnGameEvent:    func(e wire.GameEvent) { r.gameEvents <- e },
		OnNotification: func(text string) { r.notifications <- text },
		OnError:        func(err error) { r.errors <- err },
	}
}

func waitForState(t *testing.T, statuses <-chan Status, want State) Status {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-statuses:
			if s.State == want {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %v", want)
		}
	}
}

func waitConnected(t *testing.T, c *Coordinator) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !c.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("coordinator never reached connected state")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// establishPair runs the full manual-signaling dance between two
// coordinators over the in-memory transport pair.
func establishPair(t *testing.T) (*Coordinator, *Coordinator, *callbackRecorder, *callbackRecorder) {
	t.Helper()

	trHost, trGuest := transport.CreateMemoryTransportPair(transport.MemoryTransportParams{})
	hostRec, guestRec := newCallbackRecorder(), newCallbackRecorder()

	host := CreateCoordinator(CoordinatorParams{
		Transport:         trHost,
		HeartbeatInterval: 20 * time.Millisecond,
		Callbacks:         hostRec.callbacks(),
		Logger:            zap.NewNop(),
	})
	guest := CreateCoordinator(CoordinatorParams{
		Transport:         trGuest,
		HeartbeatInterval: 20 * time.Millisecond,
		Callbacks:         guestRec.callbacks(),
		Logger:            zap.NewNop(),
	})

	ctx := context.Background()

	offer, err := host.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if offer == "" {
		t.Fatal("CreateSession resolved without an offer payload")
	}

	answer, err := guest.JoinSession(ctx, offer)
	if err != nil {
		t.Fatalf("JoinSession returned error: %v", err)
	}
	if answer == "" {
		t.Fatal("JoinSession resolved without an answer payload")
	}

	if err := host.ProcessAnswer(answer); err != nil {
		t.Fatalf("ProcessAnswer returned error: %v", err)
	}

	waitConnected(t, host)
	waitConnected(t, guest)
	waitForState(t, hostRec.statuses, State_Connected)
	waitForState(t, guestRec.statuses, State_Connected)

	return host, guest, hostRec, guestRec
}

func TestEndToEndSessionEstablishment(t *testing.T) {
	host, guest, hostRec, guestRec := establishPair(t)
	defer host.Disconnect()
	defer guest.Disconnect()

	// Each side surfaced exactly one signaling payload via OnSignal.
	select {
	case <-hostRec.signals:
	default:
		t.Error("host never surfaced its offer through OnSignal")
	}
	select {
	case <-guestRec.signals:
	default:
		t.Error("guest never surfaced its answer through OnSignal")
	}
}

func TestStateFlowsThroughTripleGate(t *testing.T) {
	host, guest, _, guestRec := establishPair(t)
	defer host.Disconnect()
	defer guest.Disconnect()

	sent := wire.GameState{
		Position:     [3]float32{5, 1, -2},
		Rotation:     [3]float32{0, 0.5, 0},
		CameraMode:   wire.CameraMode_Ride,
		RideProgress: 0.25,
		Timestamp:    1000,
	}
	host.SendGameState(sent)

	select {
	case got := <-guestRec.peerStates:
		if got != sent {
			t.Errorf("peer state mismatch: sent %+v, got %+v", sent, got)
		}
	case <-time.After(time.Second):
		t.Fatal("guest never observed the peer state")
	}

	// An identical state inside the throttle window is suppressed twice
	// over: rate gate and delta gate.
	host.SendGameState(sent)
	select {
	case <-guestRec.peerStates:
		t.Error("redundant state update was not suppressed")
	case <-time.After(100 * time.Millisecond):
	}

	// The received state is buffered for interpolation on the guest side.
	if _, ok := guest.PeerStateAt(sent.Timestamp); !ok {
		t.Error("received state did not reach the interpolation buffer")
	}
}

func TestEventsBypassThrottle(t *testing.T) {
	host, guest, _, guestRec := establishPair(t)
	defer host.Disconnect()
	defer guest.Disconnect()

	for i := 0; i < 3; i++ {
		host.SendGameEvent(wire.GameEvent{
			Type:      wire.EventType_CreatureInteraction,
			Timestamp: uint32(i),
		})
	}

	for i := 0; i < 3; i++ {
		select {
		case got := <-guestRec.gameEvents:
			if got.Timestamp != uint32(i) {
				t.Errorf("events arrived out of order: got ts=%d, want %d", got.Timestamp, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d never arrived", i)
		}
	}
}

func TestPhotoEventRaisesNotification(t *testing.T) {
	host, guest, _, guestRec := establishPair(t)
	defer host.Disconnect()
	defer guest.Disconnect()

	host.SendGameEvent(wire.GameEvent{
		Type:      wire.EventType_Photo,
		Timestamp: 77,
		Data:      []byte(`{"creature":"zebra"}`),
	})

	select {
	case <-guestRec.notifications:
	case <-time.After(time.Second):
		t.Fatal("photo event did not raise a notification")
	}

	select {
	case got := <-guestRec.gameEvents:
		if got.Type != wire.EventType_Photo || string(got.Data) != `{"creature":"zebra"}` {
			t.Errorf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("photo event never arrived")
	}
}

func TestHeartbeatMeasuresLatency(t *testing.T) {
	host, guest, hostRec, _ := establishPair(t)
	defer host.Disconnect()
	defer guest.Disconnect()

	// The 20ms heartbeat should complete a ping/pong round trip quickly;
	// each pong pushes a connected status carrying the fresh latency.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-hostRec.statuses:
			if s.State == State_Connected && s.LatencyMs > 0 {
				return
			}
		case <-deadline:
			t.Fatal("no latency-bearing status arrived within two heartbeats")
		}
	}
}

func TestLatencyComputation(t *testing.T) {
	tr, _ := transport.CreateMemoryTransportPair(transport.MemoryTransportParams{})
	c := CreateCoordinator(CoordinatorParams{Transport: tr, Logger: zap.NewNop()})

	// Simulate a pong whose echoed timestamp is 40ms in the past: the
	// one-way estimate is half the round trip.
	echoed := c.clock.HighResMillis() - 40
	c.dispatch(wire.SerializePong(0, echoed))

	if got := c.Latency(); math.Abs(got-20) > 2 {
		t.Errorf("latency estimate = %vms, want ~20ms", got)
	}
}

func TestPingIsEchoedAsPong(t *testing.T) {
	trA, trB := transport.CreateMemoryTransportPair(transport.MemoryTransportParams{})

	// Establish the raw link without starting a coordinator loop on A, so
	// the test can observe B's raw events.
	ctx := context.Background()
	if err := trA.StartHost(ctx); err != nil {
		t.Fatal(err)
	}
	var offer string
	for ev := range trA.Events() {
		if ev.Kind == transport.EventKind_Signal {
			offer = ev.Signal
			break
		}
	}
	if err := trB.StartGuest(ctx, offer); err != nil {
		t.Fatal(err)
	}
	var answer string
	for ev := range trB.Events() {
		if ev.Kind == transport.EventKind_Signal {
			answer = ev.Signal
			break
		}
	}
	if err := trA.ProcessSignal(answer); err != nil {
		t.Fatal(err)
	}

	c := CreateCoordinator(CoordinatorParams{Transport: trA, Logger: zap.NewNop()})
	c.dispatch(wire.SerializePing(12345, 9876.5))

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-trB.Events():
			if ev.Kind != transport.EventKind_Data {
				continue
			}
			pong, err := wire.DeserializePingPong(ev.Data)
			if err != nil {
				t.Fatalf("peer received undecodable pong: %v", err)
			}
			if pong.Type != wire.MessageType_Pong {
				t.Fatalf("expected pong, got type %d", pong.Type)
			}
			if pong.HighResMillis != 9876.5 || pong.WallTimestamp != 12345 {
				t.Errorf("pong must echo the ping timestamps exactly: %+v", pong)
			}
			return
		case <-deadline:
			t.Fatal("no pong arrived at the peer")
		}
	}
}

func TestUnknownMessageTypeDropped(t *testing.T) {
	tr, _ := transport.CreateMemoryTransportPair(transport.MemoryTransportParams{})
	rec := newCallbackRecorder()
	c := CreateCoordinator(CoordinatorParams{Transport: tr, Callbacks: rec.callbacks(), Logger: zap.NewNop()})

	c.dispatch([]byte{0x42, 0x00, 0x01})
	c.dispatch([]byte{})

	select {
	case err := <-rec.errors:
		t.Fatalf("unknown message types must be dropped silently, got error %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDisconnectTeardown(t *testing.T) {
	host, guest, hostRec, guestRec := establishPair(t)

	// Seed the host with remote state so teardown has something to clear.
	guest.SendGameState(wire.GameState{Position: [3]float32{1, 2, 3}, Timestamp: 500})
	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := host.PeerStateAt(500); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("host never buffered the guest state")
		}
		time.Sleep(2 * time.Millisecond)
	}

	host.Disconnect()

	if host.IsConnected() {
		t.Error("host still reports connected after Disconnect")
	}
	if host.Latency() != 0 {
		t.Error("latency must reset to zero on disconnect")
	}
	if _, ok := host.PeerStateAt(500); ok {
		t.Error("interpolation buffer must be empty immediately after Disconnect")
	}
	waitForState(t, hostRec.statuses, State_Disconnected)

	// The peer observes the loss within its own event processing.
	waitForState(t, guestRec.statuses, State_Disconnected)
	deadline = time.Now().Add(time.Second)
	for guest.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("guest never observed the disconnect")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Idempotent.
	host.Disconnect()
	guest.Disconnect()
}

func TestSendWhileDisconnectedIsNoop(t *testing.T) {
	tr, _ := transport.CreateMemoryTransportPair(transport.MemoryTransportParams{})
	rec := newCallbackRecorder()
	c := CreateCoordinator(CoordinatorParams{Transport: tr, Callbacks: rec.callbacks(), Logger: zap.NewNop()})

	c.SendGameState(wire.GameState{Position: [3]float32{9, 9, 9}})
	c.SendGameEvent(wire.GameEvent{Type: wire.EventType_Photo})

	select {
	case err := <-rec.errors:
		t.Fatalf("sends while disconnected must be silent no-ops, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGarbledAnswerDoesNotTearDownAttempt(t *testing.T) {
	trHost, trGuest := transport.CreateMemoryTransportPair(transport.MemoryTransportParams{})
	rec := newCallbackRecorder()
	host := CreateCoordinator(CoordinatorParams{
		Transport: trHost,
		Callbacks: rec.callbacks(),
		Logger:    zap.NewNop(),
	})
	guest := CreateCoordinator(CoordinatorParams{Transport: trGuest, Logger: zap.NewNop()})
	defer host.Disconnect()
	defer guest.Disconnect()

	ctx := context.Background()
	offer, err := host.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := host.ProcessAnswer("garbage, not a payload"); err == nil {
		t.Fatal("expected error for garbled answer")
	}
	select {
	case <-rec.errors:
	case <-time.After(time.Second):
		t.Fatal("garbled answer was not reported through OnError")
	}

	// The attempt is still alive: the real answer must still connect.
	answer, err := guest.JoinSession(ctx, offer)
	if err != nil {
		t.Fatal(err)
	}
	if err := host.ProcessAnswer(answer); err != nil {
		t.Fatalf("retry after garbled answer failed: %v", err)
	}
	waitConnected(t, host)
}
