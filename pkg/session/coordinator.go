package session

import (
	"context"
	"sync"
	"time"

	"github.com/photosafari/peerlink/internal"
	"github.com/photosafari/peerlink/pkg/statesync"
	"github.com/photosafari/peerlink/pkg/transport"
	"github.com/photosafari/peerlink/pkg/wire"
	"go.uber.org/zap"
)

type CoordinatorParams struct {
	// Transport carries the session. The coordinator owns it from here on
	// and closes it on Disconnect; transports are single-session, so build
	// a fresh coordinator+transport pair for each session.
	Transport transport.Transport

	// State publishes per second, after delta suppression. Defaults to 10.
	UpdateRate int

	// How often a latency-probing ping goes out once connected. Defaults
	// to 2 seconds.
	HeartbeatInterval time.Duration

	// How far behind the newest remote sample a renderer should query
	// PeerStateAt. Advisory only - the buffer itself does not enforce a
	// delay. Defaults to 100ms.
	InterpolationDelay time.Duration

	Callbacks Callbacks

	Logger *zap.Logger
}

type Coordinator struct {
	tr      transport.Transport
	synchro *statesync.Synchronizer
	clock   *internal.SessionClock
	cb      Callbacks
	log     *zap.Logger

	heartbeatInterval  time.Duration
	interpolationDelay time.Duration

	startLoop sync.Once
	doneOnce  sync.Once
	done      chan struct{}

	mut          sync.Mutex
	connected    bool
	torndown     bool
	latencyMs    float64
	signalWaiter chan string
}

func CreateCoordinator(params CoordinatorParams) *Coordinator {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	heartbeat := params.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 2 * time.Second
	}

	interpolationDelay := params.InterpolationDelay
	if interpolationDelay <= 0 {
		interpolationDelay = 100 * time.Millisecond
	}

	return &Coordinator{
		tr: params.Transport,
		synchro: statesync.CreateSynchronizer(statesync.SynchronizerParams{
			UpdateRate: params.UpdateRate,
			Logger:     logger,
		}),
		clock:              internal.CreateSessionClock(),
		cb:                 params.Callbacks,
		log:                logger.With(zap.String("component", "Coordinator")),
		heartbeatInterval:  heartbeat,
		interpolationDelay: interpolationDelay,
		done:               make(chan struct{}),
	}
}

// InterpolationDelay is the advisory render-time offset for PeerStateAt
// queries: rendering that far behind the newest sample keeps the query
// inside the buffered window at the default publish rate.
func (c *Coordinator) InterpolationDelay() time.Duration {
	return c.interpolationDelay
}

func (c *Coordinator) CreateSession(ctx context.Context) (string, error) {
	waiter := c.prepareSignalWaiter()
	c.pushStatus(State_Connecting, "Creating session")
	c.startLoop.Do(func() { go c.run() })

	if err := c.tr.StartHost(ctx); err != nil {
		c.reportError(err)
		return "", err
	}

	return c.awaitSignal(ctx, waiter)
}

func (c *Coordinator) JoinSession(ctx context.Context, offerPayload string) (string, error) {
	waiter := c.prepareSignalWaiter()
	c.pushStatus(State_Connecting, "Joining session")
	c.startLoop.Do(func() { go c.run() })

	if err := c.tr.StartGuest(ctx, offerPayload); err != nil {
		c.reportError(err)
		return "", err
	}

	return c.awaitSignal(ctx, waiter)
}

// ProcessAnswer applies the guest's relayed answer. A malformed payload is
// reported but does not abandon the attempt - the host can paste again.
func (c *Coordinator) ProcessAnswer(payload string) error {
	if err := c.tr.ProcessSignal(payload); err != nil {
		c.log.Warn("Rejected signaling payload", zap.Error(err))
		if c.cb.OnError != nil {
			c.cb.OnError(err)
		}
		return err
	}
	return nil
}

// Disconnect tears down the session: heartbeat stops, the transport
// closes, the synchronizer forgets everything, latency resets to zero.
// Safe to call at any time, any number of times.
func (c *Coordinator) Disconnect() {
	c.teardown()
}

// Update is a no-op for the peer-to-peer provider: state exchange is
// push-based through SendGameState. The hook exists for provider
// uniformity.
func (c *Coordinator) Update(deltaTime float64) {}

// SendGameState publishes the local camera state, subject to the triple
// gate: connected, rate limiter open, and meaningfully different from the
// last transmission.
func (c *Coordinator) SendGameState(state wire.GameState) {
	if !c.IsConnected() {
		return
	}

	now := c.clock.HighResMillis()
	if !c.synchro.ShouldSendUpdate(now) {
		return
	}
	if !c.synchro.HasStateChanged(state) {
		return
	}

	c.tr.Send(wire.SerializeState(state))
	c.synchro.MarkUpdateSent(now, state)
}

// SendGameEvent transmits a discrete event immediately. Events are rare
// and already discrete, so they are never throttled or delta-suppressed.
func (c *Coordinator) SendGameEvent(event wire.GameEvent) {
	if !c.IsConnected() {
		return
	}

	c.tr.Send(wire.SerializeEvent(event))
}

func (c *Coordinator) PeerStateAt(timestamp uint32) (wire.GameState, bool) {
	return c.synchro.InterpolatedState(timestamp)
}

// IsConnected requires the coordinator's flag and the transport's own flag
// to agree, guarding against the two desynchronizing during teardown.
func (c *Coordinator) IsConnected() bool {
	c.mut.Lock()
	connected := c.connected
	c.mut.Unlock()

	return connected && c.tr.IsConnected()
}

func (c *Coordinator) Latency() float64 {
	c.mut.Lock()
	defer c.mut.Unlock()

	return c.latencyMs
}

// run is the single event-processing goroutine. Every mutation driven by
// the network happens here, in arrival order; the heartbeat shares the
// same loop so ping sends never interleave mid-dispatch.
func (c *Coordinator) run() {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sendHeartbeat()
		case ev := <-c.tr.Events():
			if c.handleEvent(ev) {
				return
			}
		}
	}
}

// handleEvent returns true when the loop should exit.
func (c *Coordinator) handleEvent(ev transport.Event) bool {
	switch ev.Kind {
	case transport.EventKind_Signal:
		c.log.Info("Local signaling payload surfaced", zap.String("kind", ev.SignalKind.String()))
		if c.cb.OnSignal != nil {
			c.cb.OnSignal(ev.Signal, ev.SignalKind)
		}
		c.resolveSignalWaiter(ev.Signal)

	case transport.EventKind_Connected:
		c.mut.Lock()
		c.connected = true
		c.mut.Unlock()
		c.log.Info("Peer link established")
		c.pushStatus(State_Connected, "Peer connected")

	case transport.EventKind_Data:
		c.dispatch(ev.Data)

	case transport.EventKind_Error:
		c.reportError(ev.Err)

	case transport.EventKind_Closed:
		c.teardown()
		return true
	}

	return false
}

func (c *Coordinator) dispatch(data []byte) {
	switch wire.PeekMessageType(data) {
	case wire.MessageType_StateUpdate:
		state, err := wire.DeserializeState(data)
		if err != nil {
			c.log.Warn("Dropping undecodable state update", zap.Error(err))
			return
		}
		c.synchro.RecordReceivedState(*state)
		if c.cb.OnPeerState != nil {
			c.cb.OnPeerState(*state)
		}

	case wire.MessageType_GameEvent:
		event, err := wire.DeserializeEvent(data)
		if err != nil {
			c.log.Warn("Dropping undecodable game event", zap.Error(err))
			return
		}
		if c.cb.OnGameEvent != nil {
			c.cb.OnGameEvent(*event)
		}
		if event.Type == wire.EventType_Photo && c.cb.OnNotification != nil {
			c.cb.OnNotification("Your safari partner snapped a photo!")
		}

	case wire.MessageType_Ping:
		ping, err := wire.DeserializePingPong(data)
		if err != nil {
			c.log.Warn("Dropping undecodable ping", zap.Error(err))
			return
		}
		// Echo both timestamps verbatim so the sender can compute RTT on
		// its own clock.
		c.tr.Send(wire.SerializePong(ping.WallTimestamp, ping.HighResMillis))

	case wire.MessageType_Pong:
		pong, err := wire.DeserializePingPong(data)
		if err != nil {
			c.log.Warn("Dropping undecodable pong", zap.Error(err))
			return
		}
		latency := (c.clock.HighResMillis() - pong.HighResMillis) / 2
		if latency < 0 {
			latency = 0
		}
		c.mut.Lock()
		c.latencyMs = latency
		c.mut.Unlock()
		c.pushStatus(State_Connected, "Peer connected")

	default:
		c.log.Warn("Dropping message with unknown type byte", zap.Int("size", len(data)))
	}
}

func (c *Coordinator) sendHeartbeat() {
	if !c.IsConnected() {
		return
	}

	c.tr.Send(wire.SerializePing(c.clock.WallMillis(), c.clock.HighResMillis()))
}

func (c *Coordinator) teardown() {
	c.mut.Lock()
	if c.torndown {
		c.mut.Unlock()
		return
	}
	c.torndown = true
	c.connected = false
	c.latencyMs = 0
	c.mut.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	c.tr.Close()
	c.synchro.Reset()

	c.log.Info("Session torn down")
	c.pushStatus(State_Disconnected, "Session ended")
}

func (c *Coordinator) reportError(err error) {
	c.log.Error("Session error", zap.Error(err))
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
	c.pushStatus(State_Error, err.Error())
}

func (c *Coordinator) pushStatus(state State, message string) {
	if c.cb.OnStatus == nil {
		return
	}

	c.mut.Lock()
	latency := c.latencyMs
	c.mut.Unlock()

	c.cb.OnStatus(Status{
		State:     state,
		Message:   message,
		LatencyMs: latency,
	})
}

func (c *Coordinator) prepareSignalWaiter() chan string {
	waiter := make(chan string, 1)

	c.mut.Lock()
	c.signalWaiter = waiter
	c.mut.Unlock()

	return waiter
}

func (c *Coordinator) resolveSignalWaiter(payload string) {
	c.mut.Lock()
	waiter := c.signalWaiter
	c.signalWaiter = nil
	c.mut.Unlock()

	if waiter != nil {
		waiter <- payload
	}
}

func (c *Coordinator) awaitSignal(ctx context.Context, waiter chan string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", context.Canceled
	case payload := <-waiter:
		return payload, nil
	}
}

var _ Provider = (*Coordinator)(nil)
