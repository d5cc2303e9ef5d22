package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	peererrors "github.com/photosafari/peerlink/pkg/errors"
	utils "github.com/photosafari/peerlink/pkg/util"
	"go.uber.org/zap"
)

type WebRTCTransportParams struct {
	// STUN/TURN server URLs. Defaults to Google's public STUN server.
	ICEServers []string

	// How long the link may stay un-established before the attempt is
	// abandoned. Defaults to DefaultConnectionTimeout. There is no retry:
	// manual signaling means re-initiation is a human step.
	ConnectionTimeout time.Duration

	Logger *zap.Logger
}

type webrtcTransport struct {
	params WebRTCTransportParams

	log    *zap.Logger
	events chan Event

	timeout connTimeout

	mut       sync.Mutex
	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
	connected bool
	closed    bool
}

// CreateWebRTCTransport builds a transport that forms a reliable, ordered
// WebRTC data channel between two peers using trickle-less signaling: all
// ICE candidates are gathered before the single offer/answer payload is
// surfaced, so one copy/paste in each direction is enough.
func CreateWebRTCTransport(params WebRTCTransportParams) *webrtcTransport {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	if len(params.ICEServers) == 0 {
		params.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	if params.ConnectionTimeout <= 0 {
		params.ConnectionTimeout = DefaultConnectionTimeout
	}

	stringGen := utils.CreateRandomStringGenerator(time.Now().UnixMicro())

	return &webrtcTransport{
		params: params,
		log: logger.With(
			zap.String("transport", "WebRTC"),
			zap.String("linkId", stringGen.GetRandomString(6)),
		),
		events: make(chan Event, eventBufferLength),
	}
}

func (t *webrtcTransport) Events() <-chan Event {
	return t.events
}

func (t *webrtcTransport) StartHost(ctx context.Context) error {
	pc, err := t.createPeerConnection()
	if err != nil {
		return err
	}

	ordered := true
	dc, err := pc.CreateDataChannel("safari", &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		pc.Close()
		return err
	}
	t.attachDataChannel(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return err
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return err
	}

	t.armTimeout()

	go func() {
		select {
		case <-ctx.Done():
			t.log.Warn("Context cancelled before ICE gathering finished")
			return
		case <-gatherComplete:
		}

		t.emitLocalDescription(SignalKind_Offer)
	}()

	return nil
}

func (t *webrtcTransport) StartGuest(ctx context.Context, offerPayload string) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal([]byte(offerPayload), &offer); err != nil {
		return &peererrors.InvalidSignal{Reason: "offer payload is not a valid session description"}
	}

	pc, err := t.createPeerConnection()
	if err != nil {
		return err
	}

	// The host opens the channel; we adopt it when it arrives.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.log.Debug("Remote data channel announced", zap.String("label", dc.Label()))
		t.attachDataChannel(dc)
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return &peererrors.InvalidSignal{Reason: err.Error()}
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return err
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return err
	}

	t.armTimeout()

	go func() {
		select {
		case <-ctx.Done():
			t.log.Warn("Context cancelled before ICE gathering finished")
			return
		case <-gatherComplete:
		}

		t.emitLocalDescription(SignalKind_Answer)
	}()

	return nil
}

func (t *webrtcTransport) ProcessSignal(payload string) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(payload), &desc); err != nil {
		return &peererrors.InvalidSignal{Reason: "answer payload is not a valid session description"}
	}

	t.mut.Lock()
	pc := t.pc
	t.mut.Unlock()

	if pc == nil {
		return &peererrors.InvalidSignal{Reason: "no connection attempt in progress"}
	}

	if err := pc.SetRemoteDescription(desc); err != nil {
		return &peererrors.InvalidSignal{Reason: err.Error()}
	}

	t.log.Info("Remote description applied, waiting for ICE to connect")
	return nil
}

func (t *webrtcTransport) Send(data []byte) {
	t.mut.Lock()
	dc, connected := t.dc, t.connected
	t.mut.Unlock()

	if !connected || dc == nil {
		t.log.Warn("Dropping send attempt on unconnected transport", zap.Int("size", len(data)))
		return
	}

	if err := dc.Send(data); err != nil {
		t.emit(Event{Kind: EventKind_Error, Err: &peererrors.SendFailure{Cause: err}})
	}
}

func (t *webrtcTransport) Close() {
	t.timeout.stop()

	t.mut.Lock()
	if t.closed {
		t.mut.Unlock()
		return
	}
	t.closed = true
	t.connected = false
	pc, dc := t.pc, t.dc
	t.pc, t.dc = nil, nil
	t.mut.Unlock()

	if dc != nil {
		dc.Close()
	}
	if pc != nil {
		pc.Close()
	}

	t.emit(Event{Kind: EventKind_Closed})
	t.log.Info("WebRTC transport closed")
}

func (t *webrtcTransport) createPeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: t.params.ICEServers},
		},
	})
	if err != nil {
		return nil, err
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.log.Debug("Peer connection state changed", zap.String("state", state.String()))

		switch state {
		case webrtc.PeerConnectionStateFailed:
			t.emit(Event{Kind: EventKind_Error, Err: &peererrors.SendFailure{Cause: errConnectionFailed{}}})
			t.Close()
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			t.Close()
		}
	})

	t.mut.Lock()
	t.pc = pc
	t.mut.Unlock()

	return pc, nil
}

func (t *webrtcTransport) attachDataChannel(dc *webrtc.DataChannel) {
	t.mut.Lock()
	t.dc = dc
	t.mut.Unlock()

	dc.OnOpen(func() {
		t.timeout.stop()

		t.mut.Lock()
		t.connected = true
		t.mut.Unlock()

		t.log.Info("Data channel open")
		t.emit(Event{Kind: EventKind_Connected})
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.emit(Event{Kind: EventKind_Data, Data: msg.Data})
	})

	dc.OnClose(func() {
		t.Close()
	})

	dc.OnError(func(err error) {
		t.emit(Event{Kind: EventKind_Error, Err: &peererrors.SendFailure{Cause: err}})
	})
}

func (t *webrtcTransport) emitLocalDescription(kind SignalKind) {
	t.mut.Lock()
	pc := t.pc
	t.mut.Unlock()

	if pc == nil {
		return
	}

	local := pc.LocalDescription()
	if local == nil {
		t.emit(Event{Kind: EventKind_Error, Err: &peererrors.InvalidSignal{Reason: "no local description after gathering"}})
		return
	}

	payload, err := json.Marshal(local)
	if err != nil {
		t.emit(Event{Kind: EventKind_Error, Err: err})
		return
	}

	t.log.Info("Local signaling payload ready", zap.String("kind", kind.String()), zap.Int("size", len(payload)))
	t.emit(Event{
		Kind:       EventKind_Signal,
		SignalKind: kind,
		Signal:     string(payload),
	})
}

func (t *webrtcTransport) armTimeout() {
	t.timeout.arm(t.params.ConnectionTimeout, func() {
		t.log.Warn("Connection establishment timed out")
		t.emit(Event{Kind: EventKind_Error, Err: &peererrors.ConnectionTimeout{
			TimeoutMs: t.params.ConnectionTimeout.Milliseconds(),
		}})
		t.Close()
	})
}

func (t *webrtcTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn("Event buffer full, dropping transport event", zap.Uint8("kind", uint8(ev.Kind)))
	}
}

type errConnectionFailed struct{}

func (errConnectionFailed) Error() string {
	return "peer connection entered failed state"
}

func (t *webrtcTransport) IsConnected() bool {
	t.mut.Lock()
	defer t.mut.Unlock()

	return t.connected
}

var _ Transport = (*webrtcTransport)(nil)
