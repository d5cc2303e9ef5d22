package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	peererrors "github.com/photosafari/peerlink/pkg/errors"
	utils "github.com/photosafari/peerlink/pkg/util"
	"go.uber.org/zap"
)

type WebsocketTransportParams struct {
	// Host-side listen address. Port 0 picks a free port, which is the
	// sensible default for LAN play since the chosen address rides along
	// in the offer payload anyway.
	ListenAddress string

	// HTTP endpoint that accepts the peer's upgrade request.
	ListenEndpoint string

	ConnectionTimeout time.Duration

	MaxReadMessageSize int64

	Logger *zap.Logger
}

// wsSignal is the signaling payload for the WebSocket variant. It plays
// the same role as a WebRTC session description: an opaque JSON blob the
// humans relay between machines.
type wsSignal struct {
	Kind  string `json:"kind"`
	URL   string `json:"url,omitempty"`
	Token string `json:"token"`
}

type websocketTransport struct {
	params WebsocketTransportParams

	upgrader *websocket.Upgrader

	log       *zap.Logger
	events    chan Event
	stringGen *utils.RandomStringGenerator

	timeout connTimeout

	mut       sync.Mutex
	writeMut  sync.Mutex
	server    *http.Server
	listener  net.Listener
	conn      *websocket.Conn
	token     string
	connected bool
	closed    bool
}

// CreateWebsocketTransport builds the LAN-play alternative to the WebRTC
// transport: the host serves a single WebSocket upgrade endpoint and the
// offer payload carries the dial address, so no STUN/TURN infrastructure
// is involved. Same reliable ordered delivery, same signaling shape.
func CreateWebsocketTransport(params WebsocketTransportParams) *websocketTransport {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	if params.ListenAddress == "" {
		params.ListenAddress = "0.0.0.0:0"
	}
	if params.ListenEndpoint == "" {
		params.ListenEndpoint = "/safari"
	}
	if params.ConnectionTimeout <= 0 {
		params.ConnectionTimeout = DefaultConnectionTimeout
	}

	stringGen := utils.CreateRandomStringGenerator(time.Now().UnixMicro())

	return &websocketTransport{
		params: params,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.With(
			zap.String("transport", "WebSocket"),
			zap.String("linkId", stringGen.GetRandomString(6)),
		),
		events:    make(chan Event, eventBufferLength),
		stringGen: stringGen,
	}
}

func (t *websocketTransport) Events() <-chan Event {
	return t.events
}

func (t *websocketTransport) StartHost(ctx context.Context) error {
	listener, err := net.Listen("tcp", t.params.ListenAddress)
	if err != nil {
		return err
	}

	token := t.stringGen.GetRandomString(12)

	mux := http.NewServeMux()
	mux.HandleFunc(t.params.ListenEndpoint, func(w http.ResponseWriter, r *http.Request) {
		t.onUpgradeRequest(w, r, token)
	})

	server := &http.Server{Handler: mux}

	t.mut.Lock()
	t.server = server
	t.listener = listener
	t.token = token
	t.mut.Unlock()

	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			t.log.Error("Unexpected WebSocket server close", zap.Error(serveErr))
		}
	}()

	go func() {
		<-ctx.Done()
		t.Close()
	}()

	t.armTimeout()

	payload, err := json.Marshal(wsSignal{
		Kind:  "offer",
		URL:   fmt.Sprintf("ws://%s%s", listener.Addr().String(), t.params.ListenEndpoint),
		Token: token,
	})
	if err != nil {
		return err
	}

	t.log.Info("WebSocket host listening", zap.String("addr", listener.Addr().String()))
	t.emit(Event{
		Kind:       EventKind_Signal,
		SignalKind: SignalKind_Offer,
		Signal:     string(payload),
	})

	return nil
}

func (t *websocketTransport) StartGuest(ctx context.Context, offerPayload string) error {
	var offer wsSignal
	if err := json.Unmarshal([]byte(offerPayload), &offer); err != nil || offer.Kind != "offer" || offer.URL == "" {
		return &peererrors.InvalidSignal{Reason: "offer payload is not a WebSocket session offer"}
	}

	t.armTimeout()

	go func() {
		dialer := *websocket.DefaultDialer
		conn, _, err := dialer.DialContext(ctx, offer.URL+"?token="+offer.Token, nil)
		if err != nil {
			t.emit(Event{Kind: EventKind_Error, Err: &peererrors.InvalidSignal{Reason: "failed to reach host: " + err.Error()}})
			return
		}

		payload, _ := json.Marshal(wsSignal{Kind: "answer", Token: offer.Token})
		t.emit(Event{
			Kind:       EventKind_Signal,
			SignalKind: SignalKind_Answer,
			Signal:     string(payload),
		})

		t.adoptConnection(conn)
	}()

	return nil
}

// ProcessSignal on the host side validates the guest's answer. The link
// itself is already live once the guest dialed in; the answer exists so
// the signaling flow matches the WebRTC variant exactly.
func (t *websocketTransport) ProcessSignal(payload string) error {
	var answer wsSignal
	if err := json.Unmarshal([]byte(payload), &answer); err != nil || answer.Kind != "answer" {
		return &peererrors.InvalidSignal{Reason: "answer payload is not a WebSocket session answer"}
	}

	t.mut.Lock()
	token := t.token
	t.mut.Unlock()

	if answer.Token != token {
		return &peererrors.InvalidSignal{Reason: "answer token does not match this session"}
	}

	return nil
}

func (t *websocketTransport) Send(data []byte) {
	t.mut.Lock()
	conn, connected := t.conn, t.connected
	t.mut.Unlock()

	if !connected || conn == nil {
		t.log.Warn("Dropping send attempt on unconnected transport", zap.Int("size", len(data)))
		return
	}

	t.writeMut.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, data)
	t.writeMut.Unlock()

	if err != nil {
		t.emit(Event{Kind: EventKind_Error, Err: &peererrors.SendFailure{Cause: err}})
	}
}

func (t *websocketTransport) Close() {
	t.timeout.stop()

	t.mut.Lock()
	if t.closed {
		t.mut.Unlock()
		return
	}
	t.closed = true
	t.connected = false
	conn, server := t.conn, t.server
	t.conn, t.server, t.listener = nil, nil, nil
	t.mut.Unlock()

	if conn != nil {
		conn.Close()
	}
	if server != nil {
		shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownRelease()
		server.Shutdown(shutdownCtx)
	}

	t.emit(Event{Kind: EventKind_Closed})
	t.log.Info("WebSocket transport closed")
}

func (t *websocketTransport) onUpgradeRequest(w http.ResponseWriter, r *http.Request, token string) {
	if r.URL.Query().Get("token") != token {
		t.log.Warn("Rejected upgrade request with bad token")
		http.Error(w, "unknown session", http.StatusForbidden)
		return
	}

	t.mut.Lock()
	alreadyPaired := t.conn != nil
	t.mut.Unlock()
	if alreadyPaired {
		t.log.Warn("Rejected second peer, session already paired")
		http.Error(w, "session full", http.StatusConflict)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Error("Failed to upgrade HTTP request to WebSocket connection", zap.Error(err))
		return
	}

	t.log.Info("Peer joined over WebSocket", zap.String("remote", conn.RemoteAddr().String()))
	t.adoptConnection(conn)
}

func (t *websocketTransport) adoptConnection(conn *websocket.Conn) {
	if t.params.MaxReadMessageSize > 0 {
		conn.SetReadLimit(t.params.MaxReadMessageSize)
	}

	t.timeout.stop()

	t.mut.Lock()
	t.conn = conn
	t.connected = true
	t.mut.Unlock()

	t.emit(Event{Kind: EventKind_Connected})

	go t.readPump(conn)
}

func (t *websocketTransport) readPump(conn *websocket.Conn) {
	expectedCloseErrors := []int{websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived}

	for {
		msgType, payload, msgErr := conn.ReadMessage()
		if msgErr != nil {
			if websocket.IsCloseError(msgErr, expectedCloseErrors...) {
				t.log.Info("Peer closed the connection")
			} else if websocket.IsUnexpectedCloseError(msgErr, expectedCloseErrors...) {
				t.log.Warn("Peer connection dropped", zap.Error(msgErr))
			} else if strings.Contains(msgErr.Error(), "use of closed network connection") {
				// Local Close() already ran; nothing more to report.
				return
			} else {
				t.log.Error("Unexpected WebSocket error on message read", zap.Error(msgErr))
			}

			t.Close()
			return
		}

		if msgType != websocket.BinaryMessage {
			t.log.Info("Received non-binary message, ignoring", zap.Int("size", len(payload)))
			continue
		}

		t.emit(Event{Kind: EventKind_Data, Data: payload})
	}
}

func (t *websocketTransport) armTimeout() {
	t.timeout.arm(t.params.ConnectionTimeout, func() {
		t.log.Warn("Connection establishment timed out")
		t.emit(Event{Kind: EventKind_Error, Err: &peererrors.ConnectionTimeout{
			TimeoutMs: t.params.ConnectionTimeout.Milliseconds(),
		}})
		t.Close()
	})
}

func (t *websocketTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn("Event buffer full, dropping transport event", zap.Uint8("kind", uint8(ev.Kind)))
	}
}

func (t *websocketTransport) IsConnected() bool {
	t.mut.Lock()
	defer t.mut.Unlock()

	return t.connected
}

var _ Transport = (*websocketTransport)(nil)
