// Command safari-peer drives a full peer-to-peer safari session from the
// terminal: it hosts or joins, relays signaling payloads over copy/paste,
// then publishes a synthetic camera ride so two terminals can watch each
// other's state and latency.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/photosafari/peerlink/pkg/session"
	"github.com/photosafari/peerlink/pkg/transport"
	"github.com/photosafari/peerlink/pkg/wire"
	"go.uber.org/zap"
)

func main() {
	logger := zap.Must(zap.NewProduction())
	if os.Getenv("APP_ENV") != "production" {
		logger = zap.Must(zap.NewDevelopment())
	}
	defer logger.Sync()

	//
	// Flags
	host := flag.Bool("host", false, "Host a new session")
	join := flag.Bool("join", false, "Join an existing session (paste the host's offer when prompted)")
	transportKind := flag.String("transport", "webrtc", "Peer transport: webrtc or ws")
	stunServers := flag.String("stun", "stun:stun.l.google.com:19302", "Comma-separated STUN/TURN server URLs (webrtc only)")
	wsListen := flag.String("ws-listen", "0.0.0.0:0", "Host listen address (ws only)")
	updateRate := flag.Int("update-rate", 10, "State updates per second")
	connectionTimeout := flag.Duration("timeout", 30*time.Second, "Connection establishment timeout")
	flag.Parse()

	if *host == *join {
		fmt.Fprintln(os.Stderr, "exactly one of -host or -join is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tr transport.Transport
	switch *transportKind {
	case "webrtc":
		tr = transport.CreateWebRTCTransport(transport.WebRTCTransportParams{
			ICEServers:        strings.Split(*stunServers, ","),
			ConnectionTimeout: *connectionTimeout,
			Logger:            logger,
		})
	case "ws":
		tr = transport.CreateWebsocketTransport(transport.WebsocketTransportParams{
			ListenAddress:     *wsListen,
			ConnectionTimeout: *connectionTimeout,
			Logger:            logger,
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown transport %q\n", *transportKind)
		os.Exit(2)
	}

	stateCount := 0
	coordinator := session.CreateCoordinator(session.CoordinatorParams{
		Transport:  tr,
		UpdateRate: *updateRate,
		Logger:     logger,
		Callbacks: session.Callbacks{
			OnStatus: func(s session.Status) {
				logger.Info("Status",
					zap.String("state", s.State.String()),
					zap.String("message", s.Message),
					zap.Float64("latencyMs", s.LatencyMs))
			},
			OnPeerState: func(s wire.GameState) {
				// One log line per second at the default publish rate.
				stateCount++
				if stateCount%10 == 0 {
					logger.Info("Peer camera",
						zap.Float32("x", s.Position[0]),
						zap.Float32("y", s.Position[1]),
						zap.Float32("z", s.Position[2]),
						zap.Float32("rideProgress", s.RideProgress))
				}
			},
			OnGameEvent: func(e wire.GameEvent) {
				logger.Info("Peer event", zap.Uint8("type", uint8(e.Type)), zap.ByteString("data", e.Data))
			},
			OnNotification: func(text string) {
				fmt.Printf("\n*** %s ***\n\n", text)
			},
			OnError: func(err error) {
				logger.Error("Session error", zap.Error(err))
			},
		},
	})
	defer coordinator.Disconnect()

	stdin := bufio.NewScanner(os.Stdin)
	stdin.Buffer(make([]byte, 1024*1024), 1024*1024)

	if *host {
		offer, err := coordinator.CreateSession(ctx)
		if err != nil {
			logger.Fatal("Failed to create session", zap.Error(err))
		}

		fmt.Println("\n--- Send this offer to your safari partner: ---")
		fmt.Println(offer)
		fmt.Println("\nPaste their answer below and press enter:")

		answer, ok := readLine(ctx, stdin)
		if !ok {
			return
		}
		if err := coordinator.ProcessAnswer(answer); err != nil {
			logger.Fatal("Answer rejected", zap.Error(err))
		}
	} else {
		fmt.Println("Paste the host's offer below and press enter:")
		offer, ok := readLine(ctx, stdin)
		if !ok {
			return
		}

		answer, err := coordinator.JoinSession(ctx, offer)
		if err != nil {
			logger.Fatal("Failed to join session", zap.Error(err))
		}

		fmt.Println("\n--- Send this answer back to the host: ---")
		fmt.Println(answer)
	}

	logger.Info("Waiting for the peer link...")
	runRide(ctx, coordinator, logger)
}

// runRide synthesizes a camera circling the watering hole and publishes it
// until the context dies or the peer disappears.
func runRide(ctx context.Context, coordinator *session.Coordinator, logger *zap.Logger) {
	const (
		rideRadius   = 40.0
		rideDuration = 120.0 // seconds for a full loop
	)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	photoTicker := time.NewTicker(15 * time.Second)
	defer photoTicker.Stop()

	start := time.Now()
	wasConnected := false

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return

		case <-photoTicker.C:
			coordinator.SendGameEvent(wire.GameEvent{
				Type:      wire.EventType_Photo,
				Timestamp: uint32(time.Since(start).Milliseconds()),
				Data:      []byte(fmt.Sprintf(`{"score":%d}`, 50+int(time.Since(start).Seconds())%50)),
			})

		case <-ticker.C:
			connected := coordinator.IsConnected()
			if wasConnected && !connected {
				logger.Info("Peer gone, ending ride")
				return
			}
			wasConnected = connected
			if !connected {
				continue
			}

			elapsed := time.Since(start).Seconds()
			progress := math.Mod(elapsed/rideDuration, 1.0)
			angle := progress * 2 * math.Pi

			coordinator.SendGameState(wire.GameState{
				Position: [3]float32{
					float32(rideRadius * math.Cos(angle)),
					2.5,
					float32(rideRadius * math.Sin(angle)),
				},
				Rotation:     [3]float32{0, float32(angle + math.Pi/2), 0},
				CameraMode:   wire.CameraMode_Ride,
				RideProgress: float32(progress),
				Timestamp:    uint32(time.Since(start).Milliseconds()),
			})
		}
	}
}

// readLine pumps the scanner in a goroutine so Ctrl-C still works while
// blocked on stdin.
func readLine(ctx context.Context, scanner *bufio.Scanner) (string, bool) {
	lines := make(chan string, 1)
	go func() {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				lines <- line
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return "", false
	case line := <-lines:
		return line, true
	}
}
