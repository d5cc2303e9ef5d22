// Package statesync owns the bandwidth policy of the peer link: how often
// camera state may be published, whether it differs enough from the last
// transmission to be worth sending, and how sparse remote samples are
// reconstructed into smooth motion on the receive side.
package statesync

import (
	"math"
	"sync"

	"github.com/photosafari/peerlink/pkg/wire"
	"go.uber.org/zap"
)

const (
	// Change-detection thresholds, L1 distance against the last sent state.
	positionEpsilon     = 0.01 // 1cm in world units
	rotationEpsilon     = 0.01 // radians
	rideProgressEpsilon = 0.001

	// Interpolation history. Ten samples at the default 10Hz publish rate
	// covers one second of remote motion.
	bufferCapacity = 10
)

type SynchronizerParams struct {
	// Updates per second allowed through ShouldSendUpdate. Defaults to 10.
	UpdateRate int

	Logger *zap.Logger
}

type Synchronizer struct {
	updateIntervalMs float64
	log              *zap.Logger

	// One synchronizer is shared between the game loop (send path) and the
	// coordinator's event loop (receive path).
	mut          sync.Mutex
	hasSent      bool
	lastSentAtMs float64
	lastSent     wire.GameState
	hasReceived  bool
	lastReceived wire.GameState
	buffer       []wire.GameState
}

func CreateSynchronizer(params SynchronizerParams) *Synchronizer {
	updateRate := 10
	if params.UpdateRate > 0 {
		updateRate = params.UpdateRate
	}

	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Synchronizer{
		updateIntervalMs: 1000.0 / float64(updateRate),
		log:              logger.With(zap.String("component", "Synchronizer")),
		buffer:           make([]wire.GameState, 0, bufferCapacity),
	}
}

// ShouldSendUpdate reports whether the rate limiter permits a state publish
// at the given local clock reading. It is read-only: the caller may still
// decide to skip the send (delta suppression), and only an actual
// transmission marks the clock via MarkUpdateSent.
func (s *Synchronizer) ShouldSendUpdate(nowMs float64) bool {
	s.mut.Lock()
	defer s.mut.Unlock()

	if !s.hasSent {
		return true
	}

	return nowMs-s.lastSentAtMs >= s.updateIntervalMs
}

// MarkUpdateSent records a completed transmission for both the rate limiter
// and change detection.
func (s *Synchronizer) MarkUpdateSent(nowMs float64, state wire.GameState) {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.hasSent = true
	s.lastSentAtMs = nowMs
	s.lastSent = state
}

// HasStateChanged reports whether state differs from the last transmitted
// state by more than the significance thresholds. Always true before the
// first transmission.
func (s *Synchronizer) HasStateChanged(state wire.GameState) bool {
	s.mut.Lock()
	defer s.mut.Unlock()

	if !s.hasSent {
		return true
	}

	if state.CameraMode != s.lastSent.CameraMode {
		return true
	}
	if l1Distance(state.Position, s.lastSent.Position) > positionEpsilon {
		return true
	}
	if l1Distance(state.Rotation, s.lastSent.Rotation) > rotationEpsilon {
		return true
	}

	return math.Abs(float64(state.RideProgress-s.lastSent.RideProgress)) > rideProgressEpsilon
}

// RecordReceivedState appends a remote state sample to the interpolation
// buffer, evicting the oldest sample once capacity is reached.
func (s *Synchronizer) RecordReceivedState(state wire.GameState) {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.hasReceived = true
	s.lastReceived = state

	if len(s.buffer) >= bufferCapacity {
		s.buffer = append(s.buffer[:0], s.buffer[1:]...)
	}
	s.buffer = append(s.buffer, state)
}

// InterpolatedState reconstructs the remote state at the given remote-clock
// timestamp from the buffered samples. Outside the buffered range it falls
// back to the most recent sample - remote motion is never extrapolated
// beyond what the peer actually reported. The second return value is false
// only when no remote state has ever been received.
func (s *Synchronizer) InterpolatedState(now uint32) (wire.GameState, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()

	if len(s.buffer) == 0 {
		if s.hasReceived {
			return s.lastReceived, true
		}
		return wire.GameState{}, false
	}

	for i := 0; i+1 < len(s.buffer); i++ {
		prev, next := s.buffer[i], s.buffer[i+1]
		if prev.Timestamp <= now && now <= next.Timestamp {
			return interpolate(prev, next, now), true
		}
	}

	return s.buffer[len(s.buffer)-1], true
}

// LastReceivedState returns the newest raw remote sample, useful for
// seeding an avatar before enough samples exist to interpolate.
func (s *Synchronizer) LastReceivedState() (wire.GameState, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()

	return s.lastReceived, s.hasReceived
}

func (s *Synchronizer) BufferLen() int {
	s.mut.Lock()
	defer s.mut.Unlock()

	return len(s.buffer)
}

// Reset drops every piece of session-scoped state: the interpolation
// buffer, the rate-limiter clock, and the last-sent/last-received caches.
// Called on disconnect so nothing stale leaks into a later session.
func (s *Synchronizer) Reset() {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.buffer = s.buffer[:0]
	s.hasSent = false
	s.lastSentAtMs = 0
	s.lastSent = wire.GameState{}
	s.hasReceived = false
	s.lastReceived = wire.GameState{}

	s.log.Debug("Synchronizer state reset")
}

func interpolate(prev, next wire.GameState, now uint32) wire.GameState {
	span := float64(next.Timestamp - prev.Timestamp)
	t := 0.0
	if span > 0 {
		t = float64(now-prev.Timestamp) / span
	}
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	out := wire.GameState{Timestamp: now}
	for i := 0; i < 3; i++ {
		out.Position[i] = lerp(prev.Position[i], next.Position[i], t)
		out.Rotation[i] = lerpAngle(prev.Rotation[i], next.Rotation[i], t)
	}
	out.RideProgress = lerp(prev.RideProgress, next.RideProgress, t)

	// Camera mode is discrete; flip at the halfway point.
	if t < 0.5 {
		out.CameraMode = prev.CameraMode
	} else {
		out.CameraMode = next.CameraMode
	}

	return out
}

func lerp(a, b float32, t float64) float32 {
	return float32(float64(a) + (float64(b)-float64(a))*t)
}

// lerpAngle interpolates along the shortest arc so a sample pair straddling
// the -pi/pi seam does not sweep the avatar the long way around.
func lerpAngle(a, b float32, t float64) float32 {
	delta := math.Mod(float64(b)-float64(a), 2*math.Pi)
	if delta > math.Pi {
		delta -= 2 * math.Pi
	} else if delta < -math.Pi {
		delta += 2 * math.Pi
	}
	return float32(float64(a) + delta*t)
}

func l1Distance(a, b [3]float32) float64 {
	sum := 0.0
	for i := 0; i < 3; i++ {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return sum
}
