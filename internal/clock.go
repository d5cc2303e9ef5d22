package internal

import "time"

// SessionClock provides the two time domains the netcode needs: a wrapping
// u32 wall-clock millisecond counter for wire timestamps, and a
// high-resolution monotonic float for round-trip latency math. Both are
// measured from clock creation, so values are session-scoped and small.
type SessionClock struct {
	start time.Time
}

func CreateSessionClock() *SessionClock {
	return &SessionClock{start: time.Now()}
}

// WallMillis wraps at ~49.7 days, which is fine for a session-scoped clock.
func (c *SessionClock) WallMillis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

func (c *SessionClock) HighResMillis() float64 {
	return float64(time.Since(c.start).Nanoseconds()) / 1e6
}
