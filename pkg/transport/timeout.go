package transport

import (
	"sync"
	"time"
)

// connTimeout is the connection-establishment watchdog: armed when
// signaling starts, cancelled on connect or close. Cancellation is
// idempotent and race-free against a connect event landing in the same
// tick, which matters because the expiry callback force-closes the
// transport.
type connTimeout struct {
	mut     sync.Mutex
	timer   *time.Timer
	stopped bool
}

func (t *connTimeout) arm(d time.Duration, onExpire func()) {
	t.mut.Lock()
	defer t.mut.Unlock()

	if t.timer != nil || t.stopped {
		return
	}

	t.timer = time.AfterFunc(d, func() {
		t.mut.Lock()
		expired := !t.stopped
		t.stopped = true
		t.mut.Unlock()

		if expired {
			onExpire()
		}
	})
}

func (t *connTimeout) stop() {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
