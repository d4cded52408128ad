package downloader

import (
	"sync"
	"time"
)

// watchdog calls fire(token) when kick has not been called for timeout.
// A callback that lost a race with kick or cancel sees an unexpired
// deadline (or a disarmed watchdog) and does nothing.
type watchdog struct {
	timeout time.Duration
	fire    func(token uint64)

	mu       sync.Mutex
	timer    *time.Timer
	armed    bool
	token    uint64
	deadline time.Time
}

func newWatchdog(timeout time.Duration, fire func(token uint64)) *watchdog {
	return &watchdog{timeout: timeout, fire: fire}
}

func (w *watchdog) kick(token uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed = true
	w.token = token
	w.deadline = time.Now().Add(w.timeout)
	if w.timer == nil {
		w.timer = time.AfterFunc(w.timeout, w.expire)
		return
	}
	w.timer.Reset(w.timeout)
}

func (w *watchdog) cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed = false
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *watchdog) expire() {
	w.mu.Lock()
	if !w.armed || time.Now().Before(w.deadline) {
		w.mu.Unlock()
		return
	}
	w.armed = false
	token := w.token
	w.mu.Unlock()
	w.fire(token)
}
