package downloader

import (
	"sync"
	"time"
)

// periodic runs fn every interval between start and halt. Both are
// idempotent and it can be started again after a halt.
type periodic struct {
	interval time.Duration
	fn       func()

	mu   sync.Mutex
	stop chan struct{}
}

func newPeriodic(interval time.Duration, fn func()) *periodic {
	return &periodic{interval: interval, fn: fn}
}

func (p *periodic) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	stop := make(chan struct{})
	p.stop = stop
	go p.loop(stop)
}

func (p *periodic) halt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == nil {
		return
	}
	close(p.stop)
	p.stop = nil
}

func (p *periodic) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

func (p *periodic) loop(stop chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.fn()
		}
	}
}
