package downloader

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"jget/internal/domain"
)

// Segment is one byte range of a transfer, fetched by at most one
// connection at a time. Every attempt carries a generation; callbacks from
// an attempt whose generation is no longer current are dropped.
type Segment struct {
	index    int
	rng      domain.Range
	transfer *Transfer
	idle     *watchdog
	log      *logrus.Entry

	received atomic.Int64

	// writeMu orders writes against the start of a new attempt, so a new
	// attempt always resumes from the final received count.
	writeMu sync.Mutex

	mu       sync.Mutex
	state    domain.SegmentState
	file     *outputFile
	conn     *connection
	retry    *time.Timer
	gen      uint64
	failures int
	retries  int
	stopped  bool
}

func newSegment(t *Transfer, index int, rng domain.Range, received int64) *Segment {
	s := &Segment{
		index:    index,
		rng:      rng,
		transfer: t,
		state:    domain.SegmentStatePending,
		log:      t.log.WithField("segment", index),
	}
	s.received.Store(received)
	if rng.Known() && received >= rng.Size() {
		s.state = domain.SegmentStateFinished
	}
	s.idle = newWatchdog(t.opts.IdleTimeout, func(gen uint64) {
		s.fail(gen, ErrStalled)
	})
	return s
}

func (s *Segment) Index() int          { return s.index }
func (s *Segment) Range() domain.Range { return s.rng }
func (s *Segment) Received() int64     { return s.received.Load() }

func (s *Segment) State() domain.SegmentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Retries counts reconnects in the current run.
func (s *Segment) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

func (s *Segment) Snapshot() domain.SegmentSnapshot {
	return domain.SegmentSnapshot{
		Index:    s.index,
		Range:    s.rng,
		Received: s.received.Load(),
	}
}

// begin marks the segment active for a new run writing into file and
// returns the generation of its first attempt. Finished segments report
// ok=false.
func (s *Segment) begin(file *outputFile) (gen uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.SegmentStateFinished {
		return 0, false
	}
	s.file = file
	s.stopped = false
	s.failures = 0
	s.retries = 0
	s.state = domain.SegmentStateActive
	s.gen++
	return s.gen, true
}

func (s *Segment) start(file *outputFile) {
	if gen, ok := s.begin(file); ok {
		s.launch(gen)
	}
}

// adopt starts a run whose first attempt is an already open connection.
func (s *Segment) adopt(file *outputFile, c *connection) (uint64, bool) {
	gen, ok := s.begin(file)
	if !ok {
		return 0, false
	}
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
	return gen, true
}

func (s *Segment) launch(gen uint64) {
	if s.connect(gen) {
		s.log.Debugf("segment already complete, %d bytes", s.received.Load())
		s.transfer.segmentFinished(s)
	}
}

// connect opens the connection for attempt gen. It reports true instead when
// the range was completed by an attempt that was retired mid-write.
func (s *Segment) connect(gen uint64) (complete bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.gen != gen || s.state != domain.SegmentStateActive {
		return false
	}
	if s.rng.Known() && s.received.Load() >= s.rng.Size() {
		s.gen++
		s.state = domain.SegmentStateFinished
		s.conn = nil
		return true
	}
	if !s.rng.Known() {
		// no range to resume from
		if n := s.received.Swap(0); n > 0 {
			s.transfer.reportRead(-n)
		}
	}
	ex := &fetchExchange{
		s:      s,
		gen:    gen,
		offset: s.rng.Start + s.received.Load(),
		ranged: s.rng.Known(),
	}
	s.conn = newConnection(s.transfer.client, ex)
	s.conn.start()
	return false
}

// receive stores a chunk of attempt gen. It reports whether the attempt
// should keep reading.
func (s *Segment) receive(gen uint64, p []byte, last bool) (bool, error) {
	complete, more, err := s.write(gen, p, last)
	if complete {
		s.finish(gen)
	}
	return more, err
}

func (s *Segment) write(gen uint64, p []byte, last bool) (complete, more bool, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	current := !s.stopped && s.gen == gen && s.state == domain.SegmentStateActive
	file := s.file
	s.mu.Unlock()
	if !current {
		return false, false, nil
	}
	s.idle.cancel()

	if len(p) > 0 {
		if s.rng.Known() {
			if rest := s.rng.Size() - s.received.Load(); int64(len(p)) > rest {
				p = p[:rest]
			}
		}
		n, werr := file.WriteAt(p, s.rng.Start+s.received.Load())
		if n > 0 {
			s.received.Add(int64(n))
			s.transfer.reportRead(int64(n))
		}
		if werr != nil {
			return false, false, fmt.Errorf("write segment %d: %w", s.index, werr)
		}
	}

	if s.rng.Known() && s.received.Load() >= s.rng.Size() {
		return true, false, nil
	}
	if last {
		if s.rng.Known() {
			return false, false, fmt.Errorf("%w: segment %d has %d of %d bytes",
				ErrTruncated, s.index, s.received.Load(), s.rng.Size())
		}
		return true, false, nil
	}
	s.idle.kick(gen)
	return false, true, nil
}

func (s *Segment) finish(gen uint64) {
	s.mu.Lock()
	if s.stopped || s.gen != gen || s.state != domain.SegmentStateActive {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state = domain.SegmentStateFinished
	s.conn = nil
	s.mu.Unlock()

	s.idle.cancel()
	s.log.Debugf("segment finished, %d bytes", s.received.Load())
	s.transfer.segmentFinished(s)
}

// fail handles a failed attempt: it retries while the failure budget
// lasts and escalates to the transfer after that.
func (s *Segment) fail(gen uint64, err error) {
	s.mu.Lock()
	if s.stopped || s.gen != gen || s.state != domain.SegmentStateActive {
		s.mu.Unlock()
		return
	}
	s.gen++
	next := s.gen
	if s.conn != nil {
		s.conn.close()
		s.conn = nil
	}
	s.failures++
	if s.failures < s.transfer.opts.MaxFailures {
		s.retries++
		backoff := time.Duration(s.retries) * s.transfer.opts.RetryBackoff
		s.log.WithError(err).Warnf("attempt failed, retrying in %v (%d/%d)",
			backoff, s.failures, s.transfer.opts.MaxFailures)
		s.retry = time.AfterFunc(backoff, func() { s.launch(next) })
		s.mu.Unlock()
		s.idle.cancel()
		return
	}
	s.state = domain.SegmentStateFailed
	s.mu.Unlock()

	s.idle.cancel()
	s.log.WithError(err).Error("segment failed")
	s.transfer.segmentFailed(s, err)
}

// stop closes the current attempt and cancels any pending retry. It does
// not mark the segment failed.
func (s *Segment) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.gen++
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.conn != nil {
		s.conn.close()
		s.conn = nil
	}
	if s.state == domain.SegmentStateActive {
		s.state = domain.SegmentStatePending
	}
	s.idle.cancel()
}
