package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"jget/internal/domain"
	"jget/internal/locator"
)

// tracker is told about transfers that start, stop running or hand off to
// a redirect target. The registry implements it.
type tracker interface {
	addTask(t *Transfer) error
	taskFinished(t *Transfer)
	taskFailed(t *Transfer)
	redirected(from *Transfer, loc *locator.Locator) *Transfer
}

// Transfer downloads one resource into one file.
type Transfer struct {
	id        string
	loc       *locator.Locator
	dir       string
	createdAt time.Time
	redirects int

	opts    Options
	client  *http.Client
	tracker tracker
	log     *logrus.Entry

	received atomic.Int64

	mu        sync.Mutex
	state     domain.TaskState
	fileName  string
	target    string
	totalSize int64
	unknown   bool
	segments  []*Segment
	file      *outputFile
	probe     *connection
	closing   bool
	err       error
	done      chan struct{}
	successor *Transfer
}

func newTransfer(id string, loc *locator.Locator, dir string, createdAt time.Time,
	opts Options, client *http.Client, tr tracker, logger *logrus.Logger) *Transfer {
	if id == "" {
		id = uuid.NewString()
	}
	return &Transfer{
		id:        id,
		loc:       loc,
		dir:       dir,
		createdAt: createdAt,
		opts:      opts,
		client:    client,
		tracker:   tr,
		log:       logger.WithField("task_id", id),
		state:     domain.TaskStateCreated,
		done:      make(chan struct{}),
	}
}

func (t *Transfer) ID() string           { return t.id }
func (t *Transfer) URL() string          { return t.loc.String() }
func (t *Transfer) Directory() string    { return t.dir }
func (t *Transfer) CreatedAt() time.Time { return t.createdAt }
func (t *Transfer) Received() int64      { return t.received.Load() }

func (t *Transfer) State() domain.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transfer) FileName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fileName
}

// Err is the failure cause of a failed transfer.
func (t *Transfer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// TotalSize is the resource size, or domain.UnknownSize.
func (t *Transfer) TotalSize() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unknown {
		return domain.UnknownSize
	}
	return t.totalSize
}

// Percent is the completed share in whole percent, or -1 for unknown size.
func (t *Transfer) Percent() int {
	total := t.TotalSize()
	if total == domain.UnknownSize {
		if t.State() == domain.TaskStateFinished {
			return 100
		}
		return -1
	}
	return int(t.Received() * 100 / total)
}

// Path is where the finished file was stored; empty until finished.
func (t *Transfer) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

// Successor is the transfer that replaced this one after a redirect.
func (t *Transfer) Successor() *Transfer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.successor
}

func (t *Transfer) Segments() []*Segment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Segment(nil), t.segments...)
}

func (t *Transfer) Snapshot() domain.Snapshot {
	t.mu.Lock()
	snap := domain.Snapshot{
		ID:        t.id,
		URL:       t.loc.String(),
		TotalSize: t.totalSize,
		Directory: t.dir,
		FileName:  t.fileName,
		CreatedAt: t.createdAt,
	}
	if t.unknown {
		snap.TotalSize = domain.UnknownSize
	}
	segments := append([]*Segment(nil), t.segments...)
	t.mu.Unlock()

	snap.Segments = make([]domain.SegmentSnapshot, 0, len(segments))
	for _, s := range segments {
		snap.Segments = append(snap.Segments, s.Snapshot())
	}
	return snap
}

// Wait blocks until the transfer, or the transfer it was redirected to,
// finishes or fails.
func (t *Transfer) Wait(ctx context.Context) error {
	cur := t
	for {
		cur.mu.Lock()
		done := cur.done
		cur.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}

		cur.mu.Lock()
		state, err, next := cur.state, cur.err, cur.successor
		cur.mu.Unlock()
		switch state {
		case domain.TaskStateFinished:
			return nil
		case domain.TaskStateFailed:
			return err
		case domain.TaskStateDiscarded:
			if next == nil {
				return fmt.Errorf("%w: discarded without successor", ErrInvalidState)
			}
			cur = next
		}
	}
}

// Stop ends a running transfer. It stays resumable.
func (t *Transfer) Stop() {
	t.mu.Lock()
	running := t.state == domain.TaskStateActive || t.probe != nil
	t.mu.Unlock()
	if running {
		t.fail(ErrStopped)
	}
}

func (t *Transfer) tempPath() string {
	return filepath.Join(t.dir, t.id+".jget")
}

func (t *Transfer) reportRead(n int64) {
	t.received.Add(n)
}

func (t *Transfer) addSegment(index int, rng domain.Range, received int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != domain.TaskStateCreated {
		return fmt.Errorf("%w: transfer is %s", ErrSegmentAfterCreated, t.state)
	}
	t.segments = append(t.segments, newSegment(t, index, rng, received))
	if rng.Known() {
		t.totalSize += rng.Size()
	} else {
		t.unknown = true
	}
	t.received.Add(received)
	return nil
}

// discover sends the probe request of a fresh transfer.
func (t *Transfer) discover() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != domain.TaskStateCreated || len(t.segments) > 0 || t.probe != nil {
		return
	}
	p := &probeExchange{t: t, method: t.opts.ProbeMethod}
	p.conn = newConnection(t.client, p)
	t.probe = p.conn
	t.log.WithField("url", t.loc.String()).Debug("probing")
	p.conn.start()
}

// resume restarts a recovered or failed transfer from its recorded
// progress. A transfer that never got past discovery probes again.
func (t *Transfer) resume() error {
	t.mu.Lock()
	switch {
	case t.state == domain.TaskStateActive:
		t.mu.Unlock()
		return nil
	case t.state == domain.TaskStateCreated && len(t.segments) == 0:
		t.mu.Unlock()
		t.discover()
		return nil
	case t.state == domain.TaskStateCreated, t.state == domain.TaskStateFailed:
		if t.state == domain.TaskStateFailed {
			t.done = make(chan struct{})
		}
		t.state = domain.TaskStateReady
		t.err = nil
		t.mu.Unlock()
		_, err := t.activate(nil)
		return err
	default:
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: cannot resume %s transfer", ErrInvalidState, state)
	}
}

func (t *Transfer) ready(adopt *connection) (exchange, error) {
	name, err := t.loc.FileName()
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	if t.state != domain.TaskStateCreated {
		state := t.state
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: ready from %s", ErrInvalidState, state)
	}
	t.fileName = name
	t.state = domain.TaskStateReady
	t.mu.Unlock()
	return t.activate(adopt)
}

// activate opens the output file, registers with the tracker and starts
// every unfinished segment. With adopt set, the first segment continues on
// that connection and the returned exchange drives it.
func (t *Transfer) activate(adopt *connection) (exchange, error) {
	t.mu.Lock()
	if t.state != domain.TaskStateReady {
		state := t.state
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: activate from %s", ErrInvalidState, state)
	}
	file, err := openOutputFile(t.tempPath())
	if err != nil {
		t.mu.Unlock()
		t.fail(err)
		return nil, err
	}
	t.file = file
	t.state = domain.TaskStateActive
	probe := t.probe
	t.probe = nil
	segments := append([]*Segment(nil), t.segments...)
	t.mu.Unlock()

	if probe != nil && probe != adopt {
		probe.close()
	}
	if err := t.tracker.addTask(t); err != nil {
		t.fail(fmt.Errorf("register transfer: %w", err))
		return nil, err
	}
	t.log.WithFields(logrus.Fields{
		"file":     t.FileName(),
		"segments": len(segments),
		"size":     t.TotalSize(),
	}).Info("transfer active")

	var next exchange
	for i, s := range segments {
		if i == 0 && adopt != nil {
			if gen, ok := s.adopt(file, adopt); ok {
				next = &fetchExchange{s: s, gen: gen}
			}
			continue
		}
		s.start(file)
	}
	t.checkComplete()
	return next, nil
}

func (t *Transfer) segmentFinished(*Segment) {
	t.checkComplete()
}

func (t *Transfer) segmentFailed(s *Segment, err error) {
	t.fail(fmt.Errorf("segment %d: %w", s.index, err))
}

// checkComplete finalizes the transfer once every segment is finished.
func (t *Transfer) checkComplete() {
	t.mu.Lock()
	if t.state != domain.TaskStateActive || t.closing {
		t.mu.Unlock()
		return
	}
	for _, s := range t.segments {
		if s.State() != domain.SegmentStateFinished {
			t.mu.Unlock()
			return
		}
	}
	t.closing = true
	file := t.file
	t.file = nil
	t.mu.Unlock()

	target, err := t.finalize(file)
	if err != nil {
		t.mu.Lock()
		t.closing = false
		t.mu.Unlock()
		t.fail(fmt.Errorf("finalize: %w", err))
		return
	}

	t.mu.Lock()
	t.target = target
	t.state = domain.TaskStateFinished
	t.closing = false
	done := t.done
	t.mu.Unlock()

	t.log.WithField("path", target).Infof("transfer finished, %s", formatBytes(t.Received()))
	t.tracker.taskFinished(t)
	close(done)
}

func (t *Transfer) finalize(file *outputFile) (string, error) {
	if file != nil {
		if err := file.Close(); err != nil {
			return "", err
		}
	}
	target := uniquePath(filepath.Join(t.dir, t.FileName()))
	if err := os.Rename(t.tempPath(), target); err != nil {
		return "", fmt.Errorf("rename output file: %w", err)
	}
	return target, nil
}

func (t *Transfer) redirect(location string) error {
	if t.redirects >= t.opts.MaxRedirects {
		return fmt.Errorf("%w: %d", ErrTooManyRedirects, t.redirects)
	}
	next, err := t.loc.Resolve(location)
	if err != nil {
		return fmt.Errorf("redirect target: %w", err)
	}

	t.mu.Lock()
	if t.state != domain.TaskStateCreated {
		t.mu.Unlock()
		return nil
	}
	successor := t.tracker.redirected(t, next)
	t.state = domain.TaskStateDiscarded
	t.successor = successor
	t.probe = nil
	done := t.done
	t.mu.Unlock()

	t.log.WithField("location", next.String()).Info("redirected")
	close(done)
	successor.discover()
	return nil
}

// fail stops all work of the transfer and records err. A transfer that was
// active stays known to the tracker so it can be resumed later.
func (t *Transfer) fail(err error) {
	t.mu.Lock()
	if t.state.Terminal() || t.closing {
		t.mu.Unlock()
		return
	}
	wasActive := t.state == domain.TaskStateActive
	t.state = domain.TaskStateFailed
	t.err = err
	probe, file := t.probe, t.file
	t.probe, t.file = nil, nil
	segments := append([]*Segment(nil), t.segments...)
	done := t.done
	t.mu.Unlock()

	if probe != nil {
		probe.close()
	}
	for _, s := range segments {
		s.stop()
	}
	if file != nil {
		if cerr := file.Close(); cerr != nil {
			t.log.WithError(cerr).Warn("close output file")
		}
	}

	entry := t.log.WithError(err)
	if errors.Is(err, ErrStopped) {
		entry.Info("transfer stopped")
	} else {
		entry.Error("transfer failed")
	}
	if wasActive {
		t.tracker.taskFailed(t)
	}
	close(done)
}

// removeArtifacts deletes the partial file of an unfinished transfer.
func (t *Transfer) removeArtifacts() error {
	if t.State() == domain.TaskStateFinished {
		return nil
	}
	if err := os.Remove(t.tempPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove partial file: %w", err)
	}
	return nil
}
