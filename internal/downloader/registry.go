package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"jget/internal/domain"
	"jget/internal/locator"
	"jget/internal/service"
)

// Registry owns every known transfer: it starts, resumes and deletes them,
// keeps their snapshots current and reports progress of running ones.
type Registry interface {
	// Load rebuilds transfers from stored snapshots. They stay idle until
	// resumed.
	Load(ctx context.Context) error
	Download(rawURL, dir string) (*Transfer, error)
	// Directory is where downloads go when no directory is given.
	Directory() string
	Get(id string) (*Transfer, bool)
	// Lookup resolves a list index ("3") or a transfer id.
	Lookup(ref string) (*Transfer, error)
	// List returns all transfers newest first with 1-based indexes.
	List() []Entry
	Active() []Entry
	Resume(index int) (*Transfer, error)
	ResumeID(id string) (*Transfer, error)
	ResumeAll() ([]*Transfer, error)
	Delete(ctx context.Context, index int) error
	DeleteID(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	// Shutdown stops running transfers, leaving them resumable, and waits
	// for pending uploads.
	Shutdown(ctx context.Context) error
}

// Publisher copies a finished file somewhere else, returning its location.
type Publisher interface {
	Publish(ctx context.Context, localPath, key string, progress func(done, total int64)) (string, error)
}

type Config struct {
	Directory        string
	Transfer         Options
	SnapshotInterval time.Duration
	ProgressInterval time.Duration
	Publisher        Publisher
	Logger           *logrus.Logger
}

// Entry is a listing row.
type Entry struct {
	Index     int              `json:"index"`
	ID        string           `json:"id"`
	URL       string           `json:"url"`
	FileName  string           `json:"file_name"`
	Directory string           `json:"directory"`
	State     domain.TaskState `json:"state"`
	Percent   int              `json:"percent"`
	Received  int64            `json:"received"`
	Total     int64            `json:"total"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

const storeTimeout = 10 * time.Second

type registry struct {
	cfg       Config
	snapshots service.SnapshotService
	client    *http.Client

	snapshotTicker *periodic
	progressTicker *periodic

	// persistMu orders snapshot writes against deletes, so a removed
	// transfer is never written back.
	persistMu sync.Mutex

	mu     sync.Mutex
	tasks  map[string]*Transfer
	active map[string]*Transfer
	// unreadable holds ids of stored snapshots Load could not rebuild. They
	// are only reachable by DeleteID and DeleteAll.
	unreadable map[string]struct{}

	uploads sync.WaitGroup
}

func NewRegistry(cfg Config, snapshots service.SnapshotService) Registry {
	if cfg.Directory == "" {
		cfg.Directory = "."
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 2 * time.Second
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	cfg.Transfer = cfg.Transfer.withDefaults()

	r := &registry{
		cfg:        cfg,
		snapshots:  snapshots,
		client:     newHTTPClient(cfg.Transfer),
		tasks:      make(map[string]*Transfer),
		active:     make(map[string]*Transfer),
		unreadable: make(map[string]struct{}),
	}
	r.snapshotTicker = newPeriodic(cfg.SnapshotInterval, r.persistAll)
	r.progressTicker = newPeriodic(cfg.ProgressInterval, r.reportProgress)
	return r
}

func (r *registry) newTransfer(id string, loc *locator.Locator, dir string, createdAt time.Time) *Transfer {
	return newTransfer(id, loc, dir, createdAt, r.cfg.Transfer, r.client, r, r.cfg.Logger)
}

func (r *registry) Load(ctx context.Context) error {
	snaps, err := r.snapshots.LoadAll(ctx, r.skipSnapshot)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	for _, snap := range snaps {
		t, err := r.recover(snap)
		if err != nil {
			r.skipSnapshot(snap.ID, err)
			continue
		}
		r.mu.Lock()
		if _, exists := r.tasks[t.id]; exists {
			r.mu.Unlock()
			return fmt.Errorf("duplicate transfer %s", t.id)
		}
		r.tasks[t.id] = t
		r.mu.Unlock()
	}
	r.cfg.Logger.Debugf("loaded %d transfers", len(snaps))
	return nil
}

func (r *registry) skipSnapshot(id string, err error) {
	r.cfg.Logger.WithField("task_id", id).Warnf("skip snapshot: %v", err)
	r.mu.Lock()
	r.unreadable[id] = struct{}{}
	r.mu.Unlock()
}

// dropUnreadable deletes the stored records Load skipped; with ids empty it
// drops all of them.
func (r *registry) dropUnreadable(ctx context.Context, ids ...string) error {
	r.mu.Lock()
	if len(ids) == 0 {
		for id := range r.unreadable {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := r.snapshots.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete snapshot %s: %w", id, err))
			continue
		}
		r.mu.Lock()
		delete(r.unreadable, id)
		r.mu.Unlock()
		r.cfg.Logger.WithField("task_id", id).Info("unreadable snapshot deleted")
	}
	return errors.Join(errs...)
}

// recover rebuilds a transfer in created state with its recorded segments.
func (r *registry) recover(snap domain.Snapshot) (*Transfer, error) {
	loc, err := locator.Parse(snap.URL)
	if err != nil {
		return nil, err
	}
	t := r.newTransfer(snap.ID, loc, snap.Directory, snap.CreatedAt)
	t.fileName = snap.FileName
	for _, seg := range snap.Segments {
		if err := t.addSegment(seg.Index, seg.Range, seg.Received); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (r *registry) Download(rawURL, dir string) (*Transfer, error) {
	loc, err := locator.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = r.cfg.Directory
	}
	t := r.newTransfer("", loc, dir, time.Now())
	t.discover()
	return t, nil
}

func (r *registry) Directory() string { return r.cfg.Directory }

func (r *registry) Get(id string) (*Transfer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// sorted returns known transfers newest first; ties break on id.
func (r *registry) sorted(from map[string]*Transfer) []*Transfer {
	r.mu.Lock()
	out := make([]*Transfer, 0, len(from))
	for _, t := range from {
		out = append(out, t)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].createdAt.After(out[j].createdAt)
		}
		return out[i].id < out[j].id
	})
	return out
}

func (r *registry) Lookup(ref string) (*Transfer, error) {
	ref = strings.TrimSpace(ref)
	if index, err := strconv.Atoi(ref); err == nil {
		return r.byIndex(index)
	}
	return r.byID(ref)
}

// Entry describes t outside of any listing; Index is zero.
func (t *Transfer) Entry() Entry {
	return entryOf(0, t)
}

func entryOf(index int, t *Transfer) Entry {
	e := Entry{
		Index:     index,
		ID:        t.id,
		URL:       t.URL(),
		FileName:  t.FileName(),
		Directory: t.dir,
		State:     t.State(),
		Percent:   t.Percent(),
		Received:  t.Received(),
		Total:     t.TotalSize(),
		CreatedAt: t.createdAt,
	}
	if err := t.Err(); err != nil {
		e.Error = err.Error()
	}
	return e
}

func (r *registry) List() []Entry {
	tasks := r.sorted(r.tasks)
	entries := make([]Entry, 0, len(tasks))
	for i, t := range tasks {
		entries = append(entries, entryOf(i+1, t))
	}
	return entries
}

func (r *registry) Active() []Entry {
	tasks := r.sorted(r.active)
	entries := make([]Entry, 0, len(tasks))
	for i, t := range tasks {
		entries = append(entries, entryOf(i+1, t))
	}
	return entries
}

func (r *registry) byIndex(index int) (*Transfer, error) {
	tasks := r.sorted(r.tasks)
	if index < 1 || index > len(tasks) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(tasks))
	}
	return tasks[index-1], nil
}

func (r *registry) byID(id string) (*Transfer, error) {
	t, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, nil
}

func (r *registry) Resume(index int) (*Transfer, error) {
	t, err := r.byIndex(index)
	if err != nil {
		return nil, err
	}
	return t, t.resume()
}

func (r *registry) ResumeID(id string) (*Transfer, error) {
	t, err := r.byID(id)
	if err != nil {
		return nil, err
	}
	return t, t.resume()
}

// ResumeAll resumes every transfer that is neither running nor finished.
func (r *registry) ResumeAll() ([]*Transfer, error) {
	var (
		resumed []*Transfer
		errs    []error
	)
	for _, t := range r.sorted(r.tasks) {
		switch t.State() {
		case domain.TaskStateCreated, domain.TaskStateFailed:
		default:
			continue
		}
		if err := t.resume(); err != nil {
			errs = append(errs, fmt.Errorf("resume %s: %w", t.id, err))
			continue
		}
		resumed = append(resumed, t)
	}
	return resumed, errors.Join(errs...)
}

func (r *registry) Delete(ctx context.Context, index int) error {
	t, err := r.byIndex(index)
	if err != nil {
		return err
	}
	return r.remove(ctx, t)
}

func (r *registry) DeleteID(ctx context.Context, id string) error {
	r.mu.Lock()
	_, unreadable := r.unreadable[id]
	r.mu.Unlock()
	if unreadable {
		return r.dropUnreadable(ctx, id)
	}
	t, err := r.byID(id)
	if err != nil {
		return err
	}
	return r.remove(ctx, t)
}

func (r *registry) DeleteAll(ctx context.Context) error {
	var errs []error
	for _, t := range r.sorted(r.tasks) {
		if err := r.remove(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.dropUnreadable(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// remove forgets t, deletes its snapshot, stops it and drops its partial
// file.
func (r *registry) remove(ctx context.Context, t *Transfer) error {
	r.persistMu.Lock()
	r.mu.Lock()
	delete(r.tasks, t.id)
	r.mu.Unlock()
	err := r.snapshots.Delete(ctx, t.id)
	r.persistMu.Unlock()

	r.removeActive(t.id)
	t.Stop()
	if rerr := t.removeArtifacts(); rerr != nil {
		err = errors.Join(err, rerr)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.id, err)
	}
	r.cfg.Logger.WithField("task_id", t.id).Info("transfer deleted")
	return nil
}

func (r *registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	running := make([]*Transfer, 0, len(r.active))
	for _, t := range r.active {
		running = append(running, t)
	}
	r.mu.Unlock()

	for _, t := range running {
		t.Stop()
	}
	r.snapshotTicker.halt()
	r.progressTicker.halt()

	done := make(chan struct{})
	go func() {
		r.uploads.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cfg.Logger.Info("registry stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for uploads: %w", ctx.Err())
	}
}

func (r *registry) addTask(t *Transfer) error {
	r.mu.Lock()
	_, known := r.tasks[t.id]
	r.tasks[t.id] = t
	r.active[t.id] = t
	r.mu.Unlock()

	if err := r.persist(t); err != nil {
		r.mu.Lock()
		delete(r.active, t.id)
		if !known {
			delete(r.tasks, t.id)
		}
		r.mu.Unlock()
		return err
	}
	r.snapshotTicker.start()
	r.progressTicker.start()
	return nil
}

func (r *registry) removeActive(id string) {
	r.mu.Lock()
	delete(r.active, id)
	idle := len(r.active) == 0
	r.mu.Unlock()
	if idle {
		r.snapshotTicker.halt()
		r.progressTicker.halt()
	}
}

func (r *registry) taskFailed(t *Transfer) {
	if err := r.persist(t); err != nil {
		r.cfg.Logger.WithField("task_id", t.id).Errorf("persist snapshot: %v", err)
	}
	r.removeActive(t.id)
}

func (r *registry) taskFinished(t *Transfer) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	r.persistMu.Lock()
	r.mu.Lock()
	delete(r.tasks, t.id)
	r.mu.Unlock()
	err := r.snapshots.Delete(ctx, t.id)
	r.persistMu.Unlock()
	if err != nil {
		r.cfg.Logger.WithField("task_id", t.id).Errorf("delete snapshot: %v", err)
	}
	r.removeActive(t.id)

	if r.cfg.Publisher != nil {
		r.uploads.Add(1)
		go func() {
			defer r.uploads.Done()
			r.publish(t)
		}()
	}
}

func (r *registry) redirected(from *Transfer, loc *locator.Locator) *Transfer {
	next := r.newTransfer("", loc, from.dir, time.Now())
	next.redirects = from.redirects + 1
	return next
}

// persist writes t's snapshot unless t has been removed.
func (r *registry) persist(t *Transfer) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	r.mu.Lock()
	_, known := r.tasks[t.id]
	r.mu.Unlock()
	if !known {
		return nil
	}
	return r.snapshots.Save(ctx, t.Snapshot())
}

func (r *registry) persistAll() {
	for _, t := range r.sorted(r.tasks) {
		if err := r.persist(t); err != nil {
			r.cfg.Logger.WithField("task_id", t.id).Errorf("persist snapshot: %v", err)
		}
	}
}

func (r *registry) reportProgress() {
	logProgress(r.cfg.Logger, r.Active())
}

func (r *registry) publish(t *Transfer) {
	logger := r.cfg.Logger.WithField("task_id", t.id)
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	key := path.Join(t.id, t.FileName())
	logger.Infof("upload started from %s", t.Path())
	dest, err := r.cfg.Publisher.Publish(ctx, t.Path(), key, newUploadProgressLogger(logger))
	if err != nil {
		logger.Errorf("upload: %v", err)
		return
	}
	logger.Infof("uploaded to %s", dest)
}
