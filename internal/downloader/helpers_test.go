package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"jget/internal/domain"
	"jget/internal/repository"
)

type recordedRequest struct {
	Method string
	Path   string
	Range  string
	Start  int64
}

// hookFunc may take over a request; attempt counts requests per range start.
type hookFunc func(w http.ResponseWriter, r *http.Request, start int64, attempt int) bool

// rangeServer serves content with optional byte range support.
type rangeServer struct {
	content []byte
	name    string
	ranges  bool

	mu       sync.Mutex
	hook     hookFunc
	requests []recordedRequest
	attempts map[string]int
}

func newRangeServer(t *testing.T, size int, ranges bool) (*rangeServer, *httptest.Server) {
	t.Helper()
	rs := &rangeServer{
		content:  randomBytes(size),
		name:     "data.bin",
		ranges:   ranges,
		attempts: make(map[string]int),
	}
	srv := httptest.NewServer(rs)
	t.Cleanup(srv.Close)
	return rs, srv
}

func randomBytes(n int) []byte {
	buf := make([]byte, n)
	rnd := rand.New(rand.NewSource(int64(n)))
	_, _ = rnd.Read(buf)
	return buf
}

func (s *rangeServer) setHook(h hookFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

func (s *rangeServer) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func (s *rangeServer) rangesRequested() []string {
	var out []string
	for _, r := range s.recorded() {
		if r.Method == http.MethodGet && r.Range != "" {
			out = append(out, r.Range)
		}
	}
	sort.Strings(out)
	return out
}

func (s *rangeServer) attemptsAt(start int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[http.MethodGet+strconv.FormatInt(start, 10)]
}

func (s *rangeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start, end := int64(0), int64(len(s.content)-1)
	header := r.Header.Get("Range")
	if header != "" {
		if _, err := fmt.Sscanf(header, "bytes=%d-%d", &start, &end); err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Range: header, Start: start})
	key := r.Method + strconv.FormatInt(start, 10)
	s.attempts[key]++
	attempt := s.attempts[key]
	hook := s.hook
	s.mu.Unlock()

	if hook != nil && hook(w, r, start, attempt) {
		return
	}

	if s.ranges {
		w.Header().Set("Accept-Ranges", "bytes")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, s.name))
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.Itoa(len(s.content)))
		w.WriteHeader(http.StatusOK)
		return
	}
	if header != "" && s.ranges {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(s.content)))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(s.content[start : end+1])
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(s.content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.content)
}

// partial sends the first n bytes of a ranged reply, then aborts.
func (s *rangeServer) partial(w http.ResponseWriter, start, end int64, n int) {
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(s.content)))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(s.content[start : start+int64(n)])
	w.(http.Flusher).Flush()
	panic(http.ErrAbortHandler)
}

type memSnapshots struct {
	mu    sync.Mutex
	snaps map[string]domain.Snapshot
	saves int
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{snaps: make(map[string]domain.Snapshot)}
}

func (m *memSnapshots) Save(_ context.Context, snap domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = snap
	m.saves++
	return nil
}

func (m *memSnapshots) Load(_ context.Context, id string) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &snap, nil
}

func (m *memSnapshots) LoadAll(context.Context, func(string, error)) ([]domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Snapshot, 0, len(m.snaps))
	for _, snap := range m.snaps {
		out = append(out, snap)
	}
	return out, nil
}

func (m *memSnapshots) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}

func (m *memSnapshots) get(id string) (domain.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	return snap, ok
}

func (m *memSnapshots) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

func testOptions() Options {
	return Options{
		Connections:  4,
		IdleTimeout:  5 * time.Second,
		RetryBackoff: 10 * time.Millisecond,
	}
}

func newTestRegistry(t *testing.T, opts Options, snaps *memSnapshots) (*registry, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	dir := t.TempDir()
	r := NewRegistry(Config{
		Directory:        dir,
		Transfer:         opts,
		SnapshotInterval: 20 * time.Millisecond,
		ProgressInterval: 20 * time.Millisecond,
		Logger:           logger,
	}, snaps).(*registry)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r, dir
}

func waitTransfer(t *testing.T, tr *Transfer) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return tr.Wait(ctx)
}

func requireFile(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.Equal(want, got), "content mismatch: got %d bytes, want %d", len(got), len(want))
}

func tempFile(dir, id string) string {
	return filepath.Join(dir, id+".jget")
}
