package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jget/internal/domain"
	"jget/internal/downloader"
	"jget/internal/repository"
	"jget/internal/repository/sqlite"
	"jget/internal/service"
	"jget/internal/storage"
)

type fixture struct {
	root      string
	store     repository.SnapshotStore
	router    *gin.Engine
	registry  downloader.Registry
	snapshots service.SnapshotService
}

func newFixture(t *testing.T, auth service.AuthService, store storage.Service) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "jget.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := sqlite.NewSnapshotRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	snapshots := service.NewSnapshotService(repo)

	root := t.TempDir()
	registry := downloader.NewRegistry(downloader.Config{
		Directory: root,
		Logger:    logger,
	}, snapshots)
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })

	router := gin.New()
	NewHandler(registry, store, auth, logger).RegisterRoutes(router)
	return &fixture{root: root, store: repo, router: router, registry: registry, snapshots: snapshots}
}

func (f *fixture) seed(t *testing.T, ids ...string) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		require.NoError(t, f.snapshots.Save(context.Background(), domain.Snapshot{
			ID:        id,
			URL:       "http://example.invalid/" + id,
			TotalSize: 100,
			FileName:  id + ".bin",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Segments: []domain.SegmentSnapshot{
				{Index: 0, Range: domain.Range{Start: 0, End: 99}, Received: 40},
			},
		}))
	}
	require.NoError(t, f.registry.Load(context.Background()))
}

func (f *fixture) do(method, path, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAPI_Health(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.do(http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_ListAndGet(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seed(t, "first", "second")

	rec := f.do(http.MethodGet, "/api/tasks", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]downloader.Entry](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].ID)
	assert.Equal(t, 1, entries[0].Index)
	assert.Equal(t, 40, entries[0].Percent)

	rec = f.do(http.MethodGet, "/api/tasks/2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "first", decode[downloader.Entry](t, rec).ID)

	rec = f.do(http.MethodGet, "/api/tasks/second", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TaskStateCreated, decode[downloader.Entry](t, rec).State)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/tasks/9", "", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/tasks/missing", "", "").Code)

	rec = f.do(http.MethodGet, "/api/tasks?active=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]downloader.Entry](t, rec))
}

func TestAPI_CreateTask(t *testing.T) {
	content := []byte("0123456789")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(content)))
		if r.Method == http.MethodGet {
			_, _ = w.Write(content)
		}
	}))
	defer origin.Close()
	f := newFixture(t, nil, nil)

	rec := f.do(http.MethodPost, "/api/tasks", `{"url":"`+origin.URL+`/digits.txt"}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	entry := decode[downloader.Entry](t, rec)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, origin.URL+"/digits.txt", entry.URL)

	rec = f.do(http.MethodPost, "/api/tasks", `{"url":"ftp://example.com/x"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodPost, "/api/tasks", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CreateTaskDirectory(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4")
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("data"))
		}
	}))
	defer origin.Close()
	f := newFixture(t, nil, nil)

	rec := f.do(http.MethodPost, "/api/tasks", `{"url":"`+origin.URL+`/a.txt","directory":"isos/new"}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, filepath.Join(f.root, "isos", "new"), decode[downloader.Entry](t, rec).Directory)

	rec = f.do(http.MethodPost, "/api/tasks", `{"url":"`+origin.URL+`/a.txt"}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, f.root, decode[downloader.Entry](t, rec).Directory)

	for _, dir := range []string{"/etc", "../outside", "isos/../../outside"} {
		rec = f.do(http.MethodPost, "/api/tasks", `{"url":"`+origin.URL+`/a.txt","directory":"`+dir+`"}`, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, dir)
		assert.Contains(t, rec.Body.String(), "inside the download directory", dir)
	}
}

func TestAPI_DeleteTask(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seed(t, "keep", "drop")

	rec := f.do(http.MethodDelete, "/api/tasks/drop", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.registry.List(), 1)
	assert.Equal(t, "keep", f.registry.List()[0].ID)

	_, err := f.snapshots.Load(context.Background(), "drop")
	assert.Error(t, err)

	rec = f.do(http.MethodDelete, "/api/tasks", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.registry.List())
}

func TestAPI_DeleteUnreadableRecord(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, f.store.Put(context.Background(), "broken", []byte("{not json")))
	f.seed(t, "ok")
	require.Len(t, f.registry.List(), 1)

	rec := f.do(http.MethodDelete, "/api/tasks/broken", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err := f.store.Get(context.Background(), "broken")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/tasks/never", "", "").Code)
}

func TestAPI_StorageNotConfigured(t *testing.T) {
	f := newFixture(t, nil, nil)
	assert.Equal(t, http.StatusNotImplemented, f.do(http.MethodGet, "/api/storage/objects", "", "").Code)
	assert.Equal(t, http.StatusNotImplemented, f.do(http.MethodDelete, "/api/storage/objects/abc", "", "").Code)
}

type stubStorage struct {
	objects []storage.ObjectInfo
	deleted []string
}

func (s *stubStorage) Publish(context.Context, string, string, func(int64, int64)) (string, error) {
	return "", nil
}

func (s *stubStorage) ListObjects(context.Context, string) ([]storage.ObjectInfo, error) {
	return s.objects, nil
}

func (s *stubStorage) DeletePrefix(_ context.Context, prefix string) error {
	s.deleted = append(s.deleted, prefix)
	return nil
}

func TestAPI_StorageObjects(t *testing.T) {
	modified := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	store := &stubStorage{objects: []storage.ObjectInfo{
		{Key: "jget/a/file.bin", Size: 10, LastModified: &modified},
	}}
	f := newFixture(t, nil, store)

	rec := f.do(http.MethodGet, "/api/storage/objects", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	objects := decode[[]StorageObjectResponse](t, rec)
	require.Len(t, objects, 1)
	assert.Equal(t, "jget/a/file.bin", objects[0].Key)
	require.NotNil(t, objects[0].LastModified)
	assert.Equal(t, "2024-02-03T04:05:06Z", *objects[0].LastModified)

	rec = f.do(http.MethodDelete, "/api/storage/objects/a", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a"}, store.deleted)
}

func TestAPI_Auth(t *testing.T) {
	hash, err := service.HashPassword("long enough")
	require.NoError(t, err)
	auth := service.NewAuthService("secret", hash, time.Hour)
	f := newFixture(t, auth, nil)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/health", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/tasks", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/tasks", "", "forged").Code)

	rec := f.do(http.MethodPost, "/api/login", `{"password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/login", `{"password":"long enough"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode[map[string]string](t, rec)["token"]
	require.NotEmpty(t, token)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/tasks", "", token).Code)
}

func TestAPI_LoginWithoutAuth(t *testing.T) {
	f := newFixture(t, service.NewAuthService("", "", 0), nil)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/login", `{"password":"x"}`, "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/tasks", "", "").Code)
}
