package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jget/internal/domain"
	"jget/internal/repository"
	"jget/internal/repository/sqlite"
)

func newTestService(t *testing.T) (SnapshotService, repository.SnapshotStore) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "jget.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := sqlite.NewSnapshotRepository(db)
	require.NoError(t, store.Init(context.Background()))
	return NewSnapshotService(store), store
}

func sampleSnapshot(id string) domain.Snapshot {
	return domain.Snapshot{
		ID:        id,
		URL:       "https://example.com/file.iso?filename=x.iso",
		TotalSize: 1000,
		Directory: "/tmp/downloads",
		FileName:  "x.iso",
		CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Segments: []domain.SegmentSnapshot{
			{Index: 0, Range: domain.Range{Start: 0, End: 499}, Received: 500},
			{Index: 1, Range: domain.Range{Start: 500, End: 999}, Received: 123},
		},
	}
}

func TestSnapshotSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	want := sampleSnapshot("task-1")
	require.NoError(t, svc.Save(ctx, want))

	got, err := svc.Load(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.URL, got.URL)
	assert.Equal(t, want.TotalSize, got.TotalSize)
	assert.Equal(t, want.Directory, got.Directory)
	assert.Equal(t, want.FileName, got.FileName)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.Segments, got.Segments)
}

func TestSnapshotUnknownSizeSegmentSurvives(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	snap := sampleSnapshot("task-u")
	snap.TotalSize = domain.UnknownSize
	snap.Segments = []domain.SegmentSnapshot{{Index: 0, Range: domain.UnboundedRange(), Received: 42}}
	require.NoError(t, svc.Save(ctx, snap))

	got, err := svc.Load(ctx, "task-u")
	require.NoError(t, err)
	require.Len(t, got.Segments, 1)
	assert.False(t, got.Segments[0].Range.Known())
	assert.Equal(t, int64(42), got.Segments[0].Received)
}

func TestSnapshotLoadAllAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	require.NoError(t, svc.Save(ctx, sampleSnapshot("a")))
	require.NoError(t, svc.Save(ctx, sampleSnapshot("b")))
	require.NoError(t, svc.Delete(ctx, "a"))

	all, err := svc.LoadAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)

	_, err = svc.Load(ctx, "a")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSnapshotRejectsForeignValues(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	require.NoError(t, store.Put(ctx, "junk", []byte(`{"kind":"other","version":1}`)))
	_, err := svc.Load(ctx, "junk")
	assert.ErrorIs(t, err, ErrUnknownSnapshot)

	_, err = svc.LoadAll(ctx, nil)
	assert.Error(t, err)
}

func TestSnapshotLoadAllSkipsUndecodableValues(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	require.NoError(t, svc.Save(ctx, sampleSnapshot("good")))
	require.NoError(t, store.Put(ctx, "bad", []byte("{not json")))
	require.NoError(t, store.Put(ctx, "foreign", []byte(`{"kind":"other","version":1}`)))

	skipped := map[string]error{}
	all, err := svc.LoadAll(ctx, func(key string, err error) {
		skipped[key] = err
	})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "good", all[0].ID)

	require.Len(t, skipped, 2)
	assert.ErrorContains(t, skipped["bad"], "decode snapshot bad")
	assert.ErrorIs(t, skipped["foreign"], ErrUnknownSnapshot)
}

func TestSnapshotSaveRequiresID(t *testing.T) {
	svc, _ := newTestService(t)
	assert.Error(t, svc.Save(context.Background(), domain.Snapshot{}))
}
