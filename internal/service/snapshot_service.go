package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"jget/internal/domain"
	"jget/internal/repository"
)

const (
	snapshotKindTransfer = "transfer"
	snapshotVersion      = 1
)

// ErrUnknownSnapshot is returned for stored values this build cannot decode.
var ErrUnknownSnapshot = errors.New("unknown snapshot encoding")

// SnapshotService encodes transfer snapshots and keeps them in a SnapshotStore
// keyed by transfer id.
type SnapshotService interface {
	Save(ctx context.Context, snap domain.Snapshot) error
	Load(ctx context.Context, id string) (*domain.Snapshot, error)
	// LoadAll decodes every stored snapshot. Values that fail to decode are
	// passed to skip and left out; with a nil skip the first one aborts.
	LoadAll(ctx context.Context, skip func(key string, err error)) ([]domain.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// envelope makes stored values self-describing.
type envelope struct {
	Kind     string          `json:"kind"`
	Version  int             `json:"version"`
	Snapshot domain.Snapshot `json:"snapshot"`
}

type snapshotService struct {
	store repository.SnapshotStore
}

func NewSnapshotService(store repository.SnapshotStore) SnapshotService {
	return &snapshotService{store: store}
}

func (s *snapshotService) Save(ctx context.Context, snap domain.Snapshot) error {
	if snap.ID == "" {
		return errors.New("snapshot id is required")
	}
	value, err := Encode(snap)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, snap.ID, value)
}

func (s *snapshotService) Load(ctx context.Context, id string) (*domain.Snapshot, error) {
	value, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := Decode(value)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

func (s *snapshotService) LoadAll(ctx context.Context, skip func(key string, err error)) ([]domain.Snapshot, error) {
	var snaps []domain.Snapshot
	err := s.store.Iterate(ctx, func(key string, value []byte) error {
		snap, err := Decode(value)
		if err != nil {
			err = fmt.Errorf("decode snapshot %s: %w", key, err)
			if skip == nil {
				return err
			}
			skip(key, err)
			return nil
		}
		snaps = append(snaps, snap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

func (s *snapshotService) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Encode serializes a snapshot into its stored form.
func Encode(snap domain.Snapshot) ([]byte, error) {
	value, err := json.Marshal(envelope{
		Kind:     snapshotKindTransfer,
		Version:  snapshotVersion,
		Snapshot: snap,
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}
	return value, nil
}

// Decode is the inverse of Encode.
func Decode(value []byte) (domain.Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return domain.Snapshot{}, err
	}
	if env.Kind != snapshotKindTransfer || env.Version != snapshotVersion {
		return domain.Snapshot{}, fmt.Errorf("%w: kind=%q version=%d", ErrUnknownSnapshot, env.Kind, env.Version)
	}
	return env.Snapshot, nil
}
