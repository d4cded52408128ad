package repository

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("record not found")

// SnapshotStore is the durable key-value store transfers are persisted in.
type SnapshotStore interface {
	Init(ctx context.Context) error
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Iterate visits every stored pair in key order. Returning an error
	// from fn stops the scan and is passed through.
	Iterate(ctx context.Context, fn func(key string, value []byte) error) error
}
