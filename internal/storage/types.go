package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Store is a flat key-value store. Keys are short ASCII identifiers; values
// are opaque bytes owned by the caller after Get returns.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Put(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "memory" (default when empty)
//   - "file": Path is the snapshot file
//   - "sqlite": Path is the database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
