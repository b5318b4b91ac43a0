// Package backend defines the storage contract shared by the primary and
// fallback stores, and the Adapter that fails over between them.
package backend

import (
	"context"

	"github.com/lewisedginton/chat_memory/internal/model"
)

// Store is implemented by every storage driver. Implementations must be
// safe for concurrent use and must honour ctx deadlines.
//
// Get, Update, Delete, GetCache and DeleteCache return an error wrapping
// model.ErrNotFound for missing keys. Drivers wrap connection level
// failures in model.ErrBackendUnavailable so the Adapter can tell them
// apart from query errors.
type Store interface {
	// Put inserts rec, assigns its ID and returns it.
	Put(ctx context.Context, rec *model.MemoryRecord) (string, error)
	Get(ctx context.Context, id string) (*model.MemoryRecord, error)
	// Update applies patch atomically and returns the record as stored afterwards.
	Update(ctx context.Context, id string, patch model.Patch) (*model.MemoryRecord, error)
	Delete(ctx context.Context, id string) error
	// List returns matching records ordered by ID ascending.
	List(ctx context.Context, filter model.Filter) ([]model.MemoryRecord, error)
	Count(ctx context.Context, filter model.Filter) (int, error)

	// PutCache inserts or replaces the entry stored under entry.Key.
	PutCache(ctx context.Context, entry model.CacheEntry) error
	// GetCache returns the stored entry even if it has expired; callers decide.
	GetCache(ctx context.Context, key string) (*model.CacheEntry, error)
	DeleteCache(ctx context.Context, key string) error
	ListCache(ctx context.Context) ([]model.CacheEntry, error)

	Ping(ctx context.Context) error
	Close() error
	// Name identifies the driver in logs and stats, e.g. "postgres".
	Name() string
}

// Opener connects to a store and initializes its schema.
type Opener func(ctx context.Context) (Store, error)
