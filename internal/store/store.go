// Package store persists cached resources, the pending sync queue and the
// user's history. SQLite backs the service; Memory backs tests and
// CACHE_PATH=":memory:".
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
)

// ErrNotFound is returned when a key or item is not present.
var ErrNotFound = errors.New("not found")

// Entry is one cached resource. Value is opaque to the store.
type Entry struct {
	Key         string
	Value       []byte
	ContentType string
	StoredAt    time.Time
}

// Store is the key-value cache for fetched resources.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// Queue holds writes made while offline until they are replayed.
type Queue interface {
	Enqueue(ctx context.Context, item domain.PendingSyncItem) error
	// Pending returns up to limit items, oldest first. limit <= 0 means all.
	Pending(ctx context.Context, limit int) ([]domain.PendingSyncItem, error)
	Remove(ctx context.Context, id string) error
	MarkAttempt(ctx context.Context, id string) error
	PendingCount(ctx context.Context) (int, error)
}

// History is the bounded list of saved user actions.
type History interface {
	Append(ctx context.Context, e domain.HistoryEntry) error
	// List returns up to limit entries, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
	ClearHistory(ctx context.Context) error
}

// Backend is everything the service needs from persistence.
type Backend interface {
	Store
	Queue
	History
	Close() error
}

// Defaults applied by Options.withDefaults.
const (
	DefaultMaxEntries   = 5000
	DefaultHistoryLimit = 50
)

// Options tunes eviction and history retention.
type Options struct {
	// MaxEntries bounds the resource table; the least recently accessed
	// entries are evicted first.
	MaxEntries int
	// TTL makes entries older than it read as misses. Zero keeps entries
	// until they are evicted.
	TTL time.Duration
	// HistoryLimit caps the history list.
	HistoryLimit int
	Clock        clockwork.Clock
	// Evictions counts evicted and expired entries. May be nil.
	Evictions prometheus.Counter
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

func (o Options) expired(storedAt time.Time) bool {
	return o.TTL > 0 && o.Clock.Since(storedAt) > o.TTL
}

func (o Options) evicted(n int) {
	if o.Evictions != nil && n > 0 {
		o.Evictions.Add(float64(n))
	}
}

// Open returns the backend for path: an in-memory store for ":memory:",
// SQLite otherwise.
func Open(path string, opts Options) (Backend, error) {
	if path == MemoryPath {
		return NewMemory(opts), nil
	}
	return OpenSQLite(path, opts)
}
