// Package acquire implements fetch-or-cache-or-synthesize for every data kind
// keyed by coordinates: climate, monthly aggregates, indicators, news and
// place names share one code path parametrized by a Source.
package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/observability"
	"github.com/couchcryptid/agrodecision-cache/internal/store"
)

// ErrNoData is returned while offline when nothing is cached for the key.
var ErrNoData = errors.New("no data: offline and nothing cached")

// Origin tells where a returned value came from.
type Origin string

const (
	OriginCache     Origin = "cache"
	OriginNetwork   Origin = "network"
	OriginSynthetic Origin = "synthetic"
)

// Connectivity reports whether upstreams are believed reachable.
type Connectivity interface {
	Online() bool
}

// Source describes one data kind: how to fetch it and how to fake it.
type Source[T any] struct {
	Kind       domain.Kind
	Fetch      func(ctx context.Context, c domain.Coordinates) (T, error)
	Synthesize func(c domain.Coordinates) T
}

// Result is an acquired value with its cache key and origin.
type Result[T any] struct {
	Key    string `json:"key"`
	Origin Origin `json:"origin"`
	Value  T      `json:"data"`
}

// Acquirer holds the shared state of all acquisitions.
type Acquirer struct {
	store   store.Store
	conn    Connectivity
	persist bool
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates an Acquirer. When persist is false, fetched values are not
// written to the store (the app's "offline storage" setting turned off).
func New(st store.Store, conn Connectivity, persist bool, metrics *observability.Metrics, logger *slog.Logger) *Acquirer {
	return &Acquirer{
		store:   st,
		conn:    conn,
		persist: persist,
		metrics: metrics,
		logger:  logger,
	}
}

// Get acquires src's value at c.
//
// Offline, only the cache is consulted and ErrNoData is returned on a miss.
// Online, the network is tried first; a successful value is persisted under
// its ResourceKey. When the fetch fails the cached value is used, and failing
// that a synthetic value, which is never persisted so the next online request
// retries the network. Concurrent calls for the same key share one fetch.
func Get[T any](ctx context.Context, a *Acquirer, src Source[T], c domain.Coordinates) (Result[T], error) {
	if err := c.Validate(); err != nil {
		return Result[T]{}, err
	}
	key := domain.ResourceKey(src.Kind, c)

	do := func() (any, error, bool) {
		return a.group.Do(key, func() (any, error) {
			return acquire(ctx, a, src, c, key)
		})
	}
	v, err, shared := do()
	// A joined call inherits the leader's context; retry once if the leader
	// was cancelled but this caller was not.
	if err != nil && shared && ctx.Err() == nil && isCancellation(err) {
		v, err, _ = do()
	}
	if err != nil {
		return Result[T]{}, err
	}
	return v.(Result[T]), nil
}

func acquire[T any](ctx context.Context, a *Acquirer, src Source[T], c domain.Coordinates, key string) (Result[T], error) {
	log := a.logger.With("kind", src.Kind, "key", key)

	if !a.conn.Online() {
		if v, ok := cached[T](ctx, a, key, log); ok {
			return result(a, src.Kind, key, OriginCache, v), nil
		}
		a.metrics.AcquireOutcomes.WithLabelValues(string(src.Kind), "miss").Inc()
		return Result[T]{}, fmt.Errorf("%s at %s: %w", src.Kind, c.Label(), ErrNoData)
	}

	v, err := src.Fetch(ctx, c)
	if err == nil {
		if a.persist {
			a.save(ctx, key, v, log)
		}
		return result(a, src.Kind, key, OriginNetwork, v), nil
	}
	if ctx.Err() != nil {
		return Result[T]{}, ctx.Err()
	}
	log.Warn("fetch failed, falling back", "error", err)

	if v, ok := cached[T](ctx, a, key, log); ok {
		return result(a, src.Kind, key, OriginCache, v), nil
	}
	return result(a, src.Kind, key, OriginSynthetic, src.Synthesize(c)), nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func result[T any](a *Acquirer, kind domain.Kind, key string, origin Origin, v T) Result[T] {
	a.metrics.AcquireOutcomes.WithLabelValues(string(kind), string(origin)).Inc()
	return Result[T]{Key: key, Origin: origin, Value: v}
}

// cached reads and decodes key. A payload that no longer decodes is deleted
// and reported as a miss.
func cached[T any](ctx context.Context, a *Acquirer, key string, log *slog.Logger) (T, bool) {
	var zero T
	entry, err := a.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("cache read failed", "error", err)
		}
		return zero, false
	}
	var v T
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		log.Warn("malformed cache entry, discarding", "error", err)
		if err := a.store.Delete(ctx, key); err != nil {
			log.Warn("cache delete failed", "error", err)
		}
		return zero, false
	}
	log.Debug("cache hit")
	return v, true
}

func (a *Acquirer) save(ctx context.Context, key string, v any, log *slog.Logger) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error("encode value for cache", "error", err)
		return
	}
	if err := a.store.Put(ctx, store.Entry{Key: key, Value: b, ContentType: "application/json"}); err != nil {
		log.Warn("cache write failed", "error", err)
	}
}
