package geocode

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/observability"
	"github.com/couchcryptid/agrodecision-cache/internal/store"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU keyed by the point
// rounded to four decimals (about 11 m).
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *store.Memory
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewCachedGeocoder creates a cache decorator holding up to maxEntries places.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics, logger *slog.Logger) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   store.NewMemory(store.Options{MaxEntries: maxEntries}),
		metrics: metrics,
		logger:  logger,
	}
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.Place, error) {
	key := domain.Coordinates{Lat: lat, Lon: lon}.RoundedKey(4)
	if place, ok := c.get(ctx, key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return place, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	place, err := c.inner.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return place, err
	}
	// Only cache non-empty results so transient "not found" responses can be retried.
	if !place.Empty() {
		c.put(ctx, key, place)
	}
	return place, nil
}

// Len returns the number of cached places.
func (c *CachedGeocoder) Len() int {
	n, _ := c.cache.Len(context.Background())
	return n
}

func (c *CachedGeocoder) get(ctx context.Context, key string) (domain.Place, bool) {
	e, err := c.cache.Get(ctx, key)
	if err != nil {
		return domain.Place{}, false
	}
	var p domain.Place
	if err := json.Unmarshal(e.Value, &p); err != nil {
		return domain.Place{}, false
	}
	return p, true
}

func (c *CachedGeocoder) put(ctx context.Context, key string, p domain.Place) {
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.cache.Put(ctx, store.Entry{Key: key, Value: b}); err != nil {
		c.logger.Warn("geocode cache write failed", "key", key, "error", err)
	}
}
