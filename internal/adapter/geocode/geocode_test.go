package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/observability"
)

const (
	testToken         = "test-token"
	testUserAgent     = "agrodecision-test/1.0"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func testMapbox(baseURL string) *Mapbox {
	return &Mapbox{
		token:      testToken,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		metrics:    testMetrics(),
		logger:     observability.DiscardLogger(),
	}
}

func testNominatim(baseURL string) *Nominatim {
	return &Nominatim{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		userAgent:  testUserAgent,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		metrics:    testMetrics(),
		logger:     observability.DiscardLogger(),
	}
}

// --- Mapbox ---

func TestMapbox_ReverseGeocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "-55.721100,-12.543800")
		assert.Equal(t, testToken, r.URL.Query().Get("access_token"))
		assert.Equal(t, "place", r.URL.Query().Get("types"))

		resp := mapboxResponse{
			Features: []mapboxFeature{{
				ID:        "place.8862",
				PlaceName: "Lucas do Rio Verde, Mato Grosso, Brasil",
				Text:      "Lucas do Rio Verde",
				Context: []mapboxContext{
					{ID: "region.9484", Text: "Mato Grosso", ShortCode: "BR-MT"},
					{ID: "country.8940", Text: "Brasil", ShortCode: "br"},
				},
			}},
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	place, err := testMapbox(srv.URL).ReverseGeocode(context.Background(), -12.5438, -55.7211)
	require.NoError(t, err)

	assert.Equal(t, domain.Place{
		DisplayName: "Lucas do Rio Verde, Mato Grosso, Brasil",
		City:        "Lucas do Rio Verde",
		State:       "Mato Grosso",
		Country:     "Brasil",
		CountryCode: "BR",
	}, place)
	assert.Equal(t, "Lucas do Rio Verde, Mato Grosso", place.Label())
}

func TestMapbox_ReverseGeocode_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(mapboxResponse{Features: []mapboxFeature{}}))
	}))
	defer srv.Close()

	place, err := testMapbox(srv.URL).ReverseGeocode(context.Background(), 0, -30)
	require.NoError(t, err)
	assert.True(t, place.Empty())
}

func TestMapbox_ReverseGeocode_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Not Authorized"}`))
	}))
	defer srv.Close()

	_, err := testMapbox(srv.URL).ReverseGeocode(context.Background(), -12.5, -55.7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestMapbox_ReverseGeocode_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testMapbox(srv.URL)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}

	_, err := c.ReverseGeocode(context.Background(), -12.5, -55.7)
	require.Error(t, err)
}

// --- Nominatim ---

func TestNominatim_ReverseGeocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, testUserAgent, r.Header.Get("User-Agent"))
		q := r.URL.Query()
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "-23.5505", q.Get("lat"))
		assert.Equal(t, "-46.6333", q.Get("lon"))
		assert.Equal(t, "pt-BR", q.Get("accept-language"))

		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{
			"display_name": "São Paulo, Região Sudeste, Brasil",
			"address": {"city": "São Paulo", "state": "São Paulo", "country": "Brasil", "country_code": "br"}
		}`))
	}))
	defer srv.Close()

	place, err := testNominatim(srv.URL).ReverseGeocode(context.Background(), -23.5505, -46.6333)
	require.NoError(t, err)
	assert.Equal(t, "São Paulo", place.City)
	assert.Equal(t, "São Paulo", place.State)
	assert.Equal(t, "BR", place.CountryCode)
	assert.Equal(t, "São Paulo, São Paulo", place.Label())
}

func TestNominatim_ReverseGeocode_TownFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"display_name":"x","address":{"town":"Sorriso","state":"Mato Grosso","country_code":"br"}}`))
	}))
	defer srv.Close()

	place, err := testNominatim(srv.URL).ReverseGeocode(context.Background(), -12.54, -55.72)
	require.NoError(t, err)
	assert.Equal(t, "Sorriso", place.City)
}

func TestNominatim_ReverseGeocode_Unresolvable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	place, err := testNominatim(srv.URL).ReverseGeocode(context.Background(), 0, -30)
	require.NoError(t, err)
	assert.True(t, place.Empty())
}

func TestNominatim_ReverseGeocode_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testNominatim(srv.URL).ReverseGeocode(context.Background(), 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestNominatim_RateLimitHonoursContext(t *testing.T) {
	c := testNominatim("http://127.0.0.1:0")
	c.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, c.limiter.Allow(), "drain the single token")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.ReverseGeocode(ctx, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

// --- CachedGeocoder ---

type countingGeocoder struct {
	calls int
	place domain.Place
	err   error
}

func (m *countingGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.Place, error) {
	m.calls++
	return m.place, m.err
}

func newCached(inner domain.Geocoder, size int) *CachedGeocoder {
	return NewCachedGeocoder(inner, size, testMetrics(), observability.DiscardLogger())
}

func TestCachedGeocoder_CacheHit(t *testing.T) {
	inner := &countingGeocoder{place: domain.Place{City: "Sinop", State: "Mato Grosso"}}
	cached := newCached(inner, 10)

	p1, err := cached.ReverseGeocode(context.Background(), -11.86421, -55.50661)
	require.NoError(t, err)
	p2, err := cached.ReverseGeocode(context.Background(), -11.86419, -55.50659)
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, inner.calls, "points within the rounding share an entry")
}

func TestCachedGeocoder_NegativeZeroSharesEntry(t *testing.T) {
	inner := &countingGeocoder{place: domain.Place{DisplayName: "Golfo da Guiné"}}
	cached := newCached(inner, 10)

	_, err := cached.ReverseGeocode(context.Background(), -0.00001, 0.00002)
	require.NoError(t, err)
	_, err = cached.ReverseGeocode(context.Background(), 0.00001, -0.00002)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, cached.Len())
}

func TestCachedGeocoder_EmptyResultNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	cached := newCached(inner, 10)

	for range 2 {
		_, err := cached.ReverseGeocode(context.Background(), 0, -30)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, inner.calls)
	assert.Zero(t, cached.Len())
}

func TestCachedGeocoder_ErrorNotCached(t *testing.T) {
	inner := &countingGeocoder{err: errors.New("upstream down")}
	cached := newCached(inner, 10)

	_, err := cached.ReverseGeocode(context.Background(), 1, 1)
	require.Error(t, err)

	inner.err = nil
	inner.place = domain.Place{City: "Recovered"}
	p, err := cached.ReverseGeocode(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "Recovered", p.City)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedGeocoder_EvictsLeastRecentlyUsed(t *testing.T) {
	inner := &countingGeocoder{place: domain.Place{City: "X"}}
	cached := newCached(inner, 2)
	ctx := context.Background()

	_, _ = cached.ReverseGeocode(ctx, 1, 1)
	_, _ = cached.ReverseGeocode(ctx, 2, 2)
	_, _ = cached.ReverseGeocode(ctx, 1, 1) // touch 1 so 2 is the oldest
	_, _ = cached.ReverseGeocode(ctx, 3, 3)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, 2, cached.Len())

	_, _ = cached.ReverseGeocode(ctx, 1, 1)
	assert.Equal(t, 3, inner.calls, "recently used entry survives")
	_, _ = cached.ReverseGeocode(ctx, 2, 2)
	assert.Equal(t, 4, inner.calls, "oldest entry was evicted")
}
