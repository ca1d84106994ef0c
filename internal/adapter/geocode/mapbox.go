// Package geocode resolves coordinates to place names through Nominatim or
// Mapbox, with an in-memory LRU in front of either.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/observability"
)

// Mapbox implements domain.Geocoder using the Mapbox Geocoding API.
type Mapbox struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewMapbox creates a Mapbox reverse geocoding client.
func NewMapbox(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Mapbox {
	return &Mapbox{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: "https://api.mapbox.com/geocoding/v5/mapbox.places",
		metrics: metrics,
		logger:  logger,
	}
}

// ReverseGeocode converts coordinates to the enclosing place.
func (c *Mapbox) ReverseGeocode(ctx context.Context, lat, lon float64) (place domain.Place, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveUpstream("mapbox", start, err) }()

	// Mapbox uses lon,lat order.
	coord := fmt.Sprintf("%.6f,%.6f", lon, lat)
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"place"},
		"language":     {"pt"},
	}
	u := fmt.Sprintf("%s/%s.json?%s", c.baseURL, coord, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Place{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Place{}, fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Place{}, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var mapboxResp mapboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return domain.Place{}, fmt.Errorf("decode response: %w", err)
	}

	if len(mapboxResp.Features) == 0 {
		return domain.Place{}, nil
	}
	return mapboxResp.Features[0].place(), nil
}

// Mapbox API response types.

type mapboxResponse struct {
	Features []mapboxFeature `json:"features"`
}

type mapboxFeature struct {
	ID        string          `json:"id"` // "place.123"
	PlaceName string          `json:"place_name"`
	Text      string          `json:"text"`
	Context   []mapboxContext `json:"context"`
}

type mapboxContext struct {
	ID        string `json:"id"` // "region.456", "country.789"
	Text      string `json:"text"`
	ShortCode string `json:"short_code"`
}

func (f mapboxFeature) place() domain.Place {
	p := domain.Place{DisplayName: f.PlaceName}
	parts := append([]mapboxContext{{ID: f.ID, Text: f.Text}}, f.Context...)
	for _, c := range parts {
		layer, _, _ := strings.Cut(c.ID, ".")
		switch layer {
		case "place", "locality":
			if p.City == "" {
				p.City = c.Text
			}
		case "region":
			p.State = c.Text
		case "country":
			p.Country = c.Text
			p.CountryCode = strings.ToUpper(c.ShortCode)
		}
	}
	return p
}
