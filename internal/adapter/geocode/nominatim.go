package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/observability"
)

// Nominatim implements domain.Geocoder using the OpenStreetMap Nominatim
// reverse endpoint. Requests are throttled to the configured rate, since the
// public instance allows one request per second per client.
type Nominatim struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewNominatim creates a Nominatim client limited to rps requests per second.
func NewNominatim(userAgent string, rps float64, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Nominatim {
	return &Nominatim{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:   "https://nominatim.openstreetmap.org",
		userAgent: userAgent,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		metrics:   metrics,
		logger:    logger,
	}
}

// ReverseGeocode converts coordinates to the enclosing place. A point
// Nominatim cannot resolve (open sea) yields an empty Place.
func (c *Nominatim) ReverseGeocode(ctx context.Context, lat, lon float64) (place domain.Place, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Place{}, fmt.Errorf("nominatim rate limit: %w", err)
	}

	start := time.Now()
	defer func() { c.metrics.ObserveUpstream("nominatim", start, err) }()

	params := url.Values{
		"format":          {"json"},
		"lat":             {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":             {strconv.FormatFloat(lon, 'f', -1, 64)},
		"zoom":            {"10"},
		"accept-language": {"pt-BR"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return domain.Place{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Place{}, fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Place{}, fmt.Errorf("nominatim API error: status %d: %s", resp.StatusCode, body)
	}

	var nr nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return domain.Place{}, fmt.Errorf("decode response: %w", err)
	}
	if nr.Error != "" {
		c.logger.Debug("nominatim could not resolve point", "lat", lat, "lon", lon, "reason", nr.Error)
		return domain.Place{}, nil
	}
	return nr.place(), nil
}

// Nominatim API response types.

type nominatimResponse struct {
	Error       string           `json:"error"`
	DisplayName string           `json:"display_name"`
	Address     nominatimAddress `json:"address"`
}

type nominatimAddress struct {
	City         string `json:"city"`
	Town         string `json:"town"`
	Village      string `json:"village"`
	Municipality string `json:"municipality"`
	State        string `json:"state"`
	Country      string `json:"country"`
	CountryCode  string `json:"country_code"`
}

func (r nominatimResponse) place() domain.Place {
	a := r.Address
	city := a.City
	for _, alt := range []string{a.Town, a.Village, a.Municipality} {
		if city == "" {
			city = alt
		}
	}
	return domain.Place{
		DisplayName: r.DisplayName,
		City:        city,
		State:       a.State,
		Country:     a.Country,
		CountryCode: strings.ToUpper(a.CountryCode),
	}
}
