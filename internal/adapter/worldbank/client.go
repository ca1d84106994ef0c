// Package worldbank reads yearly country indicators from the World Bank API.
package worldbank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/observability"
)

// recentYears is how many of the most recent years are requested.
const recentYears = 10

var _ domain.IndicatorSource = (*Client)(nil)

// Client implements domain.IndicatorSource.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a World Bank client.
func NewClient(timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: "https://api.worldbank.org/v2",
		metrics: metrics,
		logger:  logger,
	}
}

// IndicatorSeries returns the yearly values of code for an ISO alpha-2
// country. Years without a value are omitted.
func (c *Client) IndicatorSeries(ctx context.Context, country, code string) (series map[string]float64, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveUpstream("worldbank", start, err) }()

	params := url.Values{
		"format": {"json"},
		"mrv":    {strconv.Itoa(recentYears)},
	}
	u := fmt.Sprintf("%s/country/%s/indicator/%s?%s",
		c.baseURL, url.PathEscape(strings.ToLower(country)), url.PathEscape(code), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indicator %s request: %w", code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("world bank API error: status %d: %s", resp.StatusCode, body)
	}

	// The body is a two-element array: paging metadata, then the points. Errors
	// come back with status 200 as a one-element array holding a message.
	var parts []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&parts); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parts) < 2 {
		return nil, apiError(parts)
	}

	var points []point
	if err := json.Unmarshal(parts[1], &points); err != nil {
		return nil, fmt.Errorf("decode points: %w", err)
	}

	series = make(map[string]float64, len(points))
	for _, p := range points {
		if p.Value != nil {
			series[p.Date] = *p.Value
		}
	}
	c.logger.Debug("indicator fetched", "country", country, "code", code, "years", len(series))
	return series, nil
}

func apiError(parts []json.RawMessage) error {
	if len(parts) == 1 {
		var meta struct {
			Message []struct {
				ID    string `json:"id"`
				Key   string `json:"key"`
				Value string `json:"value"`
			} `json:"message"`
		}
		if json.Unmarshal(parts[0], &meta) == nil && len(meta.Message) > 0 {
			m := meta.Message[0]
			return fmt.Errorf("world bank API error %s: %s: %s", m.ID, m.Key, m.Value)
		}
	}
	return errors.New("world bank response has no data")
}

// World Bank API response types.

type point struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}
