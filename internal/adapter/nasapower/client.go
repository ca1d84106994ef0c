// Package nasapower reads point climate data from the NASA POWER API.
package nasapower

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

const (
	defaultBaseURL = "https://power.larc.nasa.gov/api/temporal"

	// dailyLookback covers the publication lag of daily data so the summary
	// window still finds enough valid days.
	dailyLookback = 30 * 24 * time.Hour

	// MonthlyStartYear and MonthlyEndYear bound the monthly aggregates.
	MonthlyStartYear = 2020
	MonthlyEndYear   = 2023
)

// Client fetches daily and monthly point series.
type Client struct {
	httpClient *http.Client
	baseURL    string
	window     int
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a NASA POWER client with the given request timeout.
func NewClient(timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		window:  domain.DefaultWindowDays,
		metrics: metrics,
		logger:  logger,
	}
}

// Daily returns the climate summary of the trailing window at c.
func (c *Client) Daily(ctx context.Context, coords domain.Coordinates) (domain.ClimateSummary, error) {
	end := domain.Now().UTC()
	start := end.Add(-dailyLookback)
	series, err := c.series(ctx, "daily", coords, start.Format("20060102"), end.Format("20060102"))
	if err != nil {
		return domain.ClimateSummary{}, err
	}
	return domain.SummarizeDaily(series, c.window)
}

// Monthly returns the per-year monthly aggregates at c.
func (c *Client) Monthly(ctx context.Context, coords domain.Coordinates) (domain.MonthlyClimate, error) {
	series, err := c.series(ctx, "monthly", coords, strconv.Itoa(MonthlyStartYear), strconv.Itoa(MonthlyEndYear))
	if err != nil {
		return domain.MonthlyClimate{}, err
	}
	return domain.MonthlyFromSeries(series)
}

func (c *Client) series(ctx context.Context, resolution string, coords domain.Coordinates, start, end string) (series domain.Series, err error) {
	source := "nasa_power_" + resolution
	started := time.Now()
	defer func() { c.metrics.ObserveUpstream(source, started, err) }()

	params := url.Values{
		"parameters": {strings.Join(domain.PowerParameters, ",")},
		"community":  {"RE"},
		"longitude":  {strconv.FormatFloat(coords.Lon, 'f', -1, 64)},
		"latitude":   {strconv.FormatFloat(coords.Lat, 'f', -1, 64)},
		"start":      {start},
		"end":        {end},
		"format":     {"JSON"},
	}
	u := fmt.Sprintf("%s/%s/point?%s", c.baseURL, resolution, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", resolution, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("nasa power API error: status %d: %s", resp.StatusCode, body)
	}

	var powerResp response
	if err := json.NewDecoder(resp.Body).Decode(&powerResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(powerResp.Properties.Parameter) == 0 {
		return nil, errors.New("nasa power response has no properties.parameter")
	}

	c.logger.Debug("nasa power series fetched", "resolution", resolution, "point", coords.Label())
	return powerResp.Properties.Parameter, nil
}

// NASA POWER API response types.

type response struct {
	Properties struct {
		Parameter domain.Series `json:"parameter"`
	} `json:"properties"`
}
