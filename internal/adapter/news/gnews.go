// Package news searches regional agriculture news through GNews or an RSS
// search feed. Both implement domain.NewsProvider.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/observability"
)

// MaxArticles bounds every search.
const MaxArticles = 10

// GNews searches the GNews v4 API.
type GNews struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewGNews creates a GNews client.
func NewGNews(apiKey string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *GNews {
	return &GNews{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: "https://gnews.io/api/v4",
		metrics: metrics,
		logger:  logger,
	}
}

// Search returns Portuguese-language Brazilian articles matching query.
func (c *GNews) Search(ctx context.Context, query string) (articles []domain.Article, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveUpstream("gnews", start, err) }()

	params := url.Values{
		"q":       {query},
		"lang":    {"pt"},
		"country": {"br"},
		"max":     {strconv.Itoa(MaxArticles)},
		"apikey":  {c.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gnews search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gnews API error: status %d: %s", resp.StatusCode, body)
	}

	var gr gnewsResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	articles = make([]domain.Article, 0, len(gr.Articles))
	for _, a := range gr.Articles {
		articles = append(articles, domain.Article{
			Title:       a.Title,
			Description: a.Description,
			Source:      a.Source.Name,
			Published:   a.PublishedAt,
			URL:         a.URL,
			Image:       a.Image,
		})
	}
	c.logger.Debug("gnews search", "query", query, "articles", len(articles))
	return articles, nil
}

// GNews API response types.

type gnewsResponse struct {
	TotalArticles int            `json:"totalArticles"`
	Articles      []gnewsArticle `json:"articles"`
}

type gnewsArticle struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	Image       string    `json:"image"`
	PublishedAt time.Time `json:"publishedAt"`
	Source      struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"source"`
}
