package news

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/couchcryptid/agrodecision-cache/internal/domain"
	"github.com/couchcryptid/agrodecision-cache/internal/observability"
)

// RSS searches a Google News style RSS endpoint that takes the query in q.
// It needs no API key.
type RSS struct {
	parser  *gofeed.Parser
	feedURL string
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewRSS creates an RSS search client for feedURL.
func NewRSS(feedURL, userAgent string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *RSS {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = userAgent
	return &RSS{
		parser:  parser,
		feedURL: feedURL,
		metrics: metrics,
		logger:  logger,
	}
}

// Search returns up to MaxArticles feed items matching query.
func (c *RSS) Search(ctx context.Context, query string) (articles []domain.Article, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveUpstream("rss", start, err) }()

	u, err := url.Parse(c.feedURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("hl", "pt-BR")
	q.Set("gl", "BR")
	q.Set("ceid", "BR:pt-419")
	u.RawQuery = q.Encode()

	feed, err := c.parser.ParseURLWithContext(u.String(), ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching news feed: %w", err)
	}

	articles = make([]domain.Article, 0, min(len(feed.Items), MaxArticles))
	for _, item := range feed.Items {
		if len(articles) == MaxArticles {
			break
		}
		articles = append(articles, articleFromItem(item, feed.Title))
	}
	c.logger.Debug("rss search", "query", query, "articles", len(articles))
	return articles, nil
}

func articleFromItem(item *gofeed.Item, feedTitle string) domain.Article {
	title, source := splitSource(item.Title)
	if source == "" {
		source = feedTitle
	}

	var published time.Time
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	desc := item.Description
	if desc == "" {
		desc = item.Content
	}

	return domain.Article{
		Title:       title,
		Description: stripHTML(desc),
		Source:      source,
		Published:   published,
		URL:         item.Link,
		Image:       itemImage(item),
	}
}

// splitSource separates the " - Source" suffix news aggregators append to
// titles.
func splitSource(title string) (string, string) {
	i := strings.LastIndex(title, " - ")
	if i <= 0 {
		return title, ""
	}
	return strings.TrimSpace(title[:i]), strings.TrimSpace(title[i+3:])
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
