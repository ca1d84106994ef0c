package domain

import (
	"context"
	"strings"
	"time"
)

// NewsCategories are the categories the news section filters by.
var NewsCategories = []string{"Agricultura", "Clima", "Mercado", "Tecnologia", "Sustentabilidade"}

// DefaultSearchTerm is searched when no location name or region is known.
const DefaultSearchTerm = "Brasil"

const (
	defaultDescription = "Sem descrição disponível"
	defaultSource      = "Fonte Desconhecida"
	defaultImage       = "https://via.placeholder.com/300x200?text=Sem+Imagem"
)

// Article is one news item.
type Article struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	Published   time.Time `json:"published"`
	Category    string    `json:"category"`
	URL         string    `json:"url"`
	Image       string    `json:"image"`
}

// RegionalNews is the payload of the news section.
type RegionalNews struct {
	SearchTerm string    `json:"searchTerm"`
	Categories []string  `json:"categories"`
	Articles   []Article `json:"articles"`
}

// NewsProvider searches a news source.
type NewsProvider interface {
	Search(ctx context.Context, query string) ([]Article, error)
}

// NewsQuery appends the agriculture topic to a search term.
func NewsQuery(term string) string {
	return term + " agricultura"
}

// SearchTerm picks the news search term for a location: the first
// comma-separated part of its name, else the region, else the default.
// Names that look like raw coordinates are ignored.
func SearchTerm(name, region string) string {
	term := strings.TrimSpace(name)
	if i := strings.Index(term, ","); i >= 0 {
		term = strings.TrimSpace(term[:i])
	}
	if term != "" && !strings.Contains(term, ".") {
		return term
	}
	if region = strings.TrimSpace(region); region != "" {
		return region
	}
	return DefaultSearchTerm
}

var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"Clima", []string{"clima", "chuva", "temperatura", "seca"}},
	{"Mercado", []string{"preço", "mercado", "exportação", "comércio"}},
	{"Tecnologia", []string{"tecnologia", "digital", "inovação", "app"}},
	{"Sustentabilidade", []string{"sustentável", "orgânico", "meio ambiente", "carbono"}},
}

// Classify assigns a category from keywords in the title and description.
// The first matching category wins; everything else is Agricultura.
func Classify(title, description string) string {
	content := strings.ToLower(title + " " + description)
	for _, c := range categoryKeywords {
		for _, w := range c.words {
			if strings.Contains(content, w) {
				return c.category
			}
		}
	}
	return "Agricultura"
}

// BuildRegionalNews normalizes provider articles: it fills defaults for
// missing fields and classifies each article.
func BuildRegionalNews(term string, articles []Article) RegionalNews {
	out := make([]Article, 0, len(articles))
	for _, a := range articles {
		if a.Description == "" {
			a.Description = defaultDescription
		}
		if a.Source == "" {
			a.Source = defaultSource
		}
		if a.Image == "" {
			a.Image = defaultImage
		}
		a.Category = Classify(a.Title, a.Description)
		out = append(out, a)
	}
	return RegionalNews{
		SearchTerm: term,
		Categories: NewsCategories,
		Articles:   out,
	}
}
