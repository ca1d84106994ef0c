// Package agro assembles the per-kind data sources and holds the application
// state the HTTP API drives: the selected location, the active section and
// the dashboard built for them.
package agro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/agrodecision-cache/internal/acquire"
	"github.com/couchcryptid/agrodecision-cache/internal/domain"
)

// ClimateSource fetches point climate data.
type ClimateSource interface {
	Daily(ctx context.Context, c domain.Coordinates) (domain.ClimateSummary, error)
	Monthly(ctx context.Context, c domain.Coordinates) (domain.MonthlyClimate, error)
}

// Upstreams are the real data providers behind the services.
type Upstreams struct {
	Climate    ClimateSource
	Geocoder   domain.Geocoder
	Indicators domain.IndicatorSource
	News       domain.NewsProvider
}

// errNoArticles makes an empty search fall back like a failed one.
var errNoArticles = errors.New("news search returned no articles")

// Services acquires every data kind through one Acquirer.
type Services struct {
	acq    *acquire.Acquirer
	up     Upstreams
	synth  *domain.Synthesizer
	logger *slog.Logger
}

// NewServices creates Services. synth supplies fallback values.
func NewServices(acq *acquire.Acquirer, up Upstreams, synth *domain.Synthesizer, logger *slog.Logger) *Services {
	return &Services{acq: acq, up: up, synth: synth, logger: logger}
}

// Climate returns the trailing-week climate summary at c.
func (s *Services) Climate(ctx context.Context, c domain.Coordinates) (acquire.Result[domain.ClimateSummary], error) {
	return acquire.Get(ctx, s.acq, acquire.Source[domain.ClimateSummary]{
		Kind:       domain.KindClimate,
		Fetch:      s.up.Climate.Daily,
		Synthesize: s.synth.Climate,
	}, c)
}

// Monthly returns the monthly aggregates at c.
func (s *Services) Monthly(ctx context.Context, c domain.Coordinates) (acquire.Result[domain.MonthlyClimate], error) {
	return acquire.Get(ctx, s.acq, acquire.Source[domain.MonthlyClimate]{
		Kind:       domain.KindMonthly,
		Fetch:      s.up.Climate.Monthly,
		Synthesize: s.synth.Monthly,
	}, c)
}

// Place returns the place enclosing c. A point the geocoder cannot resolve is
// labelled by its coordinates.
func (s *Services) Place(ctx context.Context, c domain.Coordinates) (acquire.Result[domain.Place], error) {
	return acquire.Get(ctx, s.acq, acquire.Source[domain.Place]{
		Kind: domain.KindPlace,
		Fetch: func(ctx context.Context, c domain.Coordinates) (domain.Place, error) {
			p, err := s.up.Geocoder.ReverseGeocode(ctx, c.Lat, c.Lon)
			if err != nil {
				return domain.Place{}, err
			}
			if p.Empty() {
				p.DisplayName = c.Label()
			}
			return p, nil
		},
		Synthesize: s.synth.Place,
	}, c)
}

// Indicators returns the region, climate and market indicators at loc.
func (s *Services) Indicators(ctx context.Context, loc domain.Location) (acquire.Result[domain.Indicators], error) {
	return acquire.Get(ctx, s.acq, acquire.Source[domain.Indicators]{
		Kind: domain.KindIndicators,
		Fetch: func(ctx context.Context, c domain.Coordinates) (domain.Indicators, error) {
			return s.fetchIndicators(ctx, domain.Location{Coordinates: c, Name: loc.Name})
		},
		Synthesize: func(c domain.Coordinates) domain.Indicators {
			return s.synth.Indicators(domain.Location{Coordinates: c, Name: loc.Name})
		},
	}, loc.Coordinates)
}

// News returns regional agriculture news for loc.
func (s *Services) News(ctx context.Context, loc domain.Location) (acquire.Result[domain.RegionalNews], error) {
	return acquire.Get(ctx, s.acq, acquire.Source[domain.RegionalNews]{
		Kind: domain.KindNews,
		Fetch: func(ctx context.Context, c domain.Coordinates) (domain.RegionalNews, error) {
			return s.fetchNews(ctx, domain.Location{Coordinates: c, Name: loc.Name})
		},
		Synthesize: func(domain.Coordinates) domain.RegionalNews {
			return s.synth.News(domain.SearchTerm(loc.Name, ""))
		},
	}, loc.Coordinates)
}

// region resolves the administrative region of loc, falling back to Brazil
// when no real place is known.
func (s *Services) region(ctx context.Context, loc domain.Location) domain.Region {
	res, err := s.Place(ctx, loc.Coordinates)
	if err != nil || res.Origin == acquire.OriginSynthetic {
		return domain.FallbackRegion(loc.Name)
	}
	return domain.RegionFromPlace(res.Value, loc.Name)
}

func (s *Services) fetchIndicators(ctx context.Context, loc domain.Location) (domain.Indicators, error) {
	region := s.region(ctx, loc)

	climate, err := s.Climate(ctx, loc.Coordinates)
	if err != nil {
		return domain.Indicators{}, err
	}

	fallback := s.synth.Market()
	market := domain.Market{
		Indicators: make(map[string]domain.Indicator, len(domain.AgriculturalIndicators)),
		LastUpdate: domain.Now().UTC(),
	}
	var errs []error
	for _, def := range domain.AgriculturalIndicators {
		series, err := s.up.Indicators.IndicatorSeries(ctx, region.Country, def.Code)
		if err != nil {
			if ctx.Err() != nil {
				return domain.Indicators{}, ctx.Err()
			}
			s.logger.Warn("indicator unavailable, using placeholder", "code", def.Code, "country", region.Country, "error", err)
			errs = append(errs, err)
			market.Indicators[def.Code] = fallback.Indicators[def.Code]
			continue
		}
		market.Indicators[def.Code] = domain.Indicator{
			Name:  def.Name,
			Value: domain.LatestValue(series),
			Trend: domain.Trend(series),
		}
	}
	if len(errs) == len(domain.AgriculturalIndicators) {
		return domain.Indicators{}, fmt.Errorf("all indicators failed: %w", errors.Join(errs...))
	}

	return domain.Indicators{Region: region, Climate: climate.Value, Market: market}, nil
}

func (s *Services) fetchNews(ctx context.Context, loc domain.Location) (domain.RegionalNews, error) {
	var regionName string
	if domain.SearchTerm(loc.Name, "") == domain.DefaultSearchTerm {
		regionName = s.region(ctx, loc).Region
	}
	term := domain.SearchTerm(loc.Name, regionName)

	articles, err := s.up.News.Search(ctx, domain.NewsQuery(term))
	if err != nil {
		return domain.RegionalNews{}, err
	}
	if len(articles) == 0 {
		return domain.RegionalNews{}, fmt.Errorf("%q: %w", term, errNoArticles)
	}
	return domain.BuildRegionalNews(term, articles), nil
}
