package domain

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
)

// Synthesizer generates placeholder data when no real data is available.
// It is safe for concurrent use.
type Synthesizer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSynthesizer creates a Synthesizer with a fixed seed, useful in tests.
func NewSynthesizer(seed uint64) *Synthesizer {
	return &Synthesizer{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomSynthesizer creates a Synthesizer seeded from the runtime.
func NewRandomSynthesizer() *Synthesizer {
	return NewSynthesizer(rand.Uint64())
}

func (s *Synthesizer) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

func (s *Synthesizer) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.IntN(n)
}

// between returns a value in [lo, hi).
func (s *Synthesizer) between(lo, hi float64) float64 {
	return lo + s.float()*(hi-lo)
}

// baseTemperature is the latitude bias shared by all climate generators.
func baseTemperature(lat float64) float64 {
	return 25 - math.Abs(lat)/3
}

// Climate returns a latitude-biased climate summary with every field set.
func (s *Synthesizer) Climate(c Coordinates) ClimateSummary {
	return ClimateSummary{
		Temperature:   baseTemperature(c.Lat) + s.between(-5, 5),
		Precipitation: s.between(0, 50),
		Radiation:     s.between(4, 7),
		Humidity:      s.between(50, 80),
		WindSpeed:     s.between(2, 7),
	}
}

// SyntheticYears are the years covered by synthetic monthly data.
var SyntheticYears = []string{"2020", "2021", "2022", "2023"}

// Monthly returns seasonal monthly aggregates. Seasons are shifted six months
// between hemispheres.
func (s *Synthesizer) Monthly(c Coordinates) MonthlyClimate {
	m := newMonthlyClimate(SyntheticYears)
	base := baseTemperature(c.Lat)
	shift := 0
	if c.Lat > 0 {
		shift = 6
	}
	for _, year := range SyntheticYears {
		for month := range 12 {
			phase := float64(month+shift) * math.Pi / 6
			temp := round(base+math.Cos(phase)*10+s.between(-2, 2), 1)
			rain := round(math.Max(0, 50+150*math.Sin(phase)+s.between(-25, 25)), 1)
			radiation := round(3+(1-rain/200)*5+s.between(-1, 1), 2)
			humidity := round(40+(rain/200)*50+s.between(-10, 10), 0)
			wind := round(s.between(2, 7), 1)

			set(m, "temperature", year, month, temp)
			set(m, "precipitation", year, month, rain)
			set(m, "radiation", year, month, radiation)
			set(m, "humidity", year, month, humidity)
			set(m, "windSpeed", year, month, wind)
		}
	}
	return m
}

func set(m MonthlyClimate, param, year string, month int, v float64) {
	m.Parameters[param].Data[year][month] = &v
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

type indicatorRange struct {
	lo, hi float64
}

var syntheticIndicatorRanges = map[string]indicatorRange{
	"AG.LND.AGRI.ZS": {30, 40},
	"AG.LND.CREL.HA": {10_000_000, 15_000_000},
	"AG.YLD.CREL.KG": {3000, 4000},
	"AG.PRD.FOOD.XD": {90, 110},
	"AG.PRD.LVSK.XD": {90, 110},
}

// Market returns plausible values for the tracked agricultural indicators.
func (s *Synthesizer) Market() Market {
	indicators := make(map[string]Indicator, len(AgriculturalIndicators))
	for _, def := range AgriculturalIndicators {
		r := syntheticIndicatorRanges[def.Code]
		v := s.between(r.lo, r.hi)
		trend := TrendDown
		if s.float() > 0.5 {
			trend = TrendUp
		}
		indicators[def.Code] = Indicator{Name: def.Name, Value: &v, Trend: trend}
	}
	return Market{Indicators: indicators, LastUpdate: clock.Now().UTC()}
}

// Indicators returns a full synthetic indicators payload for a location.
func (s *Synthesizer) Indicators(loc Location) Indicators {
	return Indicators{
		Region:  FallbackRegion(loc.Name),
		Climate: s.Climate(loc.Coordinates),
		Market:  s.Market(),
	}
}

var syntheticSources = []string{"Globo Rural", "Canal Rural", "Embrapa", "Agrolink", "Notícias Agrícolas"}

var syntheticTitles = map[string]string{
	"Agricultura":      "Produtores de %s investem em novas técnicas de plantio",
	"Clima":            "Previsão de chuvas acima da média beneficia agricultores de %s",
	"Mercado":          "Preços de commodities impactam produtores rurais de %s",
	"Tecnologia":       "Novas tecnologias aumentam produtividade agrícola em %s",
	"Sustentabilidade": "Agricultura sustentável ganha espaço entre produtores de %s",
}

// syntheticArticles is the number of articles in a synthetic news payload.
const syntheticArticles = 10

// News returns placeholder articles for a search term, dated within the last
// thirty days.
func (s *Synthesizer) News(term string) RegionalNews {
	now := clock.Now().UTC()
	articles := make([]Article, 0, syntheticArticles)
	for range syntheticArticles {
		category := NewsCategories[s.intn(len(NewsCategories))]
		source := syntheticSources[s.intn(len(syntheticSources))]
		published := now.AddDate(0, 0, -s.intn(30))
		articles = append(articles, Article{
			Title: fmt.Sprintf(syntheticTitles[category], term),
			Description: fmt.Sprintf(
				"Esta é uma notícia simulada sobre %s na região de %s. O conteúdo aborda temas relevantes para produtores rurais locais.",
				strings.ToLower(category), term),
			Source:    source,
			Published: published,
			Category:  category,
			URL:       "#",
			Image:     "https://via.placeholder.com/300x200?text=" + category,
		})
	}
	return RegionalNews{SearchTerm: term, Categories: NewsCategories, Articles: articles}
}

// Place returns a place that labels the point by its coordinates.
func (s *Synthesizer) Place(c Coordinates) Place {
	return Place{DisplayName: c.Label(), CountryCode: DefaultCountry}
}
