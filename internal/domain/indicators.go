package domain

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Trend labels for indicators.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// trendThreshold is the relative change beyond which a series trends.
const trendThreshold = 0.05

// trendYears bounds how many trailing years feed the trend.
const trendYears = 5

// IndicatorDef names a World Bank indicator the app tracks.
type IndicatorDef struct {
	Code string
	Name string
}

// AgriculturalIndicators are the indicators shown in the indicators section.
var AgriculturalIndicators = []IndicatorDef{
	{Code: "AG.LND.AGRI.ZS", Name: "Terras agrícolas (% da área terrestre)"},
	{Code: "AG.LND.CREL.HA", Name: "Terra cultivada com cereais (hectares)"},
	{Code: "AG.YLD.CREL.KG", Name: "Rendimento de cereais (kg por hectare)"},
	{Code: "AG.PRD.FOOD.XD", Name: "Índice de produção de alimentos"},
	{Code: "AG.PRD.LVSK.XD", Name: "Índice de produção pecuária"},
}

// DefaultCountry is used when a region cannot be resolved.
const DefaultCountry = "BR"

// Region describes the administrative area around a point.
type Region struct {
	Country string `json:"country"`
	State   string `json:"state"`
	Region  string `json:"region"`
	Name    string `json:"name"`
}

// RegionFromPlace derives a Region from a geocoded place. name overrides the
// display name when the user already labelled the location.
func RegionFromPlace(p Place, name string) Region {
	country := strings.ToUpper(p.CountryCode)
	if country == "" {
		country = DefaultCountry
	}
	region := p.State
	if region == "" {
		region = p.Country
	}
	if name == "" {
		name = region
	}
	return Region{Country: country, State: p.State, Region: region, Name: name}
}

// FallbackRegion is used when reverse geocoding fails.
func FallbackRegion(name string) Region {
	if name == "" {
		name = "Brasil"
	}
	return Region{Country: DefaultCountry, Region: "Brasil", Name: name}
}

// Indicator is the latest value and trend of one indicator.
type Indicator struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
	Trend string   `json:"trend"`
}

// Market groups the economic indicators for a country.
type Market struct {
	Indicators map[string]Indicator `json:"indicators"`
	LastUpdate time.Time            `json:"lastUpdate"`
}

// Indicators is the payload of the indicators section.
type Indicators struct {
	Region  Region         `json:"region"`
	Climate ClimateSummary `json:"climate"`
	Market  Market         `json:"market"`
}

// IndicatorSource fetches yearly values of an indicator for a country.
// Missing years are omitted from the returned map.
type IndicatorSource interface {
	IndicatorSeries(ctx context.Context, country, code string) (map[string]float64, error)
}

// LatestValue returns the value of the most recent year, or nil when the
// series is empty.
func LatestValue(series map[string]float64) *float64 {
	years := sortedYears(series)
	if len(years) == 0 {
		return nil
	}
	v := series[years[len(years)-1]]
	return &v
}

// Trend compares the first and last of the trailing five years and reports
// up or down when the relative change exceeds 5%.
func Trend(series map[string]float64) string {
	years := sortedYears(series)
	if len(years) > trendYears {
		years = years[len(years)-trendYears:]
	}
	if len(years) < 2 {
		return TrendStable
	}
	first := series[years[0]]
	last := series[years[len(years)-1]]
	if first == 0 {
		return TrendStable
	}
	change := (last - first) / first
	switch {
	case change > trendThreshold:
		return TrendUp
	case change < -trendThreshold:
		return TrendDown
	default:
		return TrendStable
	}
}

func sortedYears(series map[string]float64) []string {
	years := make([]string, 0, len(series))
	for y := range series {
		years = append(years, y)
	}
	sort.Strings(years)
	return years
}
