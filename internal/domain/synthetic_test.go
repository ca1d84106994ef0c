package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizer_ClimateAllFieldsPopulated(t *testing.T) {
	s := NewSynthesizer(42)
	for _, lat := range []float64{-60, -23.5, 0, 15, 70} {
		c := s.Climate(Coordinates{Lat: lat, Lon: -47})

		base := 25 - abs(lat)/3
		assert.GreaterOrEqual(t, c.Temperature, base-5)
		assert.Less(t, c.Temperature, base+5)
		assert.GreaterOrEqual(t, c.Precipitation, 0.0)
		assert.Less(t, c.Precipitation, 50.0)
		assert.GreaterOrEqual(t, c.Radiation, 4.0)
		assert.GreaterOrEqual(t, c.Humidity, 50.0)
		assert.GreaterOrEqual(t, c.WindSpeed, 2.0)
	}
}

func TestSynthesizer_SameSeedSameValues(t *testing.T) {
	c := Coordinates{Lat: -10, Lon: -50}
	assert.Equal(t, NewSynthesizer(7).Climate(c), NewSynthesizer(7).Climate(c))
}

func TestSynthesizer_MonthlyShape(t *testing.T) {
	m := NewSynthesizer(1).Monthly(Coordinates{Lat: -20, Lon: -45})

	assert.Equal(t, SyntheticYears, m.Years)
	for _, key := range []string{"temperature", "precipitation", "radiation", "humidity", "windSpeed"} {
		p, ok := m.Parameters[key]
		require.True(t, ok, key)
		for _, y := range SyntheticYears {
			require.Len(t, p.Data[y], 12)
			for month, v := range p.Data[y] {
				require.NotNil(t, v, "%s %s month %d", key, y, month)
			}
		}
	}
	for _, v := range m.Parameters["precipitation"].Data["2020"] {
		assert.GreaterOrEqual(t, *v, 0.0)
	}
}

func TestSynthesizer_NewsUsesClock(t *testing.T) {
	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { SetClock(nil) })

	news := NewSynthesizer(3).News("Cascavel")

	assert.Equal(t, "Cascavel", news.SearchTerm)
	require.Len(t, news.Articles, 10)
	for _, a := range news.Articles {
		assert.Contains(t, a.Title, "Cascavel")
		assert.Contains(t, NewsCategories, a.Category)
		assert.False(t, a.Published.After(now))
		assert.True(t, a.Published.After(now.AddDate(0, 0, -31)))
	}
}

func TestSynthesizer_Indicators(t *testing.T) {
	ind := NewSynthesizer(9).Indicators(Location{Name: "Rio Verde"})

	assert.Equal(t, "Rio Verde", ind.Region.Name)
	assert.Equal(t, DefaultCountry, ind.Region.Country)
	assert.Len(t, ind.Market.Indicators, len(AgriculturalIndicators))
	for code, i := range ind.Market.Indicators {
		require.NotNil(t, i.Value, code)
		assert.Contains(t, []string{TrendUp, TrendDown}, i.Trend)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
