package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestValue(t *testing.T) {
	assert.Nil(t, LatestValue(nil))

	v := LatestValue(map[string]float64{"2019": 1, "2021": 3, "2020": 2})
	require.NotNil(t, v)
	assert.Equal(t, 3.0, *v)
}

func TestTrend(t *testing.T) {
	assert.Equal(t, TrendStable, Trend(map[string]float64{"2020": 100}))
	assert.Equal(t, TrendUp, Trend(map[string]float64{"2019": 100, "2020": 103, "2021": 110}))
	assert.Equal(t, TrendDown, Trend(map[string]float64{"2019": 100, "2021": 90}))
	assert.Equal(t, TrendStable, Trend(map[string]float64{"2019": 100, "2021": 104}))
	assert.Equal(t, TrendStable, Trend(map[string]float64{"2019": 0, "2021": 50}))
}

func TestTrend_UsesTrailingFiveYears(t *testing.T) {
	series := map[string]float64{
		"2010": 1, // outside the window, would otherwise make this "up"
		"2017": 100, "2018": 100, "2019": 100, "2020": 100, "2021": 101,
	}
	assert.Equal(t, TrendStable, Trend(series))
}

func TestRegionFromPlace(t *testing.T) {
	r := RegionFromPlace(Place{State: "Bahia", Country: "Brasil", CountryCode: "br"}, "")
	assert.Equal(t, Region{Country: "BR", State: "Bahia", Region: "Bahia", Name: "Bahia"}, r)

	r = RegionFromPlace(Place{Country: "Paraguay", CountryCode: "py"}, "Minha fazenda")
	assert.Equal(t, "PY", r.Country)
	assert.Equal(t, "Paraguay", r.Region)
	assert.Equal(t, "Minha fazenda", r.Name)

	r = RegionFromPlace(Place{}, "")
	assert.Equal(t, DefaultCountry, r.Country)
}
