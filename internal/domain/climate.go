package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// NASA POWER parameter codes requested for every point.
const (
	ParamTemperature   = "T2M"
	ParamPrecipitation = "PRECTOTCORR"
	ParamRadiation     = "ALLSKY_SFC_SW_DWN"
	ParamHumidity      = "RH2M"
	ParamWindSpeed     = "WS2M"
)

// PowerParameters is the parameter list sent to the NASA POWER API.
var PowerParameters = []string{
	ParamTemperature,
	ParamPrecipitation,
	ParamRadiation,
	ParamHumidity,
	ParamWindSpeed,
}

// powerFillValue marks a missing sample in NASA POWER responses.
const powerFillValue = -999

// DefaultWindowDays is the trailing window used for climate summaries.
const DefaultWindowDays = 7

// ErrNoValidSamples is returned when a series holds no usable temperature sample.
var ErrNoValidSamples = errors.New("no valid samples in series")

// Series maps a parameter code to its date-keyed samples, as returned under
// properties.parameter by NASA POWER.
type Series map[string]map[string]float64

// ClimateSummary is the trailing-window climate snapshot shown for a point.
type ClimateSummary struct {
	Temperature   float64 `json:"temperature"`   // mean, °C
	Precipitation float64 `json:"precipitation"` // total over the window, mm
	Radiation     float64 `json:"radiation"`     // mean, kWh/m²/day
	Humidity      float64 `json:"humidity"`      // mean, %
	WindSpeed     float64 `json:"windSpeed"`     // mean, m/s
}

// SummarizeDaily reduces a daily series to a ClimateSummary over the most
// recent window days that carry a temperature sample. Other parameters that
// are missing on those days contribute zero.
func SummarizeDaily(series Series, window int) (ClimateSummary, error) {
	if window <= 0 {
		window = DefaultWindowDays
	}
	temps, ok := series[ParamTemperature]
	if !ok || len(temps) == 0 {
		return ClimateSummary{}, fmt.Errorf("summarize daily: %w", ErrNoValidSamples)
	}

	dates := make([]string, 0, len(temps))
	for date, v := range temps {
		if isSample(v) {
			dates = append(dates, date)
		}
	}
	if len(dates) == 0 {
		return ClimateSummary{}, fmt.Errorf("summarize daily: %w", ErrNoValidSamples)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > window {
		dates = dates[:window]
	}

	var s ClimateSummary
	for _, date := range dates {
		s.Temperature += temps[date]
		s.Precipitation += sample(series, ParamPrecipitation, date)
		s.Radiation += sample(series, ParamRadiation, date)
		s.Humidity += sample(series, ParamHumidity, date)
		s.WindSpeed += sample(series, ParamWindSpeed, date)
	}
	n := float64(len(dates))
	s.Temperature /= n
	s.Radiation /= n
	s.Humidity /= n
	s.WindSpeed /= n
	return s, nil
}

func sample(series Series, param, date string) float64 {
	v, ok := series[param][date]
	if !ok || !isSample(v) {
		return 0
	}
	return v
}

func isSample(v float64) bool {
	return v != powerFillValue
}

// MonthNames are the month labels used by the app.
var MonthNames = []string{"Jan", "Fev", "Mar", "Abr", "Mai", "Jun", "Jul", "Ago", "Set", "Out", "Nov", "Dez"}

// Parameter is one monthly climate variable across years.
type Parameter struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
	// Data maps a year to twelve monthly values; nil marks a missing month.
	Data map[string][]*float64 `json:"data"`
}

// MonthlyClimate is the per-year monthly aggregate for a point.
type MonthlyClimate struct {
	Years      []string             `json:"years"`
	Months     []string             `json:"months"`
	Parameters map[string]Parameter `json:"parameters"`
}

type monthlyParam struct {
	key  string
	code string
	name string
	unit string
}

var monthlyParams = []monthlyParam{
	{key: "temperature", code: ParamTemperature, name: "Temperatura", unit: "°C"},
	{key: "precipitation", code: ParamPrecipitation, name: "Precipitação", unit: "mm"},
	{key: "radiation", code: ParamRadiation, name: "Radiação Solar", unit: "kWh/m²"},
	{key: "humidity", code: ParamHumidity, name: "Umidade Relativa", unit: "%"},
	{key: "windSpeed", code: ParamWindSpeed, name: "Velocidade do Vento", unit: "m/s"},
}

func newMonthlyClimate(years []string) MonthlyClimate {
	m := MonthlyClimate{
		Years:      years,
		Months:     MonthNames,
		Parameters: make(map[string]Parameter, len(monthlyParams)),
	}
	for _, p := range monthlyParams {
		data := make(map[string][]*float64, len(years))
		for _, y := range years {
			data[y] = make([]*float64, 12)
		}
		m.Parameters[p.key] = Parameter{Name: p.name, Unit: p.unit, Data: data}
	}
	return m
}

// MonthlyFromSeries builds a MonthlyClimate from a NASA POWER monthly series
// keyed YYYYMM. The annual aggregate (month 13) and fill values are skipped.
func MonthlyFromSeries(series Series) (MonthlyClimate, error) {
	temps := series[ParamTemperature]
	if len(temps) == 0 {
		return MonthlyClimate{}, fmt.Errorf("monthly from series: %w", ErrNoValidSamples)
	}

	yearSet := make(map[string]struct{})
	for key := range temps {
		if len(key) == 6 {
			yearSet[key[:4]] = struct{}{}
		}
	}
	if len(yearSet) == 0 {
		return MonthlyClimate{}, fmt.Errorf("monthly from series: %w", ErrNoValidSamples)
	}
	years := make([]string, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	sort.Strings(years)

	m := newMonthlyClimate(years)
	for _, p := range monthlyParams {
		values := series[p.code]
		for key, v := range values {
			if len(key) != 6 || !isSample(v) {
				continue
			}
			month, err := strconv.Atoi(key[4:])
			if err != nil || month < 1 || month > 12 {
				continue
			}
			year := key[:4]
			if _, ok := yearSet[year]; !ok {
				continue
			}
			m.Parameters[p.key].Data[year][month-1] = &v
		}
	}
	return m, nil
}
