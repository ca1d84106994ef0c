package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coordinates is a WGS-84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate reports whether the pair lies within WGS-84 bounds.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return errors.New("coordinates must be numbers")
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", c.Lon)
	}
	return nil
}

// Label formats the pair the way the app shows an unnamed location.
func (c Coordinates) Label() string {
	return fmt.Sprintf("%s, %s", formatFixed(c.Lat, 4), formatFixed(c.Lon, 4))
}

// Kind identifies a class of acquired data.
type Kind string

const (
	KindClimate    Kind = "climate"
	KindMonthly    Kind = "monthly"
	KindIndicators Kind = "indicators"
	KindNews       Kind = "news"
	KindPlace      Kind = "place"
)

// Kinds lists every data kind in display order.
var Kinds = []Kind{KindClimate, KindMonthly, KindIndicators, KindNews, KindPlace}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown data kind %q", s)
}

// Precision is the number of decimals used when keying this kind.
func (k Kind) Precision() int {
	if k == KindClimate {
		return 4
	}
	return 2
}

func (k Kind) keyPrefix() string {
	if k == KindClimate {
		return "nasa_data"
	}
	return string(k) + "_data"
}

// ResourceKey derives the cache key for a kind at the given coordinates.
func ResourceKey(kind Kind, c Coordinates) string {
	p := kind.Precision()
	return kind.keyPrefix() + "_" + formatFixed(c.Lat, p) + "_" + formatFixed(c.Lon, p)
}

// RoundedKey formats the point as "lat,lon" at prec decimals, folding
// negative zero the same way ResourceKey does.
func (c Coordinates) RoundedKey(prec int) string {
	return formatFixed(c.Lat, prec) + "," + formatFixed(c.Lon, prec)
}

// formatFixed formats v with prec decimals and folds negative zero into zero
// so that -0.00001 and 0.00001 share a key at 4 decimals.
func formatFixed(v float64, prec int) string {
	s := strconv.FormatFloat(v, 'f', prec, 64)
	if strings.HasPrefix(s, "-") && strings.Trim(s, "-0.") == "" {
		return s[1:]
	}
	return s
}
