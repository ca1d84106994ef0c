package domain

import "context"

// Place contains location data returned by a reverse geocoding provider.
type Place struct {
	DisplayName string `json:"displayName"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"countryCode,omitempty"` // ISO 3166-1 alpha-2, upper case
}

// Label returns the short name the app shows for a place: "city, state" when
// both are known, otherwise whichever is known, otherwise the display name.
func (p Place) Label() string {
	switch {
	case p.City != "" && p.State != "":
		return p.City + ", " + p.State
	case p.City != "":
		return p.City
	case p.State != "":
		return p.State
	default:
		return p.DisplayName
	}
}

// Empty reports whether the provider returned nothing usable.
func (p Place) Empty() bool {
	return p.DisplayName == "" && p.City == "" && p.State == "" && p.Country == ""
}

// Geocoder resolves coordinates to place details.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (Place, error)
}
