// Package domain models the agricultural data served to the AgroDecision app:
// climate summaries, monthly aggregates, regional indicators and news for a
// point picked on the map.
//
// # Data Sources
//
// Climate figures come from the NASA POWER point API
// (https://power.larc.nasa.gov/docs/services/api/temporal/). Both the daily and
// monthly endpoints return parameters as date-keyed maps under
// properties.parameter:
//
//	T2M                temperature at 2 m, °C
//	PRECTOTCORR        corrected precipitation, mm/day
//	ALLSKY_SFC_SW_DWN  all-sky surface shortwave irradiance, kWh/m²/day
//	RH2M               relative humidity at 2 m, %
//	WS2M               wind speed at 2 m, m/s
//
// Daily keys are YYYYMMDD, monthly keys are YYYYMM where month 13 carries the
// annual aggregate and is ignored. Missing samples use the fill value -999.
//
// Region names come from reverse geocoding (Nominatim or Mapbox), indicators
// from the World Bank API, and news from GNews or an RSS search feed.
//
// # Cache Keys
//
// Every acquired value is persisted under a key built from its kind and the
// request coordinates rounded to a fixed number of decimals:
//
//	nasa_data_<lat>_<lon>        4 decimals (≈11 m)
//	monthly_data_<lat>_<lon>     2 decimals (≈1.1 km)
//	indicators_data_<lat>_<lon>  2 decimals
//	news_data_<lat>_<lon>        2 decimals
//	place_data_<lat>_<lon>       2 decimals
//
// Keys are pure functions of their input, so repeated requests for the same
// point always hit the same entry. See [ResourceKey].
//
// # Synthetic Data
//
// When an upstream is unreachable or returns a malformed payload the caller
// substitutes plausible values from a [Synthesizer]. Climate values are biased
// by latitude (base temperature 25 - |lat|/3 °C) so the tropics stay warmer
// than the poles.
package domain
