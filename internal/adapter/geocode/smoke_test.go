//go:build geocode

package geocode

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/agrodecision-cache/internal/observability"
)

// These tests hit the real geocoding services. The Mapbox one needs a valid
// MAPBOX_TOKEN env var.
// Run with: go test -tags=geocode ./internal/adapter/geocode/ -v -count=1

func TestSmoke_Nominatim(t *testing.T) {
	c := NewNominatim("agrodecision-cache-smoke/1.0", 1, 10*time.Second, observability.NewMetricsForTesting(), observability.DiscardLogger())

	place, err := c.ReverseGeocode(context.Background(), -15.7939, -47.8828)
	require.NoError(t, err)
	assert.Equal(t, "BR", place.CountryCode)
	assert.NotEmpty(t, place.State)
	t.Logf("Brasília: %+v", place)
}

func TestSmoke_Mapbox(t *testing.T) {
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	c := NewMapbox(token, 10*time.Second, observability.NewMetricsForTesting(), observability.DiscardLogger())

	place, err := c.ReverseGeocode(context.Background(), -15.7939, -47.8828)
	require.NoError(t, err)
	assert.Equal(t, "BR", place.CountryCode)
	assert.NotEmpty(t, place.City)
	t.Logf("Brasília: %+v", place)
}
