// README: Google Maps geocoding for destination addresses.
package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"pharmadispatch/internal/types"
)

var ErrNoResults = errors.New("address not found")

type Geocoder struct {
	client *maps.Client
	region string
}

// NewGeocoder builds a client biased to region (ccTLD, e.g. "cl"). Extra
// options are passed to the maps client.
func NewGeocoder(apiKey, region string, opts ...maps.ClientOption) (*Geocoder, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Geocoder{client: client, region: strings.ToLower(region)}, nil
}

// Geocode returns the first match for address.
func (g *Geocoder) Geocode(ctx context.Context, address string) (*types.Point, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrNoResults
	}
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:  address,
		Region:   g.region,
		Language: "es",
	})
	if err != nil {
		return nil, fmt.Errorf("geocoding api error: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	loc := results[0].Geometry.Location
	p := types.Point{Lat: loc.Lat, Lng: loc.Lng}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
