package geo

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

// GoogleResolver geocodes with the Google Maps Geocoding API.
type GoogleResolver struct {
	client *maps.Client
	region string
}

func NewGoogleResolver(apiKey, region string) (*GoogleResolver, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleResolver{client: client, region: region}, nil
}

func (r *GoogleResolver) Resolve(ctx context.Context, location string) (*Place, error) {
	results, err := r.client.Geocode(ctx, &maps.GeocodingRequest{
		Address: location,
		Region:  r.region,
	})
	if err != nil {
		return nil, cerr.NewError(cerr.Unavailable, "geocoding unavailable", err)
	}
	if len(results) == 0 {
		return nil, cerr.NewError(cerr.NotFound, "location not found", fmt.Errorf("no geocoding result for %q", location))
	}
	best := results[0]
	return &Place{
		Address: best.FormattedAddress,
		Point:   Point{Lat: best.Geometry.Location.Lat, Lng: best.Geometry.Location.Lng},
	}, nil
}
