// Package geo resolves free-text locations and measures distances between
// requests and responders.
package geo

import (
	"context"
	"math"
)

type Point struct {
	Lat float64 `yaml:"lat" json:"lat"`
	Lng float64 `yaml:"lng" json:"lng"`
}

// Place is a resolved location.
type Place struct {
	Address string
	Point   Point
}

// Resolver turns a free-text location into coordinates.
type Resolver interface {
	Resolve(ctx context.Context, location string) (*Place, error)
}

// Extractor finds a location mention in free text. It returns "" when none is found.
type Extractor interface {
	ExtractLocation(ctx context.Context, text string) (string, error)
}

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
