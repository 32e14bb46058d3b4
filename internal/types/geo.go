// README: GPS point value object and great-circle distance helpers.
package types

import (
	"errors"
	"math"
)

const earthRadiusKm = 6371.0

var ErrCoordinateRange = errors.New("coordinates out of range")

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks lat in [-90, 90] and lng in [-180, 180].
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return ErrCoordinateRange
	}
	return nil
}

// DistanceKm returns the haversine distance between two points.
func (p Point) DistanceKm(q Point) float64 {
	return haversineKm(p.Lat, p.Lng, q.Lat, q.Lng)
}

// PointFromPair builds a point from an optional lat/lng pair. Both or neither
// must be present.
func PointFromPair(lat, lng *float64) (*Point, error) {
	if lat == nil && lng == nil {
		return nil, nil
	}
	if lat == nil || lng == nil {
		return nil, errors.New("latitude and longitude must be given together")
	}
	p := Point{Lat: *lat, Lng: *lng}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
