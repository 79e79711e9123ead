package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinate is returned for non-finite or out-of-range degrees
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Point is a WGS84 coordinate in decimal degrees
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Circle is a circular region around a center point
type Circle struct {
	Center       Point
	RadiusMeters float64
}

// Validate checks that the point is finite and inside lat [-90,90], lon [-180,180]
func (p Point) Validate() error {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90,90]", ErrInvalidCoordinate, p.Latitude)
	}
	if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180,180]", ErrInvalidCoordinate, p.Longitude)
	}
	return nil
}

// HaversineDistanceMeters returns the great-circle distance between a and b in meters
func HaversineDistanceMeters(a, b Point) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}

	lat1Rad := toRad(a.Latitude)
	lat2Rad := toRad(b.Latitude)
	deltaLat := toRad(b.Latitude - a.Latitude)
	deltaLon := toRad(b.Longitude - a.Longitude)

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c, nil
}

// IsWithinGeofence reports whether point lies inside or on the boundary of fence
func IsWithinGeofence(point Point, fence Circle) (bool, error) {
	d, err := HaversineDistanceMeters(point, fence.Center)
	if err != nil {
		return false, err
	}
	return d <= fence.RadiusMeters, nil
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
