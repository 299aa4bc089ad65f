package crs

import (
	"math"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
)

// MetersPerDegreeLat is the flat-earth north-south scale around the study area.
const MetersPerDegreeLat = 110540.0

// MetersPerDegreeLon returns the flat-earth east-west scale at lat degrees.
func MetersPerDegreeLon(lat float64) float64 {
	return 111320.0 * math.Cos(lat*deg2rad)
}

// LocalOffset returns the east/north meter offset of p from origin.
// Only valid for small distances from origin.
func LocalOffset(p, origin model.GeoPoint) (dx, dy float64) {
	return (p.Lon - origin.Lon) * MetersPerDegreeLon(origin.Lat),
		(p.Lat - origin.Lat) * MetersPerDegreeLat
}

// FromLocalOffset is the inverse of LocalOffset.
func FromLocalOffset(dx, dy float64, origin model.GeoPoint) model.GeoPoint {
	return model.GeoPoint{
		Lon: origin.Lon + dx/MetersPerDegreeLon(origin.Lat),
		Lat: origin.Lat + dy/MetersPerDegreeLat,
	}
}
