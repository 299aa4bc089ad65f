// Package crs converts between the Dutch national grid (RD New, EPSG:28992) and WGS84.
package crs

import (
	"math"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
)

// Projection converts between a source CRS and WGS84 longitude/latitude in degrees.
type Projection interface {
	ToWGS84(x, y float64) (lon, lat float64)
	FromWGS84(lon, lat float64) (x, y float64)
	EPSG() int
}

// ForEPSG returns the projection for code, or nil when unsupported.
func ForEPSG(epsg int) Projection {
	switch epsg {
	case 28992:
		return RD
	case 4326:
		return identity{}
	default:
		return nil
	}
}

type identity struct{}

func (identity) ToWGS84(x, y float64) (float64, float64) { return x, y }
func (identity) FromWGS84(lon, lat float64) (float64, float64) { return lon, lat }
func (identity) EPSG() int { return 4326 }

// RD is the RD New grid: oblique stereographic on Bessel 1841 with a
// seven-parameter shift to WGS84.
var RD = NewRDNew()

// ToGeographic converts an RD coordinate to WGS84.
func ToGeographic(p model.ProjectedPoint) model.GeoPoint {
	lon, lat := RD.ToWGS84(p.X, p.Y)
	return model.GeoPoint{Lon: lon, Lat: lat}
}

// ToProjected converts a WGS84 coordinate to RD.
func ToProjected(p model.GeoPoint) model.ProjectedPoint {
	x, y := RD.FromWGS84(p.Lon, p.Lat)
	return model.ProjectedPoint{X: x, Y: y}
}

// BBoxToGeographic converts the lower-left and upper-right RD corners.
func BBoxToGeographic(b model.ProjectedBBox) model.BBox {
	sw := ToGeographic(model.ProjectedPoint{X: b.MinX, Y: b.MinY})
	ne := ToGeographic(model.ProjectedPoint{X: b.MaxX, Y: b.MaxY})
	return model.BBox{West: sw.Lon, South: sw.Lat, East: ne.Lon, North: ne.Lat}
}

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
	sec2rad = deg2rad / 3600
)
