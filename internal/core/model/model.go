// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// GeoPoint is a WGS84 longitude/latitude pair in degrees.
type GeoPoint struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// ProjectedPoint is an RD New (EPSG:28992) easting/northing in meters.
type ProjectedPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BBox is a geographic extent in degrees.
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// String representation as west,south,east,north
func (b BBox) String() string {
	return fmt.Sprintf("%.7f,%.7f,%.7f,%.7f", b.West, b.South, b.East, b.North)
}

func (b BBox) Valid() bool {
	return b.East > b.West && b.North > b.South
}

// Contains reports whether p lies inside b, edges included.
func (b BBox) Contains(p GeoPoint) bool {
	return b.Bound().Contains(orb.Point{p.Lon, p.Lat})
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.West, b.South}, Max: orb.Point{b.East, b.North}}
}

func BBoxFromBound(bd orb.Bound) BBox {
	return BBox{West: bd.Min[0], South: bd.Min[1], East: bd.Max[0], North: bd.Max[1]}
}

// ProjectedBBox is an RD extent in meters.
type ProjectedBBox struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// String renders minX,minY,maxX,maxY as used by the object endpoints
func (b ProjectedBBox) String() string {
	parts := []float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
	out := make([]string, len(parts))
	for i, v := range parts {
		out[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(out, ",")
}

// ParseProjectedBBox parses "minX,minY,maxX,maxY".
func ParseProjectedBBox(s string) (ProjectedBBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return ProjectedBBox{}, fmt.Errorf("expected 4 comma-separated values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return ProjectedBBox{}, fmt.Errorf("value %d: %w", i, err)
		}
		v[i] = f
	}
	if v[2] <= v[0] || v[3] <= v[1] {
		return ProjectedBBox{}, fmt.Errorf("coordinates must satisfy maxX>minX and maxY>minY")
	}
	return ProjectedBBox{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}, nil
}

// Position is lon, lat, elevation.
type Position [3]float64

func (p Position) Point() GeoPoint { return GeoPoint{Lon: p[0], Lat: p[1]} }

// Key is the exact textual identity of a position.
func (p Position) Key() string {
	return strconv.FormatFloat(p[0], 'g', -1, 64) + "," +
		strconv.FormatFloat(p[1], 'g', -1, 64) + "," +
		strconv.FormatFloat(p[2], 'g', -1, 64)
}

// ObjectInstance is one placed heat-stress measure.
type ObjectInstance struct {
	ID         string   `json:"id"`
	ObjectType string   `json:"objectType"`
	Position   Position `json:"position"`
	Scale      float64  `json:"scale"`
	Height     *float64 `json:"height,omitempty"`
	Radius     *float64 `json:"radius,omitempty"`
	Geometry   string   `json:"geometry,omitempty"`
}

// MeasureType is a catalog entry describing a placeable object kind.
type MeasureType struct {
	ID       int        `json:"id"`
	Name     string     `json:"name"`
	Model    string     `json:"model"`
	Scale    float64    `json:"scale"`
	Rotation [3]float64 `json:"rotation"`
	Icon     string     `json:"icon,omitempty"`
	Height   *float64   `json:"height,omitempty"`
	Radius   *float64   `json:"radius,omitempty"`
	Geometry string     `json:"geometry,omitempty"`
}

// OverlaySelection names the active WMS layer and style.
type OverlaySelection struct {
	LayerID string `json:"layerId"`
	StyleID string `json:"styleId"`
}

func (s OverlaySelection) Empty() bool { return strings.TrimSpace(s.LayerID) == "" }

// FeatureInfoResult is the value under a queried overlay pixel.
type FeatureInfoResult struct {
	Lon  float64  `json:"lon"`
	Lat  float64  `json:"lat"`
	Band *float64 `json:"band"`
}

func Float(v float64) *float64 { return &v }
