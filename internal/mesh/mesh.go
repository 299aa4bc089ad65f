// Package mesh places a building mesh with projected (RD New) vertex
// coordinates onto the map.
package mesh

import (
	"errors"
	"math"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/crs"
	"github.com/mohammed-shakir/heatstress-map/internal/layers"
)

// AttrPosition is the vertex position attribute (x, y, z triples).
const AttrPosition = "POSITION"

// DefaultGroundDatum is the elevation of street level in the source dataset.
const DefaultGroundDatum = 4.0

// ErrNoPositions means the mesh lacks a position attribute.
var ErrNoPositions = errors.New("mesh has no POSITION attribute")

// Mesh is a loaded, untransformed mesh.
type Mesh struct {
	Attributes map[string][]float32
	Indices    []uint32
}

type Options struct {
	GroundDatum float64
	// HeightScale multiplies grounded heights; 0 flattens the mesh.
	HeightScale float64
	// Projection maps vertex x/y to WGS84. Defaults to RD New.
	Projection crs.Projection
}

func DefaultOptions() Options {
	return Options{GroundDatum: DefaultGroundDatum, HeightScale: 1, Projection: crs.RD}
}

// Geometry is a mesh expressed in meter offsets from Origin.
type Geometry struct {
	Origin    model.GeoPoint
	Positions []float32
	Indices   []uint32
}

// Centroid returns the midpoint of the per-axis extremes of xyz triples.
func Centroid(positions []float32) [3]float64 {
	if len(positions) < 3 {
		return [3]float64{}
	}
	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for i := 0; i+2 < len(positions); i += 3 {
		for a := range 3 {
			v := float64(positions[i+a])
			lo[a] = math.Min(lo[a], v)
			hi[a] = math.Max(hi[a], v)
		}
	}
	return [3]float64{(lo[0] + hi[0]) / 2, (lo[1] + hi[1]) / 2, (lo[2] + hi[2]) / 2}
}

// Anchor projects the mesh centroid to WGS84.
func Anchor(m *Mesh, proj crs.Projection) (model.GeoPoint, error) {
	src, err := positions(m)
	if err != nil {
		return model.GeoPoint{}, err
	}
	if proj == nil {
		proj = crs.RD
	}
	c := Centroid(src)
	lon, lat := proj.ToWGS84(c[0], c[1])
	return model.GeoPoint{Lon: lon, Lat: lat}, nil
}

// Georeference converts every vertex to meter offsets from anchor and
// grounds z: z' = (z - GroundDatum) * HeightScale. m is not modified.
func Georeference(m *Mesh, anchor model.GeoPoint, opts Options) (*Geometry, error) {
	src, err := positions(m)
	if err != nil {
		return nil, err
	}
	proj := opts.Projection
	if proj == nil {
		proj = crs.RD
	}

	out := make([]float32, len(src))
	for i := 0; i+2 < len(src); i += 3 {
		lon, lat := proj.ToWGS84(float64(src[i]), float64(src[i+1]))
		dx, dy := crs.LocalOffset(model.GeoPoint{Lon: lon, Lat: lat}, anchor)
		out[i] = float32(dx)
		out[i+1] = float32(dy)
		out[i+2] = float32((float64(src[i+2]) - opts.GroundDatum) * opts.HeightScale)
	}

	var idx []uint32
	if len(m.Indices) > 0 {
		idx = append([]uint32(nil), m.Indices...)
	}
	return &Geometry{Origin: anchor, Positions: out, Indices: idx}, nil
}

func positions(m *Mesh) ([]float32, error) {
	if m == nil {
		return nil, ErrNoPositions
	}
	src, ok := m.Attributes[AttrPosition]
	if !ok {
		return nil, ErrNoPositions
	}
	return src, nil
}

// Layer builds the renderable descriptor for g.
func Layer(g *Geometry) *layers.Mesh {
	return &layers.Mesh{
		ID:               layers.BuildingsID,
		Origin:           g.Origin,
		CoordinateSystem: layers.CoordinateMeterOffsets,
		Positions:        g.Positions,
		Indices:          g.Indices,
		Color:            layers.Color{180, 180, 180, 255},
		Pickable:         true,
	}
}
