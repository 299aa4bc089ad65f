// Package layers defines the renderable layer descriptors handed to the map renderer.
package layers

import (
	"encoding/json"
	"image"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
)

type Kind string

const (
	KindTile        Kind = "tile"
	KindBitmap      Kind = "bitmap"
	KindTiledBitmap Kind = "tiled-bitmap"
	KindMesh        Kind = "mesh"
	KindInstanced   Kind = "instanced"
	KindPolygon     Kind = "polygon"
)

// Well-known layer ids.
const (
	BasemapID         = "raster-tiles"
	BuildingsID       = "buildings-obj"
	StaticObjectsID   = "objects"
	UserObjectsPrefix = "user-objects"
	HighlightID       = "building-highlight"
)

// CoordinateMeterOffsets marks mesh positions as meters relative to the origin.
const CoordinateMeterOffsets = "meter-offsets"

// Descriptor is one renderable layer; the concrete type is determined by Kind.
type Descriptor interface {
	LayerID() string
	Kind() Kind
}

type Color [4]int

type Tile struct {
	ID          string `json:"id"`
	URLTemplate string `json:"urlTemplate"`
	TileSize    int    `json:"tileSize"`
	MinZoom     int    `json:"minZoom"`
	MaxZoom     int    `json:"maxZoom"`
}

func (l *Tile) LayerID() string { return l.ID }
func (*Tile) Kind() Kind { return KindTile }

// Bitmap is a georeferenced image. Pixels stay server side and are
// addressed by RasterKey.
type Bitmap struct {
	ID        string      `json:"id"`
	Bounds    model.BBox  `json:"bounds"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	RasterKey string      `json:"rasterKey"`
	Opacity   float64     `json:"opacity"`
	Pickable  bool        `json:"pickable"`
	Image     *image.RGBA `json:"-"`
}

func (l *Bitmap) LayerID() string { return l.ID }
func (*Bitmap) Kind() Kind { return KindBitmap }

type TiledBitmap struct {
	ID       string    `json:"id"`
	TileSize int       `json:"tileSize"`
	MinZoom  int       `json:"minZoom"`
	MaxZoom  int       `json:"maxZoom"`
	Tiles    []*Bitmap `json:"tiles"`
}

func (l *TiledBitmap) LayerID() string { return l.ID }
func (*TiledBitmap) Kind() Kind { return KindTiledBitmap }

// RasterByKey finds the bitmap with the given raster key in d, looking
// through tiles of a tiled layer.
func RasterByKey(d Descriptor, key string) (*Bitmap, bool) {
	switch l := d.(type) {
	case *Bitmap:
		if l.RasterKey == key && l.Image != nil {
			return l, true
		}
	case *TiledBitmap:
		for _, t := range l.Tiles {
			if t != nil && t.RasterKey == key && t.Image != nil {
				return t, true
			}
		}
	}
	return nil, false
}

type Mesh struct {
	ID               string         `json:"id"`
	Origin           model.GeoPoint `json:"origin"`
	CoordinateSystem string         `json:"coordinateSystem"`
	Positions        []float32      `json:"positions"`
	Indices          []uint32       `json:"indices,omitempty"`
	Color            Color          `json:"color"`
	Pickable         bool           `json:"pickable"`
}

func (l *Mesh) LayerID() string { return l.ID }
func (*Mesh) Kind() Kind { return KindMesh }

type Instance struct {
	ID         string         `json:"id"`
	ObjectType string         `json:"objectType"`
	Position   model.Position `json:"position"`
	Scale      float64        `json:"scale"`
}

// Instanced draws one model at many positions.
type Instanced struct {
	ID          string     `json:"id"`
	Model       string     `json:"model"`
	SizeScale   float64    `json:"sizeScale"`
	Color       Color      `json:"color"`
	Orientation [3]float64 `json:"orientation"`
	Pickable    bool       `json:"pickable"`
	Instances   []Instance `json:"instances"`
}

func (l *Instanced) LayerID() string { return l.ID }
func (*Instanced) Kind() Kind { return KindInstanced }

type Polygon struct {
	ID        string         `json:"id"`
	Rings     [][][2]float64 `json:"rings"`
	Extruded  bool           `json:"extruded"`
	Elevation float64        `json:"elevation"`
	FillColor Color          `json:"fillColor"`
	LineColor Color          `json:"lineColor"`
	Pickable  bool           `json:"pickable"`
}

func (l *Polygon) LayerID() string { return l.ID }
func (*Polygon) Kind() Kind { return KindPolygon }

// Stack is an ordered list of layers, bottom first.
type Stack []Descriptor

type envelope struct {
	Kind  Kind       `json:"kind"`
	Layer Descriptor `json:"layer"`
}

func (s Stack) MarshalJSON() ([]byte, error) {
	out := make([]envelope, 0, len(s))
	for _, d := range s {
		out = append(out, envelope{Kind: d.Kind(), Layer: d})
	}
	return json.Marshal(out)
}

// IDs lists the layer ids in order.
func (s Stack) IDs() []string {
	ids := make([]string, len(s))
	for i, d := range s {
		ids[i] = d.LayerID()
	}
	return ids
}

func (s Stack) Find(id string) (Descriptor, bool) {
	for _, d := range s {
		if d.LayerID() == id {
			return d, true
		}
	}
	return nil, false
}
