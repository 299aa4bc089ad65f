// Package ogc builds OGC WMS 1.3.0 request parameters.
package ogc

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
)

const (
	Version           = "1.3.0"
	CRS               = "EPSG:4326"
	DefaultStyle      = "default"
	DefaultFormat     = "image/png"
	FeatureInfoFormat = "application/json"
	DefaultTileSize   = 256
)

type GetMapRequest struct {
	Layers      string
	Styles      string
	Format      string
	Transparent bool
	Bounds      model.BBox
	Width       int
	Height      int
	// CacheBust is sent as _ts when non-empty.
	CacheBust string
}

// WireBBox renders bounds in EPSG:4326 axis order for WMS 1.3.0:
// south,west,north,east.
func WireBBox(b model.BBox) string {
	return ftoa(b.South) + "," + ftoa(b.West) + "," + ftoa(b.North) + "," + ftoa(b.East)
}

func BuildGetMapParams(r GetMapRequest) url.Values {
	styles := r.Styles
	if strings.TrimSpace(styles) == "" {
		styles = DefaultStyle
	}
	format := r.Format
	if strings.TrimSpace(format) == "" {
		format = DefaultFormat
	}
	transparent := "FALSE"
	if r.Transparent {
		transparent = "TRUE"
	}

	params := url.Values{}
	params.Set("SERVICE", "WMS")
	params.Set("VERSION", Version)
	params.Set("REQUEST", "GetMap")
	params.Set("LAYERS", r.Layers)
	params.Set("STYLES", styles)
	params.Set("FORMAT", format)
	params.Set("TRANSPARENT", transparent)
	params.Set("CRS", CRS)
	params.Set("BBOX", WireBBox(r.Bounds))
	params.Set("WIDTH", strconv.Itoa(r.Width))
	params.Set("HEIGHT", strconv.Itoa(r.Height))
	if r.CacheBust != "" {
		params.Set("_ts", r.CacheBust)
	}
	return params
}

type FeatureInfoRequest struct {
	Layer  string
	Style  string
	Bounds model.BBox
	Width  int
	Height int
	I      int
	J      int
}

func BuildGetFeatureInfoParams(r FeatureInfoRequest) url.Values {
	style := r.Style
	if strings.TrimSpace(style) == "" {
		style = DefaultStyle
	}
	params := url.Values{}
	params.Set("SERVICE", "WMS")
	params.Set("VERSION", Version)
	params.Set("REQUEST", "GetFeatureInfo")
	params.Set("LAYERS", r.Layer)
	params.Set("QUERY_LAYERS", r.Layer)
	params.Set("STYLES", style)
	params.Set("CRS", CRS)
	params.Set("BBOX", WireBBox(r.Bounds))
	params.Set("WIDTH", strconv.Itoa(r.Width))
	params.Set("HEIGHT", strconv.Itoa(r.Height))
	params.Set("I", strconv.Itoa(r.I))
	params.Set("J", strconv.Itoa(r.J))
	params.Set("INFO_FORMAT", FeatureInfoFormat)
	params.Set("FEATURE_COUNT", "1")
	return params
}

// ComposeURL appends params to base, adding '?' unless base already ends with it.
func ComposeURL(base string, params url.Values) string {
	if strings.HasSuffix(base, "?") {
		return base + params.Encode()
	}
	return base + "?" + params.Encode()
}

// PixelFor maps p to the image column/row of a width x height raster covering b.
// ok is false when p lies outside b.
func PixelFor(b model.BBox, width, height int, p model.GeoPoint) (i, j int, ok bool) {
	if !b.Valid() || !b.Contains(p) {
		return 0, 0, false
	}
	i = int(math.Round((p.Lon - b.West) / (b.East - b.West) * float64(width)))
	j = int(math.Round((b.North - p.Lat) / (b.North - b.South) * float64(height)))
	return i, j, true
}

// TileBounds returns the geographic extent of slippy-map tile x/y at zoom z.
func TileBounds(x, y uint32, z int) model.BBox {
	return model.BBoxFromBound(maptile.New(x, y, maptile.Zoom(z)).Bound())
}

// TilesCovering lists the tiles at zoom z intersecting b.
func TilesCovering(b model.BBox, z int) []maptile.Tile {
	zoom := maptile.Zoom(z)
	minTile := maptile.At(b.Bound().Min, zoom)
	maxTile := maptile.At(b.Bound().Max, zoom)

	minX, maxX := minTile.X, maxTile.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := minTile.Y, maxTile.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	var tiles []maptile.Tile
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, maptile.New(x, y, zoom))
		}
	}
	return tiles
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
