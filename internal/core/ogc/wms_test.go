package ogc

import (
	"math"
	"net/url"
	"strings"
	"testing"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
)

func TestBuildGetMapParams(t *testing.T) {
	bounds := model.BBox{West: 3.6, South: 51.49, East: 3.62, North: 51.51}
	v := BuildGetMapParams(GetMapRequest{
		Layers:      "pet-version-1",
		Transparent: true,
		Bounds:      bounds,
		Width:       2048,
		Height:      2048,
		CacheBust:   "3",
	})
	assertHas := func(k, want string) {
		if got := v.Get(k); got != want {
			t.Fatalf("param %q got %q want %q", k, got, want)
		}
	}
	assertHas("SERVICE", "WMS")
	assertHas("VERSION", "1.3.0")
	assertHas("REQUEST", "GetMap")
	assertHas("LAYERS", "pet-version-1")
	assertHas("STYLES", "default")
	assertHas("FORMAT", "image/png")
	assertHas("TRANSPARENT", "TRUE")
	assertHas("CRS", "EPSG:4326")
	assertHas("BBOX", "51.49,3.6,51.51,3.62")
	assertHas("WIDTH", "2048")
	assertHas("HEIGHT", "2048")
	assertHas("_ts", "3")

	// the descriptor keeps west,south,east,north
	if bounds.West != 3.6 || bounds.South != 51.49 || bounds.East != 3.62 || bounds.North != 51.51 {
		t.Fatalf("bounds mutated: %+v", bounds)
	}
}

func TestBuildGetMapParams_NoCacheBustAndOpaque(t *testing.T) {
	v := BuildGetMapParams(GetMapRequest{Layers: "wind", Styles: "official", Format: "image/webp"})
	if _, ok := v["_ts"]; ok {
		t.Fatal("_ts must be absent without a cache buster")
	}
	if v.Get("TRANSPARENT") != "FALSE" || v.Get("STYLES") != "official" || v.Get("FORMAT") != "image/webp" {
		t.Fatalf("unexpected params: %v", v)
	}
}

func TestBuildGetFeatureInfoParams(t *testing.T) {
	v := BuildGetFeatureInfoParams(FeatureInfoRequest{
		Layer:  "pet-version-1",
		Bounds: model.BBox{West: 0, South: 0, East: 10, North: 10},
		Width:  100,
		Height: 200,
		I:      50,
		J:      100,
	})
	for k, want := range map[string]string{
		"REQUEST":       "GetFeatureInfo",
		"LAYERS":        "pet-version-1",
		"QUERY_LAYERS":  "pet-version-1",
		"STYLES":        "default",
		"BBOX":          "0,0,10,10",
		"I":             "50",
		"J":             "100",
		"INFO_FORMAT":   "application/json",
		"FEATURE_COUNT": "1",
	} {
		if got := v.Get(k); got != want {
			t.Fatalf("param %q got %q want %q", k, got, want)
		}
	}
}

func TestComposeURL(t *testing.T) {
	p := url.Values{}
	p.Set("A", "1")
	if got := ComposeURL("/backend/qgis/wms", p); got != "/backend/qgis/wms?A=1" {
		t.Fatalf("got %q", got)
	}
	if got := ComposeURL("/backend/qgis/wms?", p); got != "/backend/qgis/wms?A=1" {
		t.Fatalf("got %q", got)
	}
	if _, err := url.Parse(ComposeURL("http://localhost:8000/qgis/wms", p)); err != nil {
		t.Fatalf("invalid url: %v", err)
	}
}

func TestPixelFor(t *testing.T) {
	b := model.BBox{West: 0, South: 0, East: 10, North: 10}
	i, j, ok := PixelFor(b, 100, 200, model.GeoPoint{Lon: 5, Lat: 5})
	if !ok || i != 50 || j != 100 {
		t.Fatalf("PixelFor=(%d,%d,%v) want (50,100,true)", i, j, ok)
	}
	i, j, ok = PixelFor(b, 100, 200, model.GeoPoint{Lon: 0, Lat: 10})
	if !ok || i != 0 || j != 0 {
		t.Fatalf("corner PixelFor=(%d,%d,%v)", i, j, ok)
	}
	if _, _, ok := PixelFor(b, 100, 200, model.GeoPoint{Lon: 11, Lat: 5}); ok {
		t.Fatal("expected out of bounds")
	}
}

func TestTileBounds(t *testing.T) {
	tb := TileBounds(0, 0, 0)
	if math.Abs(tb.West+180) > 1e-9 || math.Abs(tb.East-180) > 1e-9 {
		t.Fatalf("z0 lon range %+v", tb)
	}
	maxLat := math.Atan(math.Sinh(math.Pi)) * 180 / math.Pi
	if math.Abs(tb.North-maxLat) > 1e-9 || math.Abs(tb.South+maxLat) > 1e-9 {
		t.Fatalf("z0 lat range %+v want ±%v", tb, maxLat)
	}

	// tile2long / tile2lat for an arbitrary tile
	x, y, z := uint32(8372), uint32(5410), 14
	n := math.Exp2(float64(z))
	west := float64(x)/n*360 - 180
	north := math.Atan(math.Sinh(math.Pi-2*math.Pi*float64(y)/n)) * 180 / math.Pi
	tb = TileBounds(x, y, z)
	if math.Abs(tb.West-west) > 1e-9 || math.Abs(tb.North-north) > 1e-9 {
		t.Fatalf("TileBounds=%+v want west=%v north=%v", tb, west, north)
	}
}

func TestTilesCovering(t *testing.T) {
	b := model.BBox{West: 3.609725, South: 51.4979978, East: 3.6170983, North: 51.5025997}
	tiles := TilesCovering(b, 16)
	if len(tiles) == 0 || len(tiles) > 9 {
		t.Fatalf("unexpected tile count %d", len(tiles))
	}
	for _, tl := range tiles {
		tb := model.BBoxFromBound(tl.Bound())
		if tb.East < b.West || tb.West > b.East || tb.North < b.South || tb.South > b.North {
			t.Fatalf("tile %v does not intersect %v", tl, b)
		}
	}
	if !strings.HasPrefix(WireBBox(b), "51.4979978,") {
		t.Fatalf("WireBBox=%q", WireBBox(b))
	}
}
