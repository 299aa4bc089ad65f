package mesh

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/crs"
	"github.com/mohammed-shakir/heatstress-map/internal/layers"
)

func TestCentroid_MidpointOfExtremes(t *testing.T) {
	c := Centroid([]float32{0, 0, 0, 10, 0, 0, 0, 0, 20})
	if c != [3]float64{5, 0, 10} {
		t.Fatalf("centroid=%v want [5 0 10]", c)
	}
}

func TestCentroid_Symmetric(t *testing.T) {
	c := Centroid([]float32{0, 0, 5, 10, 10, 15})
	require.Equal(t, [3]float64{5, 5, 10}, c)
}

func TestGeoreference_MeterOffsetsAndGrounding(t *testing.T) {
	src := []float32{0, 0, 4, 1, 0, 5, 0, 1, 6}
	m := &Mesh{Attributes: map[string][]float32{AttrPosition: src}, Indices: []uint32{0, 1, 2}}
	opts := Options{GroundDatum: 4, HeightScale: 2, Projection: crs.ForEPSG(4326)}

	g, err := Georeference(m, model.GeoPoint{}, opts)
	require.NoError(t, err)

	want := []float32{0, 0, 0, 111320, 0, 2, 0, 110540, 4}
	require.Len(t, g.Positions, len(want))
	for i := range want {
		require.InDelta(t, want[i], g.Positions[i], 1e-3, "component %d", i)
	}

	// input untouched
	require.Equal(t, []float32{0, 0, 4, 1, 0, 5, 0, 1, 6}, src)
	g.Indices[0] = 99
	require.Equal(t, uint32(0), m.Indices[0])
}

func TestGeoreference_RDAnchorAtCentroid(t *testing.T) {
	// a 100 m square around Amersfoort
	src := []float32{154950, 462950, 4, 155050, 462950, 4, 155050, 463050, 24, 154950, 463050, 24}
	m := &Mesh{Attributes: map[string][]float32{AttrPosition: src}}

	anchor, err := Anchor(m, nil)
	require.NoError(t, err)
	require.InDelta(t, 5.38720621, anchor.Lon, 2e-5)
	require.InDelta(t, 52.15517440, anchor.Lat, 2e-5)

	g, err := Georeference(m, anchor, DefaultOptions())
	require.NoError(t, err)
	require.InDelta(t, -50, g.Positions[0], 1)
	require.InDelta(t, -50, g.Positions[1], 1)
	require.InDelta(t, 0, g.Positions[2], 1e-6)
	require.InDelta(t, 50, g.Positions[6], 1)
	require.InDelta(t, 50, g.Positions[7], 1)
	require.InDelta(t, 20, g.Positions[8], 1e-6)
}

func TestGeoreference_ZeroHeightScaleFlattens(t *testing.T) {
	m := &Mesh{Attributes: map[string][]float32{AttrPosition: {0, 0, 4, 1, 0, 12}}}
	opts := Options{GroundDatum: 4, Projection: crs.ForEPSG(4326)}

	g, err := Georeference(m, model.GeoPoint{}, opts)
	require.NoError(t, err)
	require.Zero(t, g.Positions[2])
	require.Zero(t, g.Positions[5])
	require.Equal(t, 1.0, DefaultOptions().HeightScale)
}

func TestGeoreference_MissingPositions(t *testing.T) {
	_, err := Georeference(&Mesh{Attributes: map[string][]float32{}}, model.GeoPoint{}, DefaultOptions())
	if !errors.Is(err, ErrNoPositions) {
		t.Fatalf("err=%v want ErrNoPositions", err)
	}
	if _, err := Georeference(nil, model.GeoPoint{}, DefaultOptions()); !errors.Is(err, ErrNoPositions) {
		t.Fatalf("nil mesh err=%v", err)
	}
}

func TestLayer(t *testing.T) {
	g := &Geometry{Origin: model.GeoPoint{Lon: 3.6, Lat: 51.5}, Positions: []float32{0, 0, 0}}
	l := Layer(g)
	if l.ID != layers.BuildingsID || l.CoordinateSystem != layers.CoordinateMeterOffsets || !l.Pickable {
		t.Fatalf("unexpected layer %+v", l)
	}
}

const cube = `# two triangles and a quad
v 0 0 0
v 10 0 0
v 10 10 0
v 0 10 20
f 1 2 3
f 1/1/1 3/3/3 4/4/4
f -4 -3 -2 -1
`

func TestParseOBJ(t *testing.T) {
	m, err := ParseOBJ([]byte(cube))
	require.NoError(t, err)
	require.Len(t, m.Attributes[AttrPosition], 12)
	require.Equal(t, []uint32{0, 1, 2, 0, 2, 3, 0, 1, 2, 0, 2, 3}, m.Indices)
}

func TestParseOBJ_Errors(t *testing.T) {
	if _, err := ParseOBJ([]byte("v 1 2\n")); err == nil {
		t.Fatal("expected error for short vertex")
	}
	if _, err := ParseOBJ([]byte("v 1 2 3\nf 1 2 9\n")); err == nil {
		t.Fatal("expected error for out of range face")
	}
	m, err := ParseOBJ([]byte("# empty\n"))
	require.NoError(t, err)
	_, err = Georeference(m, model.GeoPoint{}, DefaultOptions())
	require.ErrorIs(t, err, ErrNoPositions)
}

type fakeFetcher struct{ body []byte }

func (f fakeFetcher) Fetch(context.Context, string, string) ([]byte, string, error) {
	return f.body, "text/plain", nil
}

func TestOBJLoader_FileAndURL(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "buildings.obj")
	require.NoError(t, os.WriteFile(p, []byte(cube), 0o644))

	l := NewOBJLoader(fakeFetcher{body: []byte(cube)})
	fromFile, err := l.Load(context.Background(), p)
	require.NoError(t, err)
	fromURL, err := l.Load(context.Background(), "http://backend/models/buildings.obj")
	require.NoError(t, err)
	require.Equal(t, fromFile.Attributes[AttrPosition], fromURL.Attributes[AttrPosition])

	_, err = NewOBJLoader(nil).Load(context.Background(), "https://x/y.obj")
	require.Error(t, err)
}
