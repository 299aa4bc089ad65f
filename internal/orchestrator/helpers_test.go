package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/heatstress-map/internal/buildings"
	"github.com/mohammed-shakir/heatstress-map/internal/core/config"
	"github.com/mohammed-shakir/heatstress-map/internal/core/executor"
	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/crs"
	"github.com/mohammed-shakir/heatstress-map/internal/featureinfo"
	"github.com/mohammed-shakir/heatstress-map/internal/invalidation"
	"github.com/mohammed-shakir/heatstress-map/internal/layers"
	"github.com/mohammed-shakir/heatstress-map/internal/mesh"
	"github.com/mohammed-shakir/heatstress-map/internal/objects"
	"github.com/mohammed-shakir/heatstress-map/internal/staticobjects"
	"github.com/mohammed-shakir/heatstress-map/internal/wms"
)

var (
	wmsBounds = model.BBox{West: 3.6, South: 51.49, East: 3.62, North: 51.51}
	clickAt   = model.GeoPoint{Lon: 3.6134, Lat: 51.5003}
	fixedNow  = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
)

const measuresJSON = `[{"id":1,"name":"Trees","model":"/models/tree-pine.glb","scale":2,"rotation":[0,0,90]}]`

const treesJSON = `{"type":"FeatureCollection","features":[
 {"type":"Feature","id":"t1","geometry":{"type":"Point","coordinates":[31800,391600]},"properties":{"relatieve_hoogteligging":9}}]}`

// backend fakes every upstream endpoint the session talks to.
type backend struct {
	mu           sync.Mutex
	calls        map[string]int
	requests     map[string]int
	styles       []string
	saveStatus   int
	styleStatus  int
	buildingGate chan struct{}
}

func newBackend() *backend {
	return &backend{calls: map[string]int{}, requests: map[string]int{}}
}

func (b *backend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

func (b *backend) wmsCount(request string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[request]
}

func (b *backend) handler(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.calls[r.URL.Path]++
	gate := b.buildingGate
	saveStatus, styleStatus := b.saveStatus, b.styleStatus
	if r.URL.Path == "/qgis/wms" {
		b.requests[r.URL.Query().Get("REQUEST")]++
	}
	if r.URL.Path == "/update-style" {
		b.styles = append(b.styles, r.URL.Query().Get("style_name"))
	}
	b.mu.Unlock()

	switch r.URL.Path {
	case "/measures":
		_, _ = w.Write([]byte(measuresJSON))
	case "/update-pet":
		if saveStatus != 0 {
			w.WriteHeader(saveStatus)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	case "/update-style":
		if styleStatus != 0 {
			w.WriteHeader(styleStatus)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	case "/legend":
		_, _ = w.Write([]byte(`{"color_ramp":{"items":[{"value":20,"color":"#313695"}]}}`))
	case "/objects/trees":
		_, _ = w.Write([]byte(treesJSON))
	case "/3dbag/search-pand":
		if gate != nil {
			<-gate
		}
		rd := crs.ToProjected(clickAt)
		_, _ = fmt.Fprintf(w, `{"bag_id":"0687100000012345","pand_data":{"bag_id":"0687100000012345","geometry":{"type":"Polygon","coordinates":[[[%[1]v,%[2]v],[%[3]v,%[2]v],[%[3]v,%[4]v],[%[1]v,%[4]v],[%[1]v,%[2]v]]]}},"verblijfsobject_data":[]}`,
			rd.X-5, rd.Y-5, rd.X+5, rd.Y+5)
	case "/qgis/wms":
		if r.URL.Query().Get("REQUEST") == "GetFeatureInfo" {
			_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[{"properties":{"Band 1":41.5}}]}`))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes(4, 4))
	default:
		http.NotFound(w, r)
	}
}

func pngBytes(w, h int) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h)))
	return buf.Bytes()
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []invalidation.Event
}

func (p *recordingPublisher) Publish(ev invalidation.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) all() []invalidation.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]invalidation.Event(nil), p.events...)
}

type loaderFunc func(ctx context.Context, path string) (*mesh.Mesh, error)

func (f loaderFunc) Load(ctx context.Context, path string) (*mesh.Mesh, error) { return f(ctx, path) }

// squareMesh is a 100 m square around Amersfoort in RD meters.
func squareMesh() *mesh.Mesh {
	return &mesh.Mesh{
		Attributes: map[string][]float32{mesh.AttrPosition: {
			155000, 463000, 4,
			155100, 463000, 4,
			155100, 463100, 14,
			155000, 463100, 14,
		}},
		Indices: []uint32{0, 1, 2, 0, 2, 3},
	}
}

type env struct {
	be    *backend
	srv   *httptest.Server
	exec  *executor.Executor
	store *objects.MemoryStore
	pub   *recordingPublisher
	o     *Orchestrator
	mesh  int
}

type envOption func(*Config, *Deps)

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	e := &env{be: newBackend(), store: objects.NewMemoryStore(), pub: &recordingPublisher{}}
	e.srv = httptest.NewServer(http.HandlerFunc(e.be.handler))
	t.Cleanup(e.srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec, err := executor.New(logger, nil, e.srv.URL)
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	e.exec = exec

	builder, err := wms.New(logger, exec, wms.Options{
		BaseURL: e.srv.URL + "/qgis/wms", Bounds: wmsBounds,
		Width: 4, Height: 4, Transparent: true, Opacity: 0.8,
	})
	if err != nil {
		t.Fatalf("wms.New: %v", err)
	}
	catalog, err := config.ParseOverlayCatalog([]byte(`
default_layer: pet-version-1
default_style: default
layers: [{id: pet-version-1}, {id: wind}]
styles: [{id: default}, {id: official}]
`))
	if err != nil {
		t.Fatalf("overlay catalog: %v", err)
	}

	mgr := objects.NewManager(context.Background(), logger, exec, e.store, objects.NewCatalog(exec), objects.Options{
		Signature: "neeghboorhoods", DefaultType: "Trees", Now: func() time.Time { return fixedNow },
	})

	cfg := Config{
		MeshPath: "buildings.obj",
		Mesh:     mesh.DefaultOptions(),
		Overlays: catalog,
		Toggles:  Toggles{Buildings: true, Objects: true, Overlay: true},
		Invalidation: InvalidationSettings{
			Layer: "pet-version-1", Source: "node-a", PadDeg: 0.0005,
		},
	}
	deps := Deps{
		Logger:      logger,
		Exec:        exec,
		Objects:     mgr,
		WMS:         builder,
		FeatureInfo: featureinfo.New(logger, exec, featureinfo.Options{BaseURL: e.srv.URL + "/qgis/wms", Bounds: wmsBounds, Width: 100, Height: 100}),
		Buildings:   buildings.NewClient(exec, "", 0),
		Static:      staticobjects.New(exec, staticobjects.Options{BBox: model.ProjectedBBox{MinX: 31593.331, MinY: 391390.397, MaxX: 32093.331, MaxY: 391890.397}}),
		MeshLoader: loaderFunc(func(context.Context, string) (*mesh.Mesh, error) {
			e.mesh++
			return squareMesh(), nil
		}),
		Legend:    wms.NewLegendSource(exec, "pet-version-1"),
		Publisher: e.pub,
		Now:       func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	e.o = New(cfg, deps)
	t.Cleanup(e.o.Close)
	e.o.Start()
	e.o.Wait()
	return e
}

func ids(s layers.Stack) string {
	b, _ := json.Marshal(s.IDs())
	return string(b)
}
