package router

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/heatstress-map/internal/buildings"
	"github.com/mohammed-shakir/heatstress-map/internal/core/config"
	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/layers"
	"github.com/mohammed-shakir/heatstress-map/internal/objects"
	"github.com/mohammed-shakir/heatstress-map/internal/orchestrator"
	"github.com/mohammed-shakir/heatstress-map/internal/wms"
)

// fakeSession records calls and returns canned results.
type fakeSession struct {
	bus      *orchestrator.EventBus
	toggles  orchestrator.Toggles
	overlay  model.OverlaySelection
	clicks   []orchestrator.Click
	handled  bool
	fi       *model.FeatureInfoResult
	types    []model.MeasureType
	placing  string
	saveErr  error
	importFn func(policy objects.ImportPolicy) (objects.ImportResult, error)
	overErr  error
	raster   *layers.Bitmap
}

func (f *fakeSession) Layers() layers.Stack {
	return layers.Stack{&layers.Tile{ID: layers.BasemapID}}
}
func (f *fakeSession) Snapshot() orchestrator.Snapshot {
	return orchestrator.Snapshot{Toggles: f.toggles, Overlay: f.overlay}
}
func (f *fakeSession) Bus() *orchestrator.EventBus { return f.bus }
func (f *fakeSession) HandleClick(c orchestrator.Click) bool {
	f.clicks = append(f.clicks, c)
	return f.handled
}
func (f *fakeSession) Toggles() orchestrator.Toggles { return f.toggles }
func (f *fakeSession) SetToggles(t orchestrator.Toggles) { f.toggles = t }
func (f *fakeSession) Overlay() model.OverlaySelection { return f.overlay }
func (f *fakeSession) Overlays() config.OverlayCatalog { return config.OverlayCatalog{DefaultLayer: "pet-version-1"} }
func (f *fakeSession) Building() (*buildings.Highlight, bool) { return nil, false }
func (f *fakeSession) SetOverlay(_ context.Context, sel model.OverlaySelection) error {
	if f.overErr != nil {
		return f.overErr
	}
	f.overlay = sel
	return nil
}
func (f *fakeSession) FeatureInfo() (model.FeatureInfoResult, bool) {
	if f.fi == nil {
		return model.FeatureInfoResult{}, false
	}
	return *f.fi, true
}
func (f *fakeSession) MeasureTypes() ([]model.MeasureType, bool) { return f.types, f.types != nil }
func (f *fakeSession) SetPlacing(on bool, typeName string) {
	if on {
		f.placing = typeName
		return
	}
	f.placing = ""
}
func (f *fakeSession) ObjectsView() orchestrator.ObjectsView { return orchestrator.ObjectsView{Version: 3} }
func (f *fakeSession) Save(context.Context) (int, error) {
	if f.saveErr != nil {
		return 3, f.saveErr
	}
	return 4, nil
}
func (f *fakeSession) Discard() {}
func (f *fakeSession) Import(_ context.Context, _ []byte, p objects.ImportPolicy) (objects.ImportResult, error) {
	return f.importFn(p)
}
func (f *fakeSession) Export(format objects.Format) (objects.ExportFile, error) {
	return objects.ExportFile{Filename: "objects." + string(format), ContentType: "application/json", Data: []byte(`{}`)}, nil
}
func (f *fakeSession) Raster(key string) (*layers.Bitmap, bool) {
	if f.raster == nil || f.raster.RasterKey != key {
		return nil, false
	}
	return f.raster, true
}
func (f *fakeSession) Legend(context.Context) (*wms.Legend, error) { return &wms.Legend{}, nil }

func newServer(t *testing.T, s *fakeSession) *httptest.Server {
	t.Helper()
	if s.bus == nil {
		s.bus = orchestrator.NewEventBus()
	}
	r := chi.NewRouter()
	api := New(slog.New(slog.NewTextHandler(io.Discard, nil)), s)
	api.keepAlive = 50 * time.Millisecond
	api.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestClick(t *testing.T) {
	s := &fakeSession{handled: true}
	srv := newServer(t, s)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/click",
		`{"coordinate":{"lon":3.61,"lat":51.5},"layerId":"buildings-obj","objectId":"7"}`)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(body) != `{"handled":true}` {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	if len(s.clicks) != 1 || s.clicks[0].LayerID != "buildings-obj" || s.clicks[0].Coordinate.Lat != 51.5 {
		t.Fatalf("clicks=%+v", s.clicks)
	}

	for _, bad := range []string{`{}`, `not json`, `{"coordinate":{"lon":1,"lat":2},"extra":1}`} {
		if resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/click", bad); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d want 400", bad, resp.StatusCode)
		}
	}
}

func TestToggles_PartialUpdateKeepsOthers(t *testing.T) {
	s := &fakeSession{toggles: orchestrator.Toggles{Buildings: true, Objects: true, Overlay: true}}
	srv := newServer(t, s)

	resp, _ := do(t, http.MethodPut, srv.URL+"/api/v1/toggles", `{"overlay":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	want := orchestrator.Toggles{Buildings: true, Objects: true}
	if s.toggles != want {
		t.Fatalf("toggles=%+v want %+v", s.toggles, want)
	}
}

func TestOverlay_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"ok", nil, http.StatusOK},
		{"unknown layer", orchestrator.ErrUnknownLayer, http.StatusBadRequest},
		{"unknown style", orchestrator.ErrUnknownStyle, http.StatusBadRequest},
		{"style endpoint down", errors.New("update style: status 502"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newServer(t, &fakeSession{overErr: tc.err})
			resp, body := do(t, http.MethodPut, srv.URL+"/api/v1/overlay", `{"layerId":"wind","styleId":"official"}`)
			if resp.StatusCode != tc.code {
				t.Fatalf("status=%d want %d body=%s", resp.StatusCode, tc.code, body)
			}
		})
	}
}

func TestFeatureInfo_NoContentWhenEmpty(t *testing.T) {
	s := &fakeSession{}
	srv := newServer(t, s)
	if resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/featureinfo", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status=%d want 204", resp.StatusCode)
	}

	s.fi = &model.FeatureInfoResult{Lon: 3.6, Lat: 51.5, Band: model.Float(41.5)}
	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/featureinfo", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"band":41.5`) {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
}

func TestMeasures_UnavailableUntilLoaded(t *testing.T) {
	s := &fakeSession{}
	srv := newServer(t, s)
	if resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/measures", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", resp.StatusCode)
	}
	s.types = []model.MeasureType{{ID: 1, Name: "Trees"}}
	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/measures", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"Trees"`) {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
}

func TestPlacing(t *testing.T) {
	s := &fakeSession{}
	srv := newServer(t, s)
	if resp, _ := do(t, http.MethodPut, srv.URL+"/api/v1/placing", `{"on":true,"type":"Trees"}`); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if s.placing != "Trees" {
		t.Fatalf("placing=%q", s.placing)
	}
}

func TestSave_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		body string
	}{
		{"ok", nil, http.StatusOK, `{"version":4}`},
		{"backend rejects", &objects.SaveError{Status: 500, Err: errors.New("boom")}, http.StatusBadGateway, `"error"`},
		{"store down", errors.New("persist: connection refused"), http.StatusInternalServerError, `"error"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newServer(t, &fakeSession{saveErr: tc.err})
			resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/objects/save", "")
			if resp.StatusCode != tc.code || !strings.Contains(body, tc.body) {
				t.Fatalf("status=%d body=%s", resp.StatusCode, body)
			}
		})
	}
}

func TestImport(t *testing.T) {
	var got objects.ImportPolicy
	s := &fakeSession{importFn: func(p objects.ImportPolicy) (objects.ImportResult, error) {
		got = p
		return objects.ImportResult{Policy: p, Imported: 2, Added: 2, Saved: true}, nil
	}}
	srv := newServer(t, s)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/objects/import?policy=merge", `{"type":"FeatureCollection"}`)
	if resp.StatusCode != http.StatusOK || got != objects.PolicyMerge {
		t.Fatalf("status=%d policy=%q body=%s", resp.StatusCode, got, body)
	}

	if resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/objects/import?policy=upsert", `{}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown policy status=%d want 400", resp.StatusCode)
	}

	s.importFn = func(objects.ImportPolicy) (objects.ImportResult, error) {
		return objects.ImportResult{}, objects.ErrInvalidSignature
	}
	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/objects/import", `{}`)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(body, "Only files exported from this application") {
		t.Fatalf("bad signature status=%d body=%s", resp.StatusCode, body)
	}

	s.importFn = func(objects.ImportPolicy) (objects.ImportResult, error) {
		return objects.ImportResult{}, &objects.SaveError{Status: 503, Err: errors.New("down")}
	}
	if resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/objects/import", `{}`); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("save failure status=%d want 502", resp.StatusCode)
	}
}

func TestExport_Attachment(t *testing.T) {
	srv := newServer(t, &fakeSession{})
	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/objects/export?format=json", "")
	if resp.StatusCode != http.StatusOK || body != `{}` {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="objects.json"` {
		t.Fatalf("content-disposition=%q", cd)
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/objects/export?format=kml", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", resp.StatusCode)
	}
}

func TestRaster(t *testing.T) {
	s := &fakeSession{raster: &layers.Bitmap{RasterKey: "abc", Image: image.NewRGBA(image.Rect(0, 0, 2, 2))}}
	srv := newServer(t, s)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/raster/abc", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("status=%d ct=%s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.HasPrefix(body, "\x89PNG") {
		t.Fatal("body is not a png")
	}
	if resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/raster/nope", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want 404", resp.StatusCode)
	}
}

func TestLayersAndSession(t *testing.T) {
	srv := newServer(t, &fakeSession{overlay: model.OverlaySelection{LayerID: "pet-version-1"}})

	_, body := do(t, http.MethodGet, srv.URL+"/api/v1/layers", "")
	var stack []map[string]any
	if err := json.Unmarshal([]byte(body), &stack); err != nil || len(stack) != 1 {
		t.Fatalf("layers=%s err=%v", body, err)
	}

	_, body = do(t, http.MethodGet, srv.URL+"/api/v1/session", "")
	if !strings.Contains(body, `"layerId":"pet-version-1"`) {
		t.Fatalf("session=%s", body)
	}
}

func TestEvents_StreamsChanges(t *testing.T) {
	s := &fakeSession{bus: orchestrator.NewEventBus()}
	srv := newServer(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/layers/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.bus.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.bus.Publish(orchestrator.Change{Reason: "save", ObjectsVersion: 2})

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, `"reason":"save"`) {
				t.Fatalf("data=%s", line)
			}
			return
		}
	}
	t.Fatalf("stream ended: %v", sc.Err())
}
