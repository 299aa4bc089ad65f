// Package router exposes the map session to the renderer over HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/heatstress-map/internal/buildings"
	"github.com/mohammed-shakir/heatstress-map/internal/core/config"
	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/core/observability"
	"github.com/mohammed-shakir/heatstress-map/internal/layers"
	mylog "github.com/mohammed-shakir/heatstress-map/internal/logger"
	"github.com/mohammed-shakir/heatstress-map/internal/objects"
	"github.com/mohammed-shakir/heatstress-map/internal/orchestrator"
	"github.com/mohammed-shakir/heatstress-map/internal/wms"
)

// Session is the map session served by the API. *orchestrator.Orchestrator
// implements it.
type Session interface {
	Layers() layers.Stack
	Snapshot() orchestrator.Snapshot
	Bus() *orchestrator.EventBus
	HandleClick(c orchestrator.Click) bool
	Toggles() orchestrator.Toggles
	SetToggles(t orchestrator.Toggles)
	Overlay() model.OverlaySelection
	SetOverlay(ctx context.Context, sel model.OverlaySelection) error
	Overlays() config.OverlayCatalog
	FeatureInfo() (model.FeatureInfoResult, bool)
	Building() (*buildings.Highlight, bool)
	MeasureTypes() ([]model.MeasureType, bool)
	SetPlacing(on bool, typeName string)
	ObjectsView() orchestrator.ObjectsView
	Save(ctx context.Context) (int, error)
	Discard()
	Import(ctx context.Context, data []byte, policy objects.ImportPolicy) (objects.ImportResult, error)
	Export(format objects.Format) (objects.ExportFile, error)
	Raster(key string) (*layers.Bitmap, bool)
	Legend(ctx context.Context) (*wms.Legend, error)
}

const maxImportBytes = 16 << 20

type API struct {
	logger *slog.Logger
	s      Session

	// keepAlive is the SSE comment interval.
	keepAlive time.Duration
}

func New(logger *slog.Logger, s Session) *API {
	return &API{logger: logger, s: s, keepAlive: 25 * time.Second}
}

// Mount registers the /api/v1 routes on r.
func (a *API) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		a.handle(r, http.MethodGet, "/layers", a.layers)
		a.handle(r, http.MethodGet, "/layers/events", a.events)
		a.handle(r, http.MethodGet, "/session", a.session)
		a.handle(r, http.MethodPost, "/click", a.click)
		a.handle(r, http.MethodGet, "/toggles", a.toggles)
		a.handle(r, http.MethodPut, "/toggles", a.setToggles)
		a.handle(r, http.MethodGet, "/overlay", a.overlay)
		a.handle(r, http.MethodPut, "/overlay", a.setOverlay)
		a.handle(r, http.MethodGet, "/overlays", a.overlays)
		a.handle(r, http.MethodGet, "/featureinfo", a.featureInfo)
		a.handle(r, http.MethodGet, "/building", a.building)
		a.handle(r, http.MethodGet, "/measures", a.measures)
		a.handle(r, http.MethodPut, "/placing", a.placing)
		a.handle(r, http.MethodGet, "/objects", a.objects)
		a.handle(r, http.MethodPost, "/objects/save", a.save)
		a.handle(r, http.MethodPost, "/objects/discard", a.discard)
		a.handle(r, http.MethodPost, "/objects/import", a.importObjects)
		a.handle(r, http.MethodGet, "/objects/export", a.export)
		a.handle(r, http.MethodGet, "/raster/{key}", a.raster)
		a.handle(r, http.MethodGet, "/legend", a.legend)
	})
}

// handle wraps h with status capture and request metrics for route.
func (a *API) handle(r chi.Router, method, route string, h http.HandlerFunc) {
	full := "/api/v1" + route
	r.Method(method, route, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, req.WithContext(mylog.WithOp(req.Context(), method+" "+route)))
		observability.ObserveHTTP(req.Method, full, sw.code, time.Since(start).Seconds())
	}))
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

const msgInvalidSignature = "Invalid file signature. Only files exported from this application can be imported."

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (a *API) layers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.s.Layers())
}

func (a *API) session(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.s.Snapshot())
}

// events streams session changes as server-sent events until the client
// goes away.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	bus := a.s.Bus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	tick := time.NewTicker(a.keepAlive)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
			_, _ = fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case c, open := <-ch:
			if !open {
				return
			}
			b, err := json.Marshal(c)
			if err != nil {
				a.logger.Error("encode change", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: change\ndata: %s\n\n", b)
			flusher.Flush()
		}
	}
}

func (a *API) click(w http.ResponseWriter, r *http.Request) {
	var c orchestrator.Click
	if err := decodeBody(w, r, &c); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if c.Coordinate == nil && c.LayerID == "" {
		writeError(w, http.StatusBadRequest, errors.New("click needs a coordinate or a picked layer"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"handled": a.s.HandleClick(c)})
}

func (a *API) toggles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.s.Toggles())
}

func (a *API) setToggles(w http.ResponseWriter, r *http.Request) {
	t := a.s.Toggles()
	if err := decodeBody(w, r, &t); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.s.SetToggles(t)
	writeJSON(w, http.StatusOK, t)
}

func (a *API) overlay(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.s.Overlay())
}

func (a *API) setOverlay(w http.ResponseWriter, r *http.Request) {
	sel := a.s.Overlay()
	if err := decodeBody(w, r, &sel); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := a.s.SetOverlay(r.Context(), sel)
	switch {
	case errors.Is(err, orchestrator.ErrUnknownLayer), errors.Is(err, orchestrator.ErrUnknownStyle):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		a.logger.ErrorContext(r.Context(), "overlay style update failed", "layer", sel.LayerID, "style", sel.StyleID, "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, a.s.Overlay())
}

func (a *API) overlays(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.s.Overlays())
}

func (a *API) featureInfo(w http.ResponseWriter, _ *http.Request) {
	fi, ok := a.s.FeatureInfo()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, fi)
}

func (a *API) building(w http.ResponseWriter, _ *http.Request) {
	h, ok := a.s.Building()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (a *API) measures(w http.ResponseWriter, _ *http.Request) {
	types, ok := a.s.MeasureTypes()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, objects.ErrCatalogNotLoaded)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (a *API) placing(w http.ResponseWriter, r *http.Request) {
	var body struct {
		On   bool   `json:"on"`
		Type string `json:"type"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.s.SetPlacing(body.On, body.Type)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) objects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.s.ObjectsView())
}

func (a *API) save(w http.ResponseWriter, r *http.Request) {
	v, err := a.s.Save(r.Context())
	if err != nil {
		a.logger.ErrorContext(r.Context(), "save failed", "error", err)
		var se *objects.SaveError
		if errors.As(err, &se) {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"version": v})
}

func (a *API) discard(w http.ResponseWriter, _ *http.Request) {
	a.s.Discard()
	writeJSON(w, http.StatusOK, a.s.ObjectsView())
}

func (a *API) importObjects(w http.ResponseWriter, r *http.Request) {
	policy, err := objects.ParsePolicy(r.URL.Query().Get("policy"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.s.Import(r.Context(), data, policy)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "import failed", "policy", policy, "error", err)
		var se *objects.SaveError
		switch {
		case errors.Is(err, objects.ErrInvalidSignature):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgInvalidSignature})
		case objects.IsInputError(err):
			writeError(w, http.StatusBadRequest, err)
		case errors.As(err, &se):
			writeError(w, http.StatusBadGateway, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) export(w http.ResponseWriter, r *http.Request) {
	format, err := objects.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f, err := a.s.Export(format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	_, _ = w.Write(f.Data)
}

func (a *API) raster(w http.ResponseWriter, r *http.Request) {
	bm, ok := a.s.Raster(chi.URLParam(r, "key"))
	if !ok || bm.Image == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	if err := png.Encode(w, bm.Image); err != nil {
		a.logger.Error("encode raster", "key", bm.RasterKey, "error", err)
	}
}

func (a *API) legend(w http.ResponseWriter, r *http.Request) {
	l, err := a.s.Legend(r.Context())
	if err != nil {
		a.logger.Debug("legend unavailable", "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}
