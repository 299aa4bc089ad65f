// Package orchestrator composes the map session: it owns the layer toggles,
// the overlay selection and the asynchronous layer loads, and dispatches
// clicks to the building, object and feature-info handlers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/heatstress-map/internal/buildings"
	"github.com/mohammed-shakir/heatstress-map/internal/core/config"
	"github.com/mohammed-shakir/heatstress-map/internal/core/executor"
	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/core/reqseq"
	"github.com/mohammed-shakir/heatstress-map/internal/featureinfo"
	"github.com/mohammed-shakir/heatstress-map/internal/invalidation"
	"github.com/mohammed-shakir/heatstress-map/internal/layers"
	"github.com/mohammed-shakir/heatstress-map/internal/mesh"
	"github.com/mohammed-shakir/heatstress-map/internal/objects"
	"github.com/mohammed-shakir/heatstress-map/internal/staticobjects"
	"github.com/mohammed-shakir/heatstress-map/internal/wms"
)

var (
	ErrUnknownLayer = errors.New("unknown overlay layer")
	ErrUnknownStyle = errors.New("unknown overlay style")
)

// Load error keys reported in Snapshot.Errors.
const (
	ErrKeyMesh    = "mesh"
	ErrKeyOverlay = "overlay"
	ErrKeyCatalog = "catalog"
)

type Toggles struct {
	Buildings bool `json:"buildings"`
	Objects   bool `json:"objects"`
	Overlay   bool `json:"overlay"`
}

// InvalidationSettings shapes the events published after a save.
type InvalidationSettings struct {
	Layer  string
	Source string
	PadDeg float64
}

type Config struct {
	Basemap      layers.Tile
	MeshPath     string
	Mesh         mesh.Options
	Overlays     config.OverlayCatalog
	Zoom         int
	Toggles      Toggles
	Invalidation InvalidationSettings
}

// Deps are the collaborators; Static, MeshLoader, Legend and Publisher may
// be nil.
type Deps struct {
	Logger      *slog.Logger
	Exec        executor.Interface
	Objects     *objects.Manager
	WMS         *wms.Builder
	FeatureInfo *featureinfo.Service
	Buildings   *buildings.Client
	Static      *staticobjects.Source
	MeshLoader  mesh.Loader
	Legend      *wms.LegendSource
	Publisher   invalidation.Publisher
	Now         func() time.Time
}

type Orchestrator struct {
	cfg    Config
	d      Deps
	logger *slog.Logger
	bus    *EventBus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	meshSeq      *reqseq.Sequence
	staticSeq    *reqseq.Sequence
	overlaySeq   *reqseq.Sequence
	highlightSeq *reqseq.Sequence

	mu         sync.RWMutex
	toggles    Toggles
	overlay    model.OverlaySelection
	meshLayer  *layers.Mesh
	meshPath   string
	static     *layers.Instanced
	overlayL   layers.Descriptor
	highlight  *buildings.Highlight
	loadErrors map[string]string
}

func New(cfg Config, d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Publisher == nil {
		d.Publisher = invalidation.Nop{}
	}
	if cfg.Basemap.ID == "" {
		cfg.Basemap.ID = layers.BasemapID
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:          cfg,
		d:            d,
		logger:       d.Logger,
		bus:          NewEventBus(),
		ctx:          ctx,
		cancel:       cancel,
		meshSeq:      reqseq.New("mesh"),
		staticSeq:    reqseq.New("static_objects"),
		overlaySeq:   reqseq.New("wms"),
		highlightSeq: reqseq.New("building"),
		toggles:      cfg.Toggles,
		overlay: model.OverlaySelection{
			LayerID: cfg.Overlays.DefaultLayer,
			StyleID: cfg.Overlays.DefaultStyle,
		},
		loadErrors: map[string]string{},
	}
	if d.FeatureInfo != nil && !o.overlay.Empty() {
		d.FeatureInfo.SetLayer(o.overlay.LayerID)
	}
	return o
}

// Start kicks off the initial catalog, mesh, static object and overlay loads.
func (o *Orchestrator) Start() {
	o.initCatalog()
	o.refreshMesh()
	o.refreshStatic()
	o.refreshOverlay()
}

// Close cancels in-flight work and waits for it.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// Wait blocks until every started async load has settled.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) Bus() *EventBus { return o.bus }

func (o *Orchestrator) Overlays() config.OverlayCatalog { return o.cfg.Overlays }

func (o *Orchestrator) Objects() *objects.Manager { return o.d.Objects }

func (o *Orchestrator) async(fn func(ctx context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(o.ctx)
	}()
}

func (o *Orchestrator) notify(reason string) {
	o.bus.Publish(Change{
		Reason:         reason,
		ObjectsVersion: o.d.Objects.Version(),
		LayerIDs:       o.Layers().IDs(),
	})
}

// Layers returns the stack bottom first: basemap, buildings mesh, static
// objects, user objects by type, overlay, building highlight.
func (o *Orchestrator) Layers() layers.Stack {
	o.mu.RLock()
	t := o.toggles
	meshL, static, overlay, hl := o.meshLayer, o.static, o.overlayL, o.highlight
	o.mu.RUnlock()

	basemap := o.cfg.Basemap
	out := layers.Stack{&basemap}
	if t.Buildings && meshL != nil {
		out = append(out, meshL)
	}
	if t.Objects {
		if static != nil {
			out = append(out, static)
		}
		out = append(out, o.d.Objects.Layers()...)
	}
	if t.Overlay && overlay != nil {
		out = append(out, overlay)
	}
	if t.Buildings && hl != nil {
		out = append(out, buildings.Layer(hl))
	}
	return out
}

type Snapshot struct {
	Toggles           Toggles                  `json:"toggles"`
	Overlay           model.OverlaySelection   `json:"overlay"`
	Placing           bool                     `json:"placing"`
	PlacingType       string                   `json:"placingType,omitempty"`
	ObjectsVersion    int                      `json:"objectsVersion"`
	HasUnsavedChanges bool                     `json:"hasUnsavedChanges"`
	CatalogLoaded     bool                     `json:"catalogLoaded"`
	FeatureInfo       *model.FeatureInfoResult `json:"featureInfo,omitempty"`
	Building          *buildings.Info          `json:"building,omitempty"`
	Errors            map[string]string        `json:"errors,omitempty"`
	Layers            layers.Stack             `json:"layers"`
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	s := Snapshot{Toggles: o.toggles, Overlay: o.overlay}
	if o.highlight != nil {
		s.Building = o.highlight.Info
	}
	if len(o.loadErrors) > 0 {
		s.Errors = make(map[string]string, len(o.loadErrors))
		for k, v := range o.loadErrors {
			s.Errors[k] = v
		}
	}
	o.mu.RUnlock()

	s.Placing, s.PlacingType = o.d.Objects.Placing()
	s.ObjectsVersion = o.d.Objects.Version()
	s.HasUnsavedChanges = o.d.Objects.HasUnsavedChanges()
	if c := o.d.Objects.Catalog(); c != nil {
		s.CatalogLoaded = c.IsLoaded()
	}
	if fi, ok := o.FeatureInfo(); ok {
		s.FeatureInfo = &fi
	}
	s.Layers = o.Layers()
	return s
}

func (o *Orchestrator) Toggles() Toggles {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.toggles
}

// SetToggles applies t and starts or drops the layers it governs.
func (o *Orchestrator) SetToggles(t Toggles) {
	o.mu.Lock()
	prev := o.toggles
	o.toggles = t
	if !t.Buildings {
		o.highlight = nil
	}
	o.mu.Unlock()

	if prev.Buildings != t.Buildings {
		if !t.Buildings {
			o.highlightSeq.Invalidate()
		}
		o.refreshMesh()
	}
	if prev.Objects != t.Objects {
		o.refreshStatic()
	}
	if prev.Overlay != t.Overlay {
		if !t.Overlay && o.d.FeatureInfo != nil {
			o.d.FeatureInfo.Clear()
		}
		o.refreshOverlay()
	}
	o.notify("toggles")
}

func (o *Orchestrator) Overlay() model.OverlaySelection {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.overlay
}

// SetOverlay switches the overlay layer and style. A style change is pushed
// to the backend first; if that fails nothing changes.
func (o *Orchestrator) SetOverlay(ctx context.Context, sel model.OverlaySelection) error {
	if sel.StyleID == "" {
		sel.StyleID = o.cfg.Overlays.DefaultStyle
	}
	if !o.cfg.Overlays.HasLayer(sel.LayerID) {
		return fmt.Errorf("%w: %q", ErrUnknownLayer, sel.LayerID)
	}
	if !o.cfg.Overlays.HasStyle(sel.StyleID) {
		return fmt.Errorf("%w: %q", ErrUnknownStyle, sel.StyleID)
	}

	cur := o.Overlay()
	if cur == sel {
		return nil
	}
	if cur.StyleID != sel.StyleID && o.d.Exec != nil {
		if err := wms.UpdateStyle(ctx, o.d.Exec, sel.StyleID); err != nil {
			return err
		}
	}

	o.mu.Lock()
	o.overlay = sel
	o.mu.Unlock()
	if o.d.FeatureInfo != nil {
		o.d.FeatureInfo.SetLayer(sel.LayerID)
	}
	o.refreshOverlay()
	o.notify("overlay")
	return nil
}

func (o *Orchestrator) SetPlacing(on bool, typeName string) {
	o.d.Objects.SetPlacing(on, typeName)
	o.notify("placing")
}

func (o *Orchestrator) FeatureInfo() (model.FeatureInfoResult, bool) {
	if o.d.FeatureInfo == nil {
		return model.FeatureInfoResult{}, false
	}
	return o.d.FeatureInfo.Current()
}

// Building returns the metadata of the highlighted building.
func (o *Orchestrator) Building() (*buildings.Highlight, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.highlight, o.highlight != nil
}

func (o *Orchestrator) Legend(ctx context.Context) (*wms.Legend, error) {
	if o.d.Legend == nil {
		return nil, errors.New("legend not configured")
	}
	return o.d.Legend.Get(ctx)
}

// Raster serves decoded overlay pixels by raster key. Rasters of the live
// overlay are always served, even once evicted from the builder cache.
func (o *Orchestrator) Raster(key string) (*layers.Bitmap, bool) {
	o.mu.RLock()
	live, ok := layers.RasterByKey(o.overlayL, key)
	o.mu.RUnlock()
	if ok {
		return &layers.Bitmap{RasterKey: key, Image: live.Image, Width: live.Image.Bounds().Dx(), Height: live.Image.Bounds().Dy()}, true
	}
	if o.d.WMS == nil {
		return nil, false
	}
	img, ok := o.d.WMS.Raster(key)
	if !ok {
		return nil, false
	}
	return &layers.Bitmap{RasterKey: key, Image: img, Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}, true
}

func (o *Orchestrator) setLoadError(key string, err error) {
	o.mu.Lock()
	if err == nil {
		delete(o.loadErrors, key)
	} else {
		o.loadErrors[key] = err.Error()
	}
	o.mu.Unlock()
}
