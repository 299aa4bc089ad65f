package orchestrator

import (
	"context"
	"errors"

	"github.com/mohammed-shakir/heatstress-map/internal/layers"
	"github.com/mohammed-shakir/heatstress-map/internal/mesh"
	"github.com/mohammed-shakir/heatstress-map/internal/wms"
)

func (o *Orchestrator) initCatalog() {
	cat := o.d.Objects.Catalog()
	if cat == nil || cat.IsLoaded() {
		return
	}
	o.async(func(ctx context.Context) {
		err := cat.Init(ctx)
		if err != nil {
			o.logger.Error("measure types unavailable", "error", err)
		}
		o.setLoadError(ErrKeyCatalog, err)
		o.notify("catalog")
	})
}

// InitCatalog loads the measure types now; a loaded catalog is left alone.
func (o *Orchestrator) InitCatalog(ctx context.Context) error {
	cat := o.d.Objects.Catalog()
	if cat == nil {
		return errors.New("no catalog configured")
	}
	err := cat.Init(ctx)
	o.setLoadError(ErrKeyCatalog, err)
	o.notify("catalog")
	return err
}

// refreshMesh loads the buildings mesh when buildings are shown. The
// georeferenced layer is kept per path, so toggling does not refetch.
func (o *Orchestrator) refreshMesh() {
	o.mu.RLock()
	show := o.toggles.Buildings
	cached := o.meshLayer != nil && o.meshPath == o.cfg.MeshPath
	o.mu.RUnlock()

	path := o.cfg.MeshPath
	if !show || path == "" || o.d.MeshLoader == nil {
		o.meshSeq.Invalidate()
		return
	}
	if cached {
		return
	}

	t := o.meshSeq.Next()
	o.async(func(ctx context.Context) {
		l, err := o.loadMesh(ctx, path)
		o.mu.Lock()
		if !o.meshSeq.Accept(t) {
			o.mu.Unlock()
			return
		}
		if err != nil {
			o.meshLayer = nil
			o.loadErrors[ErrKeyMesh] = err.Error()
		} else {
			o.meshLayer = l
			o.meshPath = path
			delete(o.loadErrors, ErrKeyMesh)
		}
		o.mu.Unlock()
		if err != nil {
			o.logger.Error("buildings mesh failed to load", "path", path, "error", err)
		}
		o.notify("mesh")
	})
}

func (o *Orchestrator) loadMesh(ctx context.Context, path string) (*layers.Mesh, error) {
	m, err := o.d.MeshLoader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	opts := o.cfg.Mesh
	anchor, err := mesh.Anchor(m, opts.Projection)
	if err != nil {
		return nil, err
	}
	g, err := mesh.Georeference(m, anchor, opts)
	if err != nil {
		return nil, err
	}
	return mesh.Layer(g), nil
}

// refreshStatic fetches the static trees while objects are shown. A failed
// fetch just leaves the layer out.
func (o *Orchestrator) refreshStatic() {
	o.mu.Lock()
	show := o.toggles.Objects
	if !show {
		o.static = nil
	}
	o.mu.Unlock()

	if !show || o.d.Static == nil {
		o.staticSeq.Invalidate()
		return
	}

	t := o.staticSeq.Next()
	o.async(func(ctx context.Context) {
		l, err := o.d.Static.Layer(ctx)
		if err != nil {
			o.logger.Debug("static objects unavailable", "error", err)
			l = nil
		}
		o.mu.Lock()
		if !o.staticSeq.Accept(t) {
			o.mu.Unlock()
			return
		}
		o.static = l
		o.mu.Unlock()
		o.notify("static_objects")
	})
}

// refreshOverlay rebuilds the WMS layer for the current selection and
// objects version.
func (o *Orchestrator) refreshOverlay() {
	o.mu.Lock()
	show := o.toggles.Overlay
	sel := o.overlay
	if !show {
		o.overlayL = nil
	}
	o.mu.Unlock()

	if !show || o.d.WMS == nil || sel.Empty() {
		o.overlaySeq.Invalidate()
		return
	}

	req := wms.Request{
		Layer:   sel.LayerID,
		Style:   sel.StyleID,
		Version: o.d.Objects.Version(),
		Zoom:    o.cfg.Zoom,
	}
	t := o.overlaySeq.Next()
	o.async(func(ctx context.Context) {
		d, err := o.d.WMS.Build(ctx, req)
		o.mu.Lock()
		if !o.overlaySeq.Accept(t) {
			o.mu.Unlock()
			return
		}
		if err != nil {
			o.overlayL = nil
			o.loadErrors[ErrKeyOverlay] = err.Error()
		} else {
			o.overlayL = d
			delete(o.loadErrors, ErrKeyOverlay)
		}
		o.mu.Unlock()
		if err != nil {
			o.logger.Warn("overlay unavailable", "layer", req.Layer, "style", req.Style, "version", req.Version, "error", err)
		}
		o.notify("overlay")
	})
}
