package orchestrator

import (
	"context"
	"fmt"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/invalidation"
	"github.com/mohammed-shakir/heatstress-map/internal/objects"
)

// Save commits the draft. On success the overlay is rebuilt for the new
// objects version and other instances are told about it.
func (o *Orchestrator) Save(ctx context.Context) (int, error) {
	v, err := o.d.Objects.Save(ctx)
	if err != nil {
		o.notify("save_failed")
		return v, err
	}
	o.afterCommit(v)
	return v, nil
}

func (o *Orchestrator) Discard() {
	o.d.Objects.Discard()
	o.notify("objects")
}

func (o *Orchestrator) Import(ctx context.Context, data []byte, policy objects.ImportPolicy) (objects.ImportResult, error) {
	res, err := o.d.Objects.Import(ctx, data, policy)
	if err != nil {
		return res, err
	}
	if res.Saved {
		o.afterCommit(o.d.Objects.Version())
		return res, nil
	}
	o.notify("objects")
	return res, nil
}

func (o *Orchestrator) Export(format objects.Format) (objects.ExportFile, error) {
	return o.d.Objects.Export(format)
}

func (o *Orchestrator) afterCommit(version int) {
	if o.d.WMS != nil {
		s := o.cfg.Invalidation
		ev := invalidation.SaveEvent(s.Layer, s.Source, version, o.d.Objects.Committed(),
			o.d.WMS.Bounds(), s.PadDeg, o.d.Now())
		o.d.Publisher.Publish(ev)
	}
	o.refreshOverlay()
	o.notify("save")
}

// ApplyRemoteSave reloads the committed set saved by another instance and
// drops rasters rendered from the old one.
func (o *Orchestrator) ApplyRemoteSave(ctx context.Context, ev invalidation.Event) error {
	v, err := o.d.Objects.Reload(ctx)
	if err != nil {
		return fmt.Errorf("remote save v%d from %s: %w", ev.ObjectsVersion, ev.Source, err)
	}
	if o.d.WMS != nil && ev.Touches(o.d.WMS.Bounds()) {
		o.d.WMS.Purge()
	}
	o.logger.Info("remote save applied", "source", ev.Source, "objects_version", v)
	o.refreshOverlay()
	o.notify("remote_save")
	return nil
}

// ObjectsView is the placed-object state as served to the renderer.
type ObjectsView struct {
	Draft             []model.ObjectInstance `json:"draft"`
	Committed         []model.ObjectInstance `json:"committed"`
	Version           int                    `json:"version"`
	HasUnsavedChanges bool                   `json:"hasUnsavedChanges"`
}

func (o *Orchestrator) ObjectsView() ObjectsView {
	m := o.d.Objects
	return ObjectsView{
		Draft:             m.Draft(),
		Committed:         m.Committed(),
		Version:           m.Version(),
		HasUnsavedChanges: m.HasUnsavedChanges(),
	}
}

func (o *Orchestrator) MeasureTypes() ([]model.MeasureType, bool) {
	cat := o.d.Objects.Catalog()
	if cat == nil || !cat.IsLoaded() {
		return nil, false
	}
	return cat.Types(), true
}

// Readiness reports whether the measure catalog is loaded, with the
// current load errors as detail.
func (o *Orchestrator) Readiness() (bool, map[string]string) {
	_, ready := o.MeasureTypes()
	return ready, o.Snapshot().Errors
}
