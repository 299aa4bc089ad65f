package orchestrator

import (
	"context"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/layers"
	"github.com/mohammed-shakir/heatstress-map/internal/objects"
)

// Click is one map click as reported by the renderer. LayerID and
// ObjectID are set when the click picked a rendered object.
type Click struct {
	Coordinate *model.GeoPoint `json:"coordinate,omitempty"`
	LayerID    string          `json:"layerId,omitempty"`
	ObjectID   string          `json:"objectId,omitempty"`
}

func (c Click) pick() *objects.Pick {
	if c.LayerID == "" {
		return nil
	}
	return &objects.Pick{LayerID: c.LayerID, ObjectID: c.ObjectID}
}

// HandleClick runs the building highlight, object placement and feature
// info handlers in that order. Each one no-ops when its toggle is off. The
// result reports whether placement consumed the click.
func (o *Orchestrator) HandleClick(c Click) bool {
	o.clickBuilding(c)

	handled := o.d.Objects.HandleClick(c.pick(), c.Coordinate)
	if handled {
		o.notify("objects")
	}

	o.clickFeatureInfo(c)
	return handled
}

func (o *Orchestrator) clickBuilding(c Click) {
	o.mu.RLock()
	enabled := o.toggles.Buildings
	o.mu.RUnlock()

	if !enabled || c.LayerID != layers.BuildingsID || c.Coordinate == nil {
		o.clearHighlight()
		return
	}

	at := *c.Coordinate
	t := o.highlightSeq.Next()
	o.async(func(ctx context.Context) {
		h, err := o.d.Buildings.Highlight(ctx, at)
		if err != nil {
			o.logger.Debug("no building at click", "lon", at.Lon, "lat", at.Lat, "error", err)
			h = nil
		}
		o.mu.Lock()
		if !o.highlightSeq.Accept(t) {
			o.mu.Unlock()
			return
		}
		o.highlight = h
		o.mu.Unlock()
		o.notify("building")
	})
}

func (o *Orchestrator) clearHighlight() {
	o.highlightSeq.Invalidate()
	o.mu.Lock()
	had := o.highlight != nil
	o.highlight = nil
	o.mu.Unlock()
	if had {
		o.notify("building")
	}
}

func (o *Orchestrator) clickFeatureInfo(c Click) {
	o.mu.RLock()
	enabled := o.toggles.Overlay
	o.mu.RUnlock()

	if !enabled || c.Coordinate == nil || o.d.FeatureInfo == nil {
		return
	}
	at := *c.Coordinate
	t := o.d.FeatureInfo.Begin()
	o.async(func(ctx context.Context) {
		if _, ok := o.d.FeatureInfo.Resolve(ctx, t, at.Lon, at.Lat); ok {
			o.notify("featureinfo")
			return
		}
		if _, has := o.d.FeatureInfo.Current(); !has {
			o.notify("featureinfo")
		}
	})
}
