// Package staticobjects loads the existing trees of the study area.
package staticobjects

import (
	"context"
	"fmt"
	"net/url"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/heatstress-map/internal/core/executor"
	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/crs"
	"github.com/mohammed-shakir/heatstress-map/internal/layers"
	"github.com/mohammed-shakir/heatstress-map/internal/objects"
)

const (
	endpoint      = "objects/trees"
	heightProp    = "relatieve_hoogteligging"
	defaultHeight = 15.0
)

type Options struct {
	BBox       model.ProjectedBBox
	ObjectType string
	Model      string
}

type Source struct {
	exec executor.Interface
	opts Options
}

func New(exec executor.Interface, opts Options) *Source {
	if opts.Model == "" {
		opts.Model = "/models/tree-pine.glb"
	}
	if opts.ObjectType == "" {
		opts.ObjectType = "Trees"
	}
	return &Source{exec: exec, opts: opts}
}

// Fetch returns the trees inside the configured RD extent, scaled by their
// recorded height.
func (s *Source) Fetch(ctx context.Context) ([]layers.Instance, error) {
	body, _, err := s.exec.Get(ctx, endpoint, url.Values{"bbox": {s.opts.BBox.String()}}, "application/json")
	if err != nil {
		return nil, fmt.Errorf("fetch trees: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("decode trees: %w", err)
	}
	out := make([]layers.Instance, 0, len(fc.Features))
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		geo := crs.ToGeographic(model.ProjectedPoint{X: pt[0], Y: pt[1]})
		out = append(out, layers.Instance{
			ID:         featureID(f, i),
			ObjectType: s.opts.ObjectType,
			Position:   model.Position{geo.Lon, geo.Lat, 0},
			Scale:      treeHeight(f.Properties),
		})
	}
	return out, nil
}

// Layer fetches the trees and wraps them in the static objects layer.
func (s *Source) Layer(ctx context.Context) (*layers.Instanced, error) {
	inst, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return objects.InstancedLayer(layers.StaticObjectsID, s.opts.Model, [3]float64{}, inst), nil
}

func treeHeight(p geojson.Properties) float64 {
	if h, ok := p[heightProp].(float64); ok && h > 0 {
		return h
	}
	return defaultHeight
}

func featureID(f *geojson.Feature, i int) string {
	switch id := f.ID.(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return fmt.Sprintf("%.0f", id)
	}
	return fmt.Sprintf("tree-%d", i)
}
