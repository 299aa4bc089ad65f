// Package invalidation announces committed object saves so other map
// instances can drop raster state derived from the old object set.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
)

const (
	SchemaVersion = 1
	SRIDWGS84     = "EPSG:4326"

	OpUpdate = "update"
)

type Event struct {
	Version        int       `json:"version"`
	Op             string    `json:"op"`
	Layer          string    `json:"layer"`
	TS             time.Time `json:"ts"`
	Source         string    `json:"source,omitempty"`
	ObjectsVersion int       `json:"objects_version,omitempty"`
	Count          int       `json:"count"`
	BBox           *BBox     `json:"bbox"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.X1, b.Y1}, Max: orb.Point{b.X2, b.Y2}}
}

// SaveEvent describes a committed save of objs. The bbox covers every saved
// position padded by padDeg degrees; an empty save covers fallback instead.
func SaveEvent(layer, source string, objectsVersion int, objs []model.ObjectInstance, fallback model.BBox, padDeg float64, now time.Time) Event {
	var bound orb.Bound
	if len(objs) == 0 {
		bound = fallback.Bound()
	} else {
		mp := make(orb.MultiPoint, 0, len(objs))
		for _, o := range objs {
			mp = append(mp, orb.Point{o.Position[0], o.Position[1]})
		}
		bound = mp.Bound()
	}
	if padDeg <= 0 {
		// a single object still needs a non-degenerate box
		padDeg = 1e-6
	}
	bound = bound.Pad(padDeg)

	return Event{
		Version:        SchemaVersion,
		Op:             OpUpdate,
		Layer:          layer,
		TS:             now.UTC(),
		Source:         source,
		ObjectsVersion: objectsVersion,
		Count:          len(objs),
		BBox: &BBox{
			X1:   clamp(bound.Min[0], -180, 180),
			Y1:   clamp(bound.Min[1], -90, 90),
			X2:   clamp(bound.Max[0], -180, 180),
			Y2:   clamp(bound.Max[1], -90, 90),
			SRID: SRIDWGS84,
		},
	}
}

func (e Event) Validate() error {
	if e.Version != SchemaVersion {
		return fmt.Errorf("version must be %d", SchemaVersion)
	}
	if e.Op != OpUpdate {
		return fmt.Errorf("op must be %s", OpUpdate)
	}
	if strings.TrimSpace(e.Layer) == "" {
		return fmt.Errorf("layer is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.BBox == nil {
		return fmt.Errorf("bbox is required")
	}
	bb := *e.BBox
	if bb.SRID != SRIDWGS84 {
		return fmt.Errorf("bbox.srid must be %s", SRIDWGS84)
	}
	if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
		return fmt.Errorf("bbox longitude out of range")
	}
	if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
		return fmt.Errorf("bbox latitude out of range")
	}
	if !(bb.X2 > bb.X1 && bb.Y2 > bb.Y1) {
		return fmt.Errorf("bbox must satisfy x2>x1 and y2>y1")
	}
	return nil
}

// Touches reports whether the event area overlaps b. An event without a
// bbox touches everything.
func (e Event) Touches(b model.BBox) bool {
	if e.BBox == nil {
		return true
	}
	return e.BBox.Bound().Intersects(b.Bound())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
