// Package buildings looks up BAG building metadata for a clicked point and
// turns the footprint into an extruded highlight.
package buildings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/heatstress-map/internal/core/executor"
	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/crs"
	"github.com/mohammed-shakir/heatstress-map/internal/layers"
)

const DefaultEndpoint = "3dbag/search-pand"

// ErrNoFootprint means the lookup succeeded but carried no usable polygon.
var ErrNoFootprint = errors.New("building has no footprint polygon")

type Pand struct {
	BagID            string          `json:"bag_id"`
	ConstructionYear int             `json:"construction_year,omitempty"`
	Status           string          `json:"status,omitempty"`
	Geometry         json.RawMessage `json:"geometry,omitempty"`
}

type Verblijfsobject struct {
	BagID         string   `json:"bag_id"`
	UsageFunction []string `json:"usage_function,omitempty"`
	SurfaceAreaM2 float64  `json:"surface_area_m2"`
	Status        string   `json:"status,omitempty"`
}

// Info is the search-pand response.
type Info struct {
	BagID            string            `json:"bag_id"`
	Pand             Pand              `json:"pand_data"`
	Verblijfsobjects []Verblijfsobject `json:"verblijfsobject_data"`
}

// Highlight is the footprint in WGS84 with its display height.
type Highlight struct {
	Polygon []model.GeoPoint `json:"polygon"`
	Height  float64          `json:"height"`
	Info    *Info            `json:"info,omitempty"`
}

type Client struct {
	exec     executor.Interface
	endpoint string
	cache    *ttlcache.Cache[string, *Info]
}

// NewClient caches lookups for ttl; ttl <= 0 disables the cache.
func NewClient(exec executor.Interface, endpoint string, ttl time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{exec: exec, endpoint: endpoint}
	if ttl > 0 {
		c.cache = ttlcache.New(
			ttlcache.WithTTL[string, *Info](ttl),
			ttlcache.WithCapacity[string, *Info](1024),
		)
	}
	return c
}

// Lookup fetches metadata for the building at RD point p.
func (c *Client) Lookup(ctx context.Context, p model.ProjectedPoint) (*Info, error) {
	x := strconv.FormatFloat(p.X, 'f', -1, 64)
	y := strconv.FormatFloat(p.Y, 'f', -1, 64)
	key := x + "," + y
	if c.cache != nil {
		if item := c.cache.Get(key, ttlcache.WithDisableTouchOnHit[string, *Info]()); item != nil {
			return item.Value(), nil
		}
	}

	body, _, err := c.exec.Get(ctx, c.endpoint, url.Values{"x_coord": {x}, "y_coord": {y}}, "application/json")
	if err != nil {
		return nil, fmt.Errorf("building api: %w", err)
	}
	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode building: %w", err)
	}
	if c.cache != nil {
		c.cache.Set(key, &info, ttlcache.DefaultTTL)
	}
	return &info, nil
}

// Highlight looks up the building under a WGS84 click.
func (c *Client) Highlight(ctx context.Context, at model.GeoPoint) (*Highlight, error) {
	info, err := c.Lookup(ctx, crs.ToProjected(at))
	if err != nil {
		return nil, err
	}
	return HighlightFrom(info)
}

// Footprint returns the outer ring of the pand polygon in RD meters.
func Footprint(info *Info) (orb.Ring, error) {
	if info == nil || len(info.Pand.Geometry) == 0 {
		return nil, ErrNoFootprint
	}
	g, err := geojson.UnmarshalGeometry(info.Pand.Geometry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFootprint, err)
	}
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok || len(poly) == 0 || len(poly[0]) == 0 {
		return nil, ErrNoFootprint
	}
	return poly[0], nil
}

// Area is the planar area of ring, whatever its winding or closure.
func Area(ring orb.Ring) float64 {
	if len(ring) < 3 {
		return 0
	}
	if !ring.Closed() {
		ring = append(append(orb.Ring(nil), ring...), ring[0])
	}
	return math.Abs(planar.Area(ring))
}

// EstimateHeight guesses a display height from the footprint area. It is a
// visual approximation only.
func EstimateHeight(area float64) float64 {
	if math.IsNaN(area) || math.IsInf(area, 0) || area <= 0 {
		return 15
	}
	return 8 + 0.4*math.Sqrt(area)
}

func HighlightFrom(info *Info) (*Highlight, error) {
	ring, err := Footprint(info)
	if err != nil {
		return nil, err
	}
	poly := make([]model.GeoPoint, len(ring))
	for i, p := range ring {
		poly[i] = crs.ToGeographic(model.ProjectedPoint{X: p[0], Y: p[1]})
	}
	return &Highlight{Polygon: poly, Height: EstimateHeight(Area(ring)), Info: info}, nil
}

// Layer renders h as an extruded yellow footprint.
func Layer(h *Highlight) *layers.Polygon {
	ring := make([][2]float64, len(h.Polygon))
	for i, p := range h.Polygon {
		ring[i] = [2]float64{p.Lon, p.Lat}
	}
	return &layers.Polygon{
		ID:        layers.HighlightID,
		Rings:     [][][2]float64{ring},
		Extruded:  true,
		Elevation: h.Height,
		FillColor: layers.Color{255, 255, 0, 150},
		LineColor: layers.Color{0, 0, 0, 255},
	}
}
