// Package featureinfo answers "what is the overlay value here" for a map click.
package featureinfo

import (
	"context"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/mohammed-shakir/heatstress-map/internal/core/executor"
	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/core/observability"
	"github.com/mohammed-shakir/heatstress-map/internal/core/ogc"
	"github.com/mohammed-shakir/heatstress-map/internal/core/reqseq"
)

// Band property names, in lookup order.
var bandKeys = []string{"Band 1", "band_1"}

type Options struct {
	BaseURL string
	Bounds  model.BBox
	Width   int
	Height  int
	Layer   string
}

// Service holds the most recent feature-info result. A newer Request always
// wins over an older one still in flight.
type Service struct {
	logger *slog.Logger
	exec   executor.Interface
	opts   Options
	seq    *reqseq.Sequence

	mu      sync.RWMutex
	layer   string
	current *model.FeatureInfoResult
}

func New(logger *slog.Logger, exec executor.Interface, opts Options) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		logger: logger,
		exec:   exec,
		opts:   opts,
		seq:    reqseq.New("featureinfo"),
		layer:  opts.Layer,
	}
}

// SetLayer retargets queries and drops the current result.
func (s *Service) SetLayer(layer string) {
	s.mu.Lock()
	s.layer = layer
	s.mu.Unlock()
	s.Clear()
}

// Clear forgets the current result and outdates in-flight requests.
func (s *Service) Clear() {
	s.seq.Invalidate()
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *Service) Current() (model.FeatureInfoResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return model.FeatureInfoResult{}, false
	}
	return *s.current, true
}

// Request queries the overlay value at lon/lat. ok is false when the result
// was cleared (outside the raster, upstream failure, unexpected payload) or
// when a newer request superseded this one.
func (s *Service) Request(ctx context.Context, lon, lat float64) (model.FeatureInfoResult, bool) {
	return s.Resolve(ctx, s.Begin(), lon, lat)
}

// Begin reserves the ticket for a query, outdating every earlier one. Call
// it in click order and hand the ticket to Resolve.
func (s *Service) Begin() reqseq.Ticket {
	return s.seq.Next()
}

// Resolve runs the query started by Begin.
func (s *Service) Resolve(ctx context.Context, t reqseq.Ticket, lon, lat float64) (model.FeatureInfoResult, bool) {
	p := model.GeoPoint{Lon: lon, Lat: lat}

	i, j, inside := ogc.PixelFor(s.opts.Bounds, s.opts.Width, s.opts.Height, p)
	if !inside {
		observability.IncFeatureInfo("out_of_bounds")
		s.settle(t, nil)
		return model.FeatureInfoResult{}, false
	}

	s.mu.RLock()
	layer := s.layer
	s.mu.RUnlock()

	params := ogc.BuildGetFeatureInfoParams(ogc.FeatureInfoRequest{
		Layer:  layer,
		Bounds: s.opts.Bounds,
		Width:  s.opts.Width,
		Height: s.opts.Height,
		I:      i,
		J:      j,
	})
	body, _, err := s.exec.Fetch(ctx, ogc.ComposeURL(s.opts.BaseURL, params), ogc.FeatureInfoFormat)
	if err != nil {
		s.logger.Debug("feature info unavailable", "lon", lon, "lat", lat, "error", err)
		observability.IncFeatureInfo("error")
		s.settle(t, nil)
		return model.FeatureInfoResult{}, false
	}

	band, ok := ExtractBand(body)
	if !ok {
		s.logger.Debug("feature info not a feature collection", "lon", lon, "lat", lat)
		observability.IncFeatureInfo("error")
		s.settle(t, nil)
		return model.FeatureInfoResult{}, false
	}

	res := model.FeatureInfoResult{Lon: lon, Lat: lat, Band: band}
	if !s.settle(t, &res) {
		observability.IncFeatureInfo("stale")
		return model.FeatureInfoResult{}, false
	}
	if band == nil {
		observability.IncFeatureInfo("empty")
	} else {
		observability.IncFeatureInfo("hit")
	}
	return res, true
}

// settle stores res if t is still the latest ticket.
func (s *Service) settle(t reqseq.Ticket, res *model.FeatureInfoResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seq.Accept(t) {
		return false
	}
	s.current = res
	return true
}

// ExtractBand reads the band value of the first feature in a GetFeatureInfo
// JSON response. ok is false when body is not a feature collection; a nil
// band with ok true means the server had no usable value.
func ExtractBand(body []byte) (band *float64, ok bool) {
	if !gjson.ValidBytes(body) {
		return nil, false
	}
	features := gjson.GetBytes(body, "features")
	if !features.IsArray() {
		return nil, false
	}
	props := features.Get("0.properties")
	if !props.IsObject() {
		return nil, true
	}

	fields := props.Map()
	var raw gjson.Result
	for _, k := range bandKeys {
		if v, found := fields[k]; found && v.Type != gjson.Null {
			raw = v
			break
		}
	}
	switch raw.Type {
	case gjson.Number:
		return model.Float(raw.Num), true
	case gjson.String:
		s := strings.TrimSpace(raw.Str)
		if s == "" {
			return nil, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return nil, true
		}
		return model.Float(f), true
	default:
		return nil, true
	}
}
