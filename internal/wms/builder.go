// Package wms turns WMS GetMap responses into bitmap layer descriptors.
package wms

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/heatstress-map/internal/cache/keys"
	"github.com/mohammed-shakir/heatstress-map/internal/core/executor"
	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
	"github.com/mohammed-shakir/heatstress-map/internal/core/observability"
	"github.com/mohammed-shakir/heatstress-map/internal/core/ogc"
	"github.com/mohammed-shakir/heatstress-map/internal/layers"
)

type Options struct {
	BaseURL     string
	Bounds      model.BBox
	Width       int
	Height      int
	Format      string
	Transparent bool
	Opacity     float64

	TileMode bool
	TileSize int
	MinZoom  int
	MaxZoom  int

	// CacheSize bounds the decoded raster cache; <= 0 uses 64.
	CacheSize int
	// Parallel bounds concurrent tile fetches; <= 0 uses 4.
	Parallel int
}

// Request selects what to draw. Version is the objects version and doubles as
// the cache buster.
type Request struct {
	Layer   string
	Style   string
	Version int
	Zoom    int
}

type Builder struct {
	logger *slog.Logger
	exec   executor.Interface
	opts   Options
	cache  *lru.Cache[string, *image.RGBA]
}

func New(logger *slog.Logger, exec executor.Interface, opts Options) (*Builder, error) {
	if exec == nil {
		return nil, fmt.Errorf("wms: executor required")
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("wms: base url required")
	}
	if !opts.Bounds.Valid() {
		return nil, fmt.Errorf("wms: invalid bounds %s", opts.Bounds)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("wms: invalid raster size %dx%d", opts.Width, opts.Height)
	}
	if opts.TileSize <= 0 {
		opts.TileSize = ogc.DefaultTileSize
	}
	if opts.MaxZoom < opts.MinZoom {
		opts.MaxZoom = opts.MinZoom
	}
	if opts.Format == "" {
		opts.Format = ogc.DefaultFormat
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 4
	}
	size := opts.CacheSize
	if size <= 0 {
		size = 64
	}
	cache, err := lru.New[string, *image.RGBA](size)
	if err != nil {
		return nil, fmt.Errorf("wms: raster cache: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{logger: logger, exec: exec, opts: opts, cache: cache}, nil
}

func (b *Builder) Bounds() model.BBox { return b.opts.Bounds }

// LayerID changes whenever the style or objects version changes so the
// renderer drops its cached texture.
func LayerID(style string, version int) string {
	if style == "" {
		style = ogc.DefaultStyle
	}
	return "wms-overlay-" + style + "-" + strconv.Itoa(version)
}

// GetMapURL composes a GetMap URL for one raster.
func (b *Builder) GetMapURL(layer string, bounds model.BBox, width, height, version int) string {
	params := ogc.BuildGetMapParams(ogc.GetMapRequest{
		Layers:      layer,
		Format:      b.opts.Format,
		Transparent: b.opts.Transparent,
		Bounds:      bounds,
		Width:       width,
		Height:      height,
		CacheBust:   strconv.Itoa(version),
	})
	return ogc.ComposeURL(b.opts.BaseURL, params)
}

// Build fetches and decodes the overlay. In tile mode the result is one
// bitmap per tile covering the configured extent at r.Zoom.
func (b *Builder) Build(ctx context.Context, r Request) (layers.Descriptor, error) {
	if r.Layer == "" {
		return nil, fmt.Errorf("wms: layer required")
	}
	id := LayerID(r.Style, r.Version)
	if !b.opts.TileMode {
		bm, err := b.raster(ctx, r, b.opts.Bounds, b.opts.Width, b.opts.Height)
		if err != nil {
			return nil, err
		}
		bm.ID = id
		return bm, nil
	}
	return b.buildTiled(ctx, id, r)
}

func (b *Builder) buildTiled(ctx context.Context, id string, r Request) (*layers.TiledBitmap, error) {
	z := min(max(r.Zoom, b.opts.MinZoom), b.opts.MaxZoom)
	tiles := ogc.TilesCovering(b.opts.Bounds, z)
	out := make([]*layers.Bitmap, len(tiles))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	sem := make(chan struct{}, b.opts.Parallel)
	for i, t := range tiles {
		wg.Add(1)
		go func(i int, x, y uint32) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			tb := ogc.TileBounds(x, y, z)
			bm, err := b.raster(ctx, r, tb, b.opts.TileSize, b.opts.TileSize)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("tile %d/%d/%d: %w", z, x, y, err)
				}
				mu.Unlock()
				return
			}
			bm.ID = fmt.Sprintf("%s-%d-%d-%d", id, z, x, y)
			out[i] = bm
		}(i, t.X, t.Y)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return &layers.TiledBitmap{
		ID:       id,
		TileSize: b.opts.TileSize,
		MinZoom:  b.opts.MinZoom,
		MaxZoom:  b.opts.MaxZoom,
		Tiles:    out,
	}, nil
}

func (b *Builder) raster(ctx context.Context, r Request, bounds model.BBox, w, h int) (*layers.Bitmap, error) {
	key := keys.RasterKey(r.Layer, r.Style, r.Version, bounds, w, h)
	img, ok := b.cache.Get(key)
	if ok {
		observability.IncRasterCacheHit()
	} else {
		observability.IncRasterCacheMiss()
		u := b.GetMapURL(r.Layer, bounds, w, h, r.Version)
		body, ct, err := b.exec.Fetch(ctx, u, b.opts.Format)
		if err != nil {
			return nil, fmt.Errorf("getmap: %w", err)
		}
		img, err = Decode(body, ct)
		if err != nil {
			return nil, err
		}
		b.cache.Add(key, img)
		b.logger.Debug("wms raster cached", "key", key, "bytes", len(body))
	}
	return &layers.Bitmap{
		Bounds:    bounds,
		Width:     w,
		Height:    h,
		RasterKey: key,
		Opacity:   b.opts.Opacity,
		Image:     img,
	}, nil
}

// Raster returns a previously decoded raster by key.
func (b *Builder) Raster(key string) (*image.RGBA, bool) {
	return b.cache.Peek(key)
}

func (b *Builder) Purge() { b.cache.Purge() }
