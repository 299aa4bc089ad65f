package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/heatstress-map/internal/buildings"
	"github.com/mohammed-shakir/heatstress-map/internal/cache/redisstore"
	"github.com/mohammed-shakir/heatstress-map/internal/core/config"
	"github.com/mohammed-shakir/heatstress-map/internal/core/executor"
	"github.com/mohammed-shakir/heatstress-map/internal/core/httpclient"
	"github.com/mohammed-shakir/heatstress-map/internal/core/router"
	"github.com/mohammed-shakir/heatstress-map/internal/core/server"
	"github.com/mohammed-shakir/heatstress-map/internal/featureinfo"
	"github.com/mohammed-shakir/heatstress-map/internal/invalidation"
	"github.com/mohammed-shakir/heatstress-map/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/heatstress-map/internal/layers"
	mylog "github.com/mohammed-shakir/heatstress-map/internal/logger"
	"github.com/mohammed-shakir/heatstress-map/internal/mesh"
	"github.com/mohammed-shakir/heatstress-map/internal/metrics"
	"github.com/mohammed-shakir/heatstress-map/internal/objects"
	"github.com/mohammed-shakir/heatstress-map/internal/orchestrator"
	"github.com/mohammed-shakir/heatstress-map/internal/staticobjects"
	"github.com/mohammed-shakir/heatstress-map/internal/wms"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the map session HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, config.FromEnv())
		},
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	zl := mylog.Build(mylog.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Instance:  cfg.Invalidation.Source,
		Component: "heatstress",
	}, os.Stderr)
	return mylog.NewSlog(&zl)
}

// openStore picks the committed-object store for cfg.Driver. The returned
// func releases it.
func openStore(ctx context.Context, cfg config.StoreCfg) (objects.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return objects.NewMemoryStore(), func() {}, nil
	case "", "file":
		return objects.NewFileStore(cfg.Dir, cfg.Key), func() {}, nil
	case "redis":
		rc, err := redisstore.New(ctx, cfg.RedisAddr,
			redisstore.WithDialTimeout(2*time.Second),
			redisstore.WithReadTimeout(cfg.OpTimeout),
			redisstore.WithWriteTimeout(cfg.OpTimeout),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		return objects.NewRedisStore(rc, cfg.Key, cfg.OpTimeout), func() { _ = rc.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Driver)
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg)
	logger.Info("starting heatstress-map", "addr", cfg.Addr, "version", Version, "backend", cfg.BackendURL)

	mp := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Addr:    cfg.MetricsAddr,
		Path:    cfg.MetricsPath,
		Build:   metrics.BuildInfo{Version: Version},
	})
	go func() {
		if err := mp.Serve(ctx, logger); err != nil {
			logger.Error("metrics server", "error", err)
		}
	}()

	client, err := httpclient.NewOutbound(httpclient.Options{
		Timeout:       cfg.UpstreamTimeout,
		BaseURL:       cfg.BackendURL,
		SessionCookie: cfg.SessionCookie,
	})
	if err != nil {
		return err
	}
	exec, err := executor.New(logger, client, cfg.BackendURL)
	if err != nil {
		return err
	}

	overlays, err := config.LoadOverlayCatalog(cfg.OverlayCatalog)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	mgr := objects.NewManager(ctx, logger, exec, store, objects.NewCatalog(exec), objects.Options{
		Signature:   cfg.Objects.AppSignature,
		DefaultType: cfg.Objects.DefaultType,
	})

	builder, err := wms.New(logger, exec, wms.Options{
		BaseURL:     cfg.WMS.URL,
		Bounds:      cfg.WMS.Bounds,
		Width:       cfg.WMS.Width,
		Height:      cfg.WMS.Height,
		Format:      cfg.WMS.Format,
		Transparent: cfg.WMS.Transparent,
		Opacity:     cfg.WMS.Opacity,
		TileMode:    cfg.WMS.TileMode,
		TileSize:    cfg.WMS.TileSize,
		MinZoom:     cfg.WMS.MinZoom,
		MaxZoom:     cfg.WMS.MaxZoom,
		CacheSize:   cfg.WMS.CacheSize,
	})
	if err != nil {
		return err
	}

	legendLayer := overlays.LegendLayer
	if legendLayer == "" {
		legendLayer = overlays.DefaultLayer
	}

	var pub invalidation.Publisher = invalidation.Nop{}
	if cfg.Invalidation.Enabled {
		kp, err := invalidation.NewKafkaPublisher(logger, cfg.Invalidation.BrokerList(), cfg.Invalidation.Topic, cfg.Invalidation.QueueSize)
		if err != nil {
			return err
		}
		pub = kp
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn("close invalidation publisher", "error", err)
		}
	}()

	meshOpts := mesh.DefaultOptions()
	meshOpts.GroundDatum = cfg.Mesh.GroundDatum
	meshOpts.HeightScale = cfg.Mesh.HeightScale

	orch := orchestrator.New(orchestrator.Config{
		Basemap: layers.Tile{
			ID:          layers.BasemapID,
			URLTemplate: cfg.BasemapURL,
			TileSize:    256,
			MaxZoom:     19,
		},
		MeshPath: cfg.Mesh.Path,
		Mesh:     meshOpts,
		Overlays: overlays,
		Zoom:     cfg.WMS.MinZoom,
		Toggles:  orchestrator.Toggles{Buildings: true, Objects: true, Overlay: true},
		Invalidation: orchestrator.InvalidationSettings{
			Layer:  cfg.Invalidation.Layer,
			Source: cfg.Invalidation.Source,
			PadDeg: cfg.Invalidation.PadDeg,
		},
	}, orchestrator.Deps{
		Logger:  logger,
		Exec:    exec,
		Objects: mgr,
		WMS:     builder,
		FeatureInfo: featureinfo.New(logger, exec, featureinfo.Options{
			BaseURL: cfg.WMS.URL,
			Bounds:  cfg.WMS.Bounds,
			Width:   cfg.WMS.Width,
			Height:  cfg.WMS.Height,
		}),
		Buildings:  buildings.NewClient(exec, "", cfg.BuildingCacheTTL),
		Static:     staticobjects.New(exec, staticobjects.Options{BBox: cfg.Objects.StaticBBox}),
		MeshLoader: mesh.NewOBJLoader(exec),
		Legend:     wms.NewLegendSource(exec, legendLayer),
		Publisher:  pub,
	})
	orch.Start()
	defer orch.Close()

	if cfg.Invalidation.Enabled && cfg.Invalidation.Consume {
		cons := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: cfg.Invalidation.BrokerList(),
			Topic:   cfg.Invalidation.Topic,
			GroupID: cfg.Invalidation.GroupID,
			Layer:   cfg.Invalidation.Layer,
			Source:  cfg.Invalidation.Source,
		}, logger, orch)
		go func() {
			if err := cons.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("invalidation consumer stopped", "error", err)
			}
		}()
	}

	api := router.New(logger, orch)
	h := server.Handler(logger, api, orch, mp.Handler())
	err = server.Run(ctx, cfg.Addr, logger, h)
	logger.Info("server stopped")
	return err
}
