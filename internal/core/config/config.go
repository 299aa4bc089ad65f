// Package config loads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/heatstress-map/internal/core/model"
)

type WMSCfg struct {
	URL         string
	Bounds      model.BBox
	Width       int
	Height      int
	Format      string
	Transparent bool
	Opacity     float64
	TileMode    bool
	TileSize    int
	MinZoom     int
	MaxZoom     int
	CacheSize   int
}

type MeshCfg struct {
	Path        string
	GroundDatum float64
	HeightScale float64
}

type StoreCfg struct {
	Driver    string
	Dir       string
	Key       string
	RedisAddr string
	OpTimeout time.Duration
}

type ObjectsCfg struct {
	AppSignature string
	DefaultType  string
	StaticBBox   model.ProjectedBBox
}

type InvalidationCfg struct {
	Enabled   bool
	Consume   bool
	Topic     string
	Brokers   string
	GroupID   string
	Layer     string
	Source    string
	PadDeg    float64
	QueueSize int
}

type Config struct {
	Addr             string
	LogLevel         string
	LogConsole       bool
	LogSampleN       int
	BackendURL       string
	SessionCookie    string
	UpstreamTimeout  time.Duration
	BasemapURL       string
	OverlayCatalog   string
	BuildingCacheTTL time.Duration
	WMS              WMSCfg
	Mesh             MeshCfg
	Store            StoreCfg
	Objects          ObjectsCfg
	Invalidation     InvalidationCfg
	MetricsEnabled   bool
	MetricsAddr      string
	MetricsPath      string
}

var (
	defaultWMSBounds  = model.BBox{West: 3.609725, South: 51.4979978, East: 3.6170983, North: 51.5025997}
	defaultStaticBBox = model.ProjectedBBox{MinX: 31593.331, MinY: 391390.397, MaxX: 32093.331, MaxY: 391890.397}
)

func FromEnv() Config {
	backend := strings.TrimRight(getenv("BACKEND_URL", "http://localhost:8000"), "/")

	tileSize := getint("WMS_TILE_SIZE", 256)
	if tileSize <= 0 {
		tileSize = 256
	}
	minZoom := getint("WMS_MIN_ZOOM", 14)
	maxZoom := getint("WMS_MAX_ZOOM", 19)
	if minZoom < 0 {
		minZoom = 0
	}
	if maxZoom < minZoom {
		maxZoom = minZoom
	}

	return Config{
		Addr:             getenv("ADDR", ":8090"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogConsole:       getbool("LOG_CONSOLE", false),
		LogSampleN:       getint("LOG_SAMPLE_N", 0),
		BackendURL:       backend,
		SessionCookie:    getenv("SESSION_COOKIE", ""),
		UpstreamTimeout:  getduration("UPSTREAM_TIMEOUT", 30*time.Second),
		BasemapURL:       getenv("BASEMAP_URL", "https://cartodb-basemaps-a.global.ssl.fastly.net/light_nolabels/{z}/{x}/{y}.png"),
		OverlayCatalog:   getenv("OVERLAY_CATALOG", ""),
		BuildingCacheTTL: getduration("BUILDING_CACHE_TTL", 10*time.Minute),
		WMS: WMSCfg{
			URL:         getenv("WMS_URL", backend+"/qgis/wms"),
			Bounds:      getbbox("WMS_BOUNDS", defaultWMSBounds),
			Width:       getint("WMS_WIDTH", 2048),
			Height:      getint("WMS_HEIGHT", 2048),
			Format:      getenv("WMS_FORMAT", "image/png"),
			Transparent: getbool("WMS_TRANSPARENT", true),
			Opacity:     getfloat("WMS_OPACITY", 0.8),
			TileMode:    getbool("WMS_TILE_MODE", false),
			TileSize:    tileSize,
			MinZoom:     minZoom,
			MaxZoom:     maxZoom,
			CacheSize:   getint("RASTER_CACHE_SIZE", 64),
		},
		Mesh: MeshCfg{
			Path:        getenv("MESH_PATH", ""),
			GroundDatum: getfloat("MESH_GROUND_DATUM", 4),
			HeightScale: getfloat("MESH_HEIGHT_SCALE", 1),
		},
		Store: StoreCfg{
			Driver:    strings.ToLower(getenv("STORE_DRIVER", "file")),
			Dir:       getenv("STORE_DIR", "./data"),
			Key:       getenv("STORE_KEY", "userPlacedObjects"),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			OpTimeout: getduration("STORE_OP_TIMEOUT", 250*time.Millisecond),
		},
		Objects: ObjectsCfg{
			AppSignature: getenv("APP_SIGNATURE", "neeghboorhoods"),
			DefaultType:  getenv("DEFAULT_OBJECT_TYPE", "Trees"),
			StaticBBox:   getprojbbox("STATIC_OBJECTS_BBOX", defaultStaticBBox),
		},
		Invalidation: InvalidationCfg{
			Enabled:   getbool("INVALIDATION_ENABLED", false),
			Consume:   getbool("INVALIDATION_CONSUME", true),
			Topic:     getenv("KAFKA_TOPIC", "heatstress-invalidation"),
			Brokers:   getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID:   getenv("KAFKA_GROUP_ID", "heatstress-map-"+hostname()),
			Layer:     getenv("INVALIDATION_LAYER", "pet-version-1"),
			Source:    getenv("INSTANCE_ID", hostname()),
			PadDeg:    getfloat("INVALIDATION_PAD_DEG", 0.0005),
			QueueSize: getint("INVALIDATION_QUEUE", 256),
		},
		MetricsEnabled: getbool("METRICS_ENABLED", false),
		MetricsAddr:    getenv("METRICS_ADDR", ""),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
	}
}

// BrokerList splits the comma separated broker list.
func (c InvalidationCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "heatstress"
	}
	return h
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "west,south,east,north"
func getbbox(k string, def model.BBox) model.BBox {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return def
	}
	var f [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return def
		}
		f[i] = n
	}
	b := model.BBox{West: f[0], South: f[1], East: f[2], North: f[3]}
	if !b.Valid() {
		return def
	}
	return b
}

func getprojbbox(k string, def model.ProjectedBBox) model.ProjectedBBox {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := model.ParseProjectedBBox(v)
	if err != nil {
		return def
	}
	return b
}
