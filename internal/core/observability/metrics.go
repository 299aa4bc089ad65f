package observability

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	featureInfoResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "featureinfo_results_total",
			Help: "Feature info queries by outcome.",
		},
		[]string{"outcome"},
	)

	rasterCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raster_cache_results_total",
			Help: "Decoded raster cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	objectSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "object_saves_total",
			Help: "Object save attempts by result.",
		},
		[]string{"result"},
	)

	staleResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stale_results_total",
			Help: "Async results discarded because a newer request superseded them.",
		},
		[]string{"operation"},
	)

	storeOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_op_total",
			Help: "Committed object store operations by result.",
		},
		[]string{"op", "result"},
	)

	storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Committed object store operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	invalidationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Invalidation events by result.",
		},
		[]string{"result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		featureInfoResults,
		rasterCacheResults,
		objectSaves,
		staleResults,
		storeOpTotal,
		storeOpDuration,
		invalidationEvents,
	}
}

var defaultOnce sync.Once

func init() {
	defaultOnce.Do(func() {
		register(prometheus.DefaultRegisterer)
		prometheus.MustRegister(buildInfo)
	})
}

// Init registers the domain collectors on reg as well. A nil reg or
// disabled metrics leaves only the default registry. Build info stays on
// the default registry; custom registries carry their own.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	register(reg)
}

func register(reg prometheus.Registerer) {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

// IncFeatureInfo counts hit, empty, out_of_bounds, error or stale.
func IncFeatureInfo(outcome string) {
	featureInfoResults.WithLabelValues(outcome).Inc()
}

func IncRasterCacheHit()  { rasterCacheResults.WithLabelValues("hit").Inc() }
func IncRasterCacheMiss() { rasterCacheResults.WithLabelValues("miss").Inc() }

func ObserveSave(err error) {
	if err != nil {
		objectSaves.WithLabelValues("error").Inc()
		return
	}
	objectSaves.WithLabelValues("ok").Inc()
}

func IncStale(operation string) {
	staleResults.WithLabelValues(operation).Inc()
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	storeOpTotal.WithLabelValues(op, res).Inc()
	storeOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func IncInvalidation(result string) {
	invalidationEvents.WithLabelValues(result).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
