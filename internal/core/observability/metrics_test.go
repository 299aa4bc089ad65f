package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("GET", "/api/v1/layers", 200, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "app_build_info") || !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestInit_CustomRegistryReceivesDomainCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	Init(reg, true) // idempotent

	IncFeatureInfo("hit")
	IncFeatureInfo("out_of_bounds")
	IncRasterCacheMiss()
	IncRasterCacheHit()
	ObserveSave(nil)
	ObserveSave(errors.New("boom"))
	IncStale("featureinfo")
	ObserveStoreOp("set", nil, 0.001)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("metrics scrape: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	out := string(b)
	for _, want := range []string{
		`featureinfo_results_total{outcome="hit"}`,
		`featureinfo_results_total{outcome="out_of_bounds"}`,
		`raster_cache_results_total{outcome="miss"}`,
		`object_saves_total{result="error"}`,
		`stale_results_total{operation="featureinfo"}`,
		`store_op_total{op="set",result="ok"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in:\n%s", want, out)
		}
	}
}

func TestInit_DisabledIsNoop(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, false)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 0 {
		t.Fatalf("expected empty registry, got %d families", len(mfs))
	}
}
