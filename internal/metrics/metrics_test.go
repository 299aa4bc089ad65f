package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/heatstress-map/internal/core/observability"
)

func TestProvider_RegistersStandardCollectors_AndBuildInfo(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test", Revision: "r", Branch: "b", BuildDate: "now"}})

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "smoke"})
	p.Register(g)
	g.Set(42)

	if n := testutil.CollectAndCount(g); n == 0 {
		t.Fatalf("expected at least 1 sample from test_gauge, got %d", n)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()

	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload; got:\n%s", body)
	}
	if !strings.Contains(body, "process_cpu_seconds_total") && !strings.Contains(body, "process_start_time_seconds") {
		t.Fatalf("expected process_* metrics in payload; got:\n%s", body)
	}
	if !strings.Contains(body, `app_build_info{`) {
		t.Fatalf("expected app_build_info in payload; got:\n%s", body)
	}
}

func TestProvider_EnabledAttachesServiceCollectors(t *testing.T) {
	p := Init(Config{Enabled: true, Build: BuildInfo{Version: "test"}})
	observability.IncFeatureInfo("empty")
	observability.ObserveUpstreamLatency("wms", 0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	body := rr.Body.String()
	if !strings.Contains(body, `featureinfo_results_total{outcome="empty"}`) {
		t.Fatalf("expected featureinfo_results_total; got:\n%s", body)
	}
	if !strings.Contains(body, `upstream_latency_seconds_bucket{upstream="wms"`) {
		t.Fatalf("expected upstream_latency_seconds; got:\n%s", body)
	}
}

func TestProvider_ServeDisabledReturnsImmediately(t *testing.T) {
	p := Init(Config{})
	if err := p.Serve(context.Background(), slog.Default()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}
