package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type fakeReadiness struct {
	ready  bool
	checks map[string]string
}

func (f fakeReadiness) Readiness() (bool, map[string]string) { return f.ready, f.checks }

func TestReadiness_Handler(t *testing.T) {
	cases := []struct {
		name   string
		rr     fakeReadiness
		code   int
		status string
	}{
		{"ready", fakeReadiness{ready: true}, http.StatusOK, `"status":"ready"`},
		{"catalog missing", fakeReadiness{checks: map[string]string{"catalog": "fetch measure types: boom"}}, http.StatusServiceUnavailable, `"catalog":"fetch measure types: boom"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Readiness(tc.rr)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tc.code {
				t.Fatalf("status=%d want %d", rec.Code, tc.code)
			}
			if !strings.Contains(rec.Body.String(), tc.status) {
				t.Fatalf("body=%s", rec.Body.String())
			}
		})
	}
}
