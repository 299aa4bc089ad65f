package health

import (
	"encoding/json"
	"net/http"
)

// ReadinessReporter is ready once the session can accept edits; checks
// carries per-component load errors.
type ReadinessReporter interface {
	Readiness() (ready bool, checks map[string]string)
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks,omitempty"`
		}
		ready, checks := rr.Readiness()
		out := resp{Status: "not_ready", Checks: checks}
		if ready {
			out.Status = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
