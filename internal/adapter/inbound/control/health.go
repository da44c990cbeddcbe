package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "ok", "stopped" or "degraded"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// HealthChecker verifies component health.
type HealthChecker struct {
	bridge   Bridge
	listener Listener
	feed     Feed
	version  string
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	status := "ok"

	if h.listener != nil && h.listener.IsRunning() {
		checks["listener"] = fmt.Sprintf("ok: port %d", h.listener.Port())
	} else {
		checks["listener"] = "stopped"
		status = "stopped"
	}

	if h.bridge != nil {
		st := h.bridge.Stats()
		checks["pending"] = fmt.Sprintf("%d pending, %d streaming", st.Pending, st.Streaming)
		checks["admission"] = fmt.Sprintf("%d/%d", st.Active, h.bridge.MaxConcurrent())
	}

	// Check notification queue depth
	if h.feed != nil {
		depth, capacity := h.feed.Len(), h.feed.Cap()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			// >90% full: the decision-maker is not draining the feed
			checks["notify_queue"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			if status == "ok" {
				status = "degraded"
			}
		} else {
			checks["notify_queue"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.feed.Dropped(); drops > 0 {
			checks["notify_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["notify_queue"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable) // 503
		} else {
			w.WriteHeader(http.StatusOK) // 200
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
