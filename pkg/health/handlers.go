package health

import (
	"encoding/json"
	"net/http"
)

const (
	LivePath  = "/health/live"
	ReadyPath = "/health/ready"
)

// Mount registers the liveness and readiness handlers on mux.
func (h *Health) Mount(mux *http.ServeMux) {
	mux.Handle(LivePath, h.LivenessHandler())
	mux.Handle(ReadyPath, h.ReadinessHandler())
}

// LivenessHandler always answers 200 while the process can serve HTTP.
func (h *Health) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler answers 200 when every checker passes and 503 otherwise.
// The body lists each checker's result.
func (h *Health) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := h.Check(r.Context())

		status := http.StatusOK
		if result.Status != StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	// If encoding fails the client sees an empty body with the status.
	_ = json.NewEncoder(w).Encode(v)
}
