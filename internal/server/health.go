package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
)

// HealthChecker serves the gateway's liveness and readiness probes.
type HealthChecker struct {
	ready     atomic.Bool
	draining  atomic.Bool
	startTime time.Time

	// connections reports the current connection count for the detailed
	// endpoint; may be nil.
	connections func() int
}

func NewHealthChecker(connections func() int) *HealthChecker {
	h := &HealthChecker{
		startTime:   time.Now(),
		connections: connections,
	}
	h.ready.Store(true)
	return h
}

// SetReady flips the readiness state reported by /readyz.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// SetDraining marks the gateway as shutting down.
func (h *HealthChecker) SetDraining() {
	h.draining.Store(true)
}

type healthResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime,omitempty"`
	Connections *int   `json:"connections,omitempty"`
}

// LivenessHandler answers /healthz: the process is up.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler answers /readyz: the gateway accepts traffic.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		response := healthResponse{Status: healthStatusOK}
		switch {
		case h.draining.Load():
			response.Status = healthStatusShuttingDown
		case !h.ready.Load():
			response.Status = healthStatusNotReady
		}

		if response.Status == healthStatusOK {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(response)
	})
}

// DetailedHealthHandler additionally reports uptime and the open
// connection count.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		response := healthResponse{
			Status: healthStatusOK,
			Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
		}
		if h.connections != nil {
			n := h.connections()
			response.Connections = &n
		}
		if h.draining.Load() || !h.ready.Load() {
			response.Status = healthStatusNotReady
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	})
}

// RegisterHealthEndpoints mounts the probe handlers on the given mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}
