package monitoring

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the health status of the process.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
)

// Health is the body of the health endpoint.
type Health struct {
	Status  HealthStatus  `json:"status"`
	Failing int           `json:"failing_scripts"`
	Uptime  time.Duration `json:"uptime_ns"`
}

// Health reports degraded while any build script is failing. A failing
// script is not fatal, so the endpoint always answers 200.
func (m *Metrics) Health() Health {
	h := Health{Status: HealthStatusHealthy, Failing: m.Failing()}
	if m != nil {
		h.Uptime = time.Since(m.started)
	}
	if h.Failing > 0 {
		h.Status = HealthStatusDegraded
	}
	return h
}

// HealthHandler serves Health as JSON.
func (m *Metrics) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(m.Health()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
