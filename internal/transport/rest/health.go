package rest

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

const dbProbeTimeout = 2 * time.Second

type probeState string

const (
	probeUp   probeState = "up"
	probeDown probeState = "down"
)

// ReadinessReport tells a load balancer whether the billing service can
// actually settle payments right now, dependency by dependency.
type ReadinessReport struct {
	Status       probeState                 `json:"status"`
	CheckedAt    time.Time                  `json:"checked_at"`
	Dependencies map[string]DependencyProbe `json:"dependencies"`
}

type DependencyProbe struct {
	Status     probeState `json:"status"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

type HealthHandler struct {
	db *sql.DB
}

func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// pingHandler answers liveness: the process is up, nothing more.
func (h *HealthHandler) pingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "OK"})
}

// healthCheckHandler answers readiness. The payment ledger lives in postgres,
// so a failed ping means callbacks cannot settle and the instance must be
// pulled from rotation.
func (h *HealthHandler) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), dbProbeTimeout)
	defer cancel()

	start := time.Now()
	err := h.db.PingContext(ctx)

	probe := DependencyProbe{
		Status:     probeUp,
		DurationMs: time.Since(start).Milliseconds(),
	}
	statusCode := http.StatusOK
	if err != nil {
		probe.Status = probeDown
		probe.Error = err.Error()
		statusCode = http.StatusServiceUnavailable
	}

	report := ReadinessReport{
		Status:       probe.Status,
		CheckedAt:    time.Now(),
		Dependencies: map[string]DependencyProbe{"postgres": probe},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(report)
}
