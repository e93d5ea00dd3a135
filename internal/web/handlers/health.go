package handlers

import (
	"context"
	"net/http"

	"github.com/kozaktomas/facescan/internal/constants"
)

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// HealthHandler reports liveness and, optionally, dependency health.
type HealthHandler struct {
	probes map[string]Probe
}

// NewHealthHandler creates a health handler over named probes.
func NewHealthHandler(probes map[string]Probe) *HealthHandler {
	return &HealthHandler{probes: probes}
}

// Check answers 200 when every probe passes and 503 otherwise. The body
// names each dependency with "ok" or its error.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), constants.HealthProbeTimeout)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}
	respondJSON(w, status, body)
}
