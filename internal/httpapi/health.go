package httpapi

import (
	"net/http"

	"github.com/intellistream/orchestrator/internal/circuitbreaker"
)

// HealthHandler reports liveness plus the circuit breaker states, so
// operators can see which upstream sources are degraded.
type HealthHandler struct {
	breakers *circuitbreaker.Registry
}

func NewHealthHandler(breakers *circuitbreaker.Registry) *HealthHandler {
	return &HealthHandler{breakers: breakers}
}

func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	breakers := map[string]string{}
	if h.breakers != nil {
		for name, st := range h.breakers.States() {
			breakers[name] = st.String()
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"breakers": breakers,
	})
}
