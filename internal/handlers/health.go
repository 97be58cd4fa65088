package handlers

import (
	"net/http"
	"time"

	"admin-starter/internal/common/logging"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheck reports liveness and database reachability
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} healthResponse
// @Failure 503 {object} healthResponse
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Database: "ok", Timestamp: time.Now().UTC()}
	status := http.StatusOK

	if h.health != nil {
		if err := h.health.Health(); err != nil {
			h.logger.Warn("Health check failed", logging.Err(err))
			resp.Status = "unhealthy"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	h.sendJSON(w, status, resp)
}
