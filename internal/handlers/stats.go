package handlers

import (
	"net/http"
	"time"
)

// statsTTL bounds how stale the reported user count may be
const statsTTL = time.Minute

const userCountKey = "userCount"

type statsResponse struct {
	UserCount     int       `json:"userCount"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	StartedAt     time.Time `json:"startedAt"`
}

// GetStats reports the number of accounts and process uptime
// @Summary Instance statistics
// @Tags system
// @Produce json
// @Success 200 {object} statsResponse
// @Failure 403 {object} errorResponse
// @Router /api/stats [get]
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	count, ok := h.stats.Get(userCountKey)
	if !ok {
		n, err := h.users.Count(r.Context())
		if err != nil {
			h.sendError(w, r, err)
			return
		}
		h.stats.SetWithTTL(userCountKey, n, statsTTL)
		count = n
	}

	h.sendJSONResponse(w, statsResponse{
		UserCount:     count,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		StartedAt:     h.startedAt.UTC(),
	})
}
