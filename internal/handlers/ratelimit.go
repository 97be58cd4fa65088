package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"admin-starter/internal/auth"
	"admin-starter/internal/common/errors"
	"admin-starter/internal/middleware"
	"admin-starter/internal/ratelimit"
)

// Rate limit handlers

type rateLimitResponse struct {
	Error      string              `json:"error"`
	LimitType  ratelimit.LimitType `json:"limitType,omitempty"`
	RetryAfter int                 `json:"retryAfter"`
	ResetAt    time.Time           `json:"resetAt"`
}

type statusResponse struct {
	Enabled bool `json:"enabled"`
	*ratelimit.Status
}

type operationRequest struct {
	Points int `json:"points"`
}

type operationResponse struct {
	OK              bool      `json:"ok"`
	RemainingPoints int       `json:"remainingPoints"`
	ResetAt         time.Time `json:"resetAt"`
}

// decide consults the budget matching the caller: the per-user budget for
// authenticated callers, the fingerprint and global budgets otherwise.
func (h *Handlers) decide(r *http.Request) ratelimit.Decision {
	p := auth.PrincipalFrom(r.Context())
	if p.Authenticated() {
		return h.limiter.CheckLimit(r.Context(), p.UserID, p.Role)
	}
	return h.limiter.CheckUnauthenticatedLimit(r.Context(), middleware.ClientIP(r), r.UserAgent())
}

// checkRateLimit writes the rate limit headers and, on denial, a 429 body.
// It reports whether the request may proceed.
func (h *Handlers) checkRateLimit(w http.ResponseWriter, r *http.Request) bool {
	_, ok := h.enforce(w, r)
	return ok
}

func (h *Handlers) enforce(w http.ResponseWriter, r *http.Request) (ratelimit.Decision, bool) {
	d := h.decide(r)
	ratelimit.SetHeaders(w, d)
	if d.Allowed {
		return d, true
	}

	h.sendJSON(w, http.StatusTooManyRequests, rateLimitResponse{
		Error:      "Too many requests",
		LimitType:  d.LimitType,
		RetryAfter: ratelimit.RetryAfterSeconds(d),
		ResetAt:    d.ResetAt,
	})
	return d, false
}

// HandleOperation performs a rate limited unit of work
// @Summary Run a rate limited operation
// @Description Authenticated callers draw from their own budget; anonymous callers from the per-client and global budgets. points > 1 draws the extra points after the check.
// @Tags ratelimit
// @Accept json
// @Produce json
// @Param request body operationRequest false "Optional point cost"
// @Success 200 {object} operationResponse
// @Failure 429 {object} rateLimitResponse
// @Router /api/operations [post]
func (h *Handlers) HandleOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.sendError(w, r, err)
			return
		}
	}
	if req.Points < 0 {
		h.sendError(w, r, errors.ValidationError("points must not be negative").WithContext("field", "points").WithCode("min"))
		return
	}

	d, ok := h.enforce(w, r)
	if !ok {
		return
	}

	if p := auth.PrincipalFrom(r.Context()); p.Authenticated() && req.Points > 1 {
		h.limiter.Consume(r.Context(), p.UserID, req.Points-1)
	}

	h.sendJSONResponse(w, operationResponse{
		OK:              true,
		RemainingPoints: d.RemainingPoints,
		ResetAt:         d.ResetAt,
	})
}

// GetRateLimitStatus reports the caller's authenticated budget. Admins may
// pass userId to inspect another user.
// @Summary Rate limit status
// @Tags ratelimit
// @Produce json
// @Security BearerAuth
// @Param userId query string false "User to inspect (admin only)"
// @Success 200 {object} statusResponse
// @Router /api/ratelimit/status [get]
func (h *Handlers) GetRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFrom(r.Context())

	userID := p.UserID
	if other := r.URL.Query().Get("userId"); other != "" && other != p.UserID {
		if p.Role != auth.RoleAdmin {
			h.sendError(w, r, errors.ForbiddenError("Only administrators can inspect other users"))
			return
		}
		userID = other
	}

	status, err := h.limiter.GetStatus(r.Context(), userID)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSONResponse(w, statusResponse{Enabled: status != nil, Status: status})
}

// ResetRateLimit clears a user's authenticated budget
// @Summary Reset a user's rate limit
// @Tags ratelimit
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 204
// @Router /api/ratelimit/{userId} [delete]
func (h *Handlers) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	h.limiter.Reset(r.Context(), mux.Vars(r)["userId"])
	w.WriteHeader(http.StatusNoContent)
}
