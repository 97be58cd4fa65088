// Package handlers implements the JSON API: settings administration, user
// management, authentication, first-time setup and the rate limited
// operations endpoint.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"admin-starter/internal/auth"
	"admin-starter/internal/common/cache"
	"admin-starter/internal/common/errors"
	"admin-starter/internal/common/logging"
	"admin-starter/internal/locks"
	"admin-starter/internal/ratelimit"
	"admin-starter/internal/settings"
	"admin-starter/internal/users"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Health() error
}

type Handlers struct {
	settings *settings.Service
	users    *users.Service
	limiter  *ratelimit.Service
	auth     *auth.Auth
	health   HealthChecker
	logger   logging.Logger

	// serializes first-time setup so only one admin can be bootstrapped
	locker locks.Locker

	startedAt time.Time
	stats     *cache.LocalCache[int]
}

// New wires the handlers. A nil locker serializes setup within this process only.
func New(settingsService *settings.Service, userService *users.Service, limiter *ratelimit.Service, authHandler *auth.Auth, health HealthChecker, locker locks.Locker) *Handlers {
	if locker == nil {
		locker = locks.NewLocalLocker()
	}
	return &Handlers{
		settings: settingsService,
		users:    userService,
		limiter:  limiter,
		auth:     authHandler,
		health:   health,
		logger:   logging.Component("handlers"),
		locker:   locker,

		startedAt: time.Now(),
		stats:     cache.NewLocalCache[int](statsTTL, 0),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

func (h *Handlers) sendJSONResponse(w http.ResponseWriter, data interface{}) {
	h.sendJSON(w, http.StatusOK, data)
}

func (h *Handlers) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", err)
	}
}

// sendError maps an error to its HTTP status. Internal failures are logged
// and reported without detail.
func (h *Handlers) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error("Request failed", err,
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path))
		h.sendJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}

	resp := errorResponse{Error: err.Error()}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		resp.Error = appErr.Message
		resp.Code = appErr.Code
		if field, ok := appErr.Context["field"].(string); ok {
			resp.Field = field
		}
	}
	h.sendJSON(w, status, resp)
}

// decodeJSON reads a JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.ValidationError("Invalid JSON").WithContext("reason", err.Error())
	}
	return nil
}
