package handlers

import (
	"context"
	"net/http"
	"strings"

	"admin-starter/internal/common/errors"
	"admin-starter/internal/common/logging"
	"admin-starter/internal/settings"
	"admin-starter/internal/users"
)

// SetupPath is where the first administrator is created
const SetupPath = "/api/setup"

const setupLockKey = "setup"

type setupStatus struct {
	Completed bool   `json:"completed"`
	SetupURL  string `json:"setupUrl,omitempty"`
}

func setupExempt(path string) bool {
	return path == SetupPath ||
		strings.HasPrefix(path, SetupPath+"/") ||
		path == "/health" ||
		path == "/metrics"
}

// SetupGate answers 503 with a pointer to the setup endpoint until the first
// administrator has been created. If the flag cannot be read the request is
// let through.
func (h *Handlers) SetupGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if setupExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		completed, err := h.setupCompleted(r.Context())
		if err != nil {
			h.logger.Error("Failed to check setup status", err, logging.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
			return
		}
		if !completed {
			h.sendJSON(w, http.StatusServiceUnavailable, setupStatus{Completed: false, SetupURL: SetupPath})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setupCompleted trusts a cached true. A cached false is re-read from storage
// since setup may have finished on another instance.
func (h *Handlers) setupCompleted(ctx context.Context) (bool, error) {
	completed, err := h.settings.GetBool(ctx, settings.KeyFirstTimeSetupCompleted)
	if err != nil || completed {
		return completed, err
	}
	v, err := h.settings.Refresh(ctx, settings.KeyFirstTimeSetupCompleted)
	if err != nil {
		return false, err
	}
	return v.Bool, nil
}

// GetSetupStatus reports whether first-time setup has run
// @Summary Setup status
// @Tags setup
// @Produce json
// @Success 200 {object} setupStatus
// @Router /api/setup [get]
func (h *Handlers) GetSetupStatus(w http.ResponseWriter, r *http.Request) {
	completed, err := h.setupCompleted(r.Context())
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	status := setupStatus{Completed: completed}
	if !completed {
		status.SetupURL = SetupPath
	}
	h.sendJSONResponse(w, status)
}

// HandleSetup creates the first administrator and closes the setup gate
// @Summary Complete first-time setup
// @Tags setup
// @Accept json
// @Produce json
// @Param admin body users.RegisterForm true "Administrator account"
// @Success 201 {object} tokenResponse
// @Failure 409 {object} errorResponse "Setup already completed"
// @Router /api/setup [post]
func (h *Handlers) HandleSetup(w http.ResponseWriter, r *http.Request) {
	var form users.RegisterForm
	if err := decodeJSON(w, r, &form); err != nil {
		h.sendError(w, r, err)
		return
	}

	lock, err := h.locker.Acquire(r.Context(), setupLockKey)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			h.logger.Warn("Failed to release setup lock", logging.Err(err))
		}
	}()

	// Under the lock only storage is authoritative.
	flag, err := h.settings.Refresh(r.Context(), settings.KeyFirstTimeSetupCompleted)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	if flag.Bool {
		h.sendError(w, r, errors.ConflictError("Setup has already been completed"))
		return
	}

	admins, err := h.users.CountAdmins(r.Context())
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	if admins > 0 {
		// an earlier setup created the admin but failed to set the flag
		if err := h.settings.UpdateSettingByKey(r.Context(), settings.KeyFirstTimeSetupCompleted, settings.BoolValue(true)); err != nil {
			h.logger.Error("Failed to mark setup completed", err)
		}
		h.sendError(w, r, errors.ConflictError("Setup has already been completed"))
		return
	}

	admin, err := h.users.CreateInitialAdmin(r.Context(), form)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	if err := h.settings.UpdateSettingByKey(r.Context(), settings.KeyFirstTimeSetupCompleted, settings.BoolValue(true)); err != nil {
		h.sendError(w, r, err)
		return
	}

	h.logger.Info("First-time setup completed", logging.String("admin_id", admin.ID))
	h.issueToken(w, r, http.StatusCreated, admin)
}
