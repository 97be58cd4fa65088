package handlers

import (
	"net/http"
	"time"

	"admin-starter/internal/auth"
	"admin-starter/internal/common/errors"
	"admin-starter/internal/common/logging"
	"admin-starter/internal/settings"
	"admin-starter/internal/storage"
	"admin-starter/internal/users"
)

// Auth handlers

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	User      *storage.User `json:"user"`
}

// issueToken signs a token for user, sets the session cookie and writes the
// token response.
func (h *Handlers) issueToken(w http.ResponseWriter, r *http.Request, status int, user *storage.User) {
	token, err := h.auth.GenerateJWT(user.ID, user.Username, auth.Role(user.Role))
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.auth.SetCookie(w, token, r.TLS != nil)
	h.sendJSON(w, status, tokenResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.auth.TTL()),
		User:      user,
	})
}

// HandleLogin exchanges credentials for a bearer token
// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Param credentials body loginRequest true "Username and password"
// @Success 200 {object} tokenResponse
// @Failure 401 {object} errorResponse "Invalid credentials"
// @Failure 403 {object} errorResponse "Account banned"
// @Failure 429 {object} rateLimitResponse
// @Router /api/auth/login [post]
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.checkRateLimit(w, r) {
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.sendError(w, r, err)
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.logger.Info("User logged in", logging.String("user_id", user.ID))
	h.issueToken(w, r, http.StatusOK, user)
}

// HandleLogout clears the session cookie
// @Summary Log out
// @Tags auth
// @Success 204
// @Router /api/auth/logout [post]
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRegister creates a regular user when public registration is enabled
// @Summary Register
// @Tags auth
// @Accept json
// @Produce json
// @Param user body users.RegisterForm true "New account"
// @Success 201 {object} tokenResponse
// @Failure 403 {object} errorResponse "Public registration disabled"
// @Router /api/auth/register [post]
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if !h.checkRateLimit(w, r) {
		return
	}

	open, err := h.settings.GetBool(r.Context(), settings.KeyPublicRegistration)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	if !open {
		h.sendError(w, r, errors.ForbiddenError("Public registration is disabled"))
		return
	}

	var form users.RegisterForm
	if err := decodeJSON(w, r, &form); err != nil {
		h.sendError(w, r, err)
		return
	}

	user, err := h.users.Register(r.Context(), form)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.issueToken(w, r, http.StatusCreated, user)
}

// HandleGetCurrentUser returns the caller's own record
// @Summary Current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} storage.User
// @Router /api/auth/me [get]
func (h *Handlers) HandleGetCurrentUser(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFrom(r.Context())
	user, err := h.users.Get(r.Context(), p, p.UserID)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSONResponse(w, user)
}
