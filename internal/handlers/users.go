package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"admin-starter/internal/auth"
	"admin-starter/internal/common/errors"
	"admin-starter/internal/common/pagination"
	"admin-starter/internal/settings"
	"admin-starter/internal/storage"
	"admin-starter/internal/users"
)

// User management handlers

// ListUsers returns a page of users
// @Summary List users
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number, from 1"
// @Param limit query int false "Page size, capped by the searchResultsLimit setting"
// @Param search query string false "Username or email substring"
// @Param banned query bool false "Only banned users"
// @Success 200 {object} users.Page
// @Router /api/users [get]
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// searchResultsLimit is both the default page size and its ceiling.
	ceiling, err := h.settings.GetInt(r.Context(), settings.KeySearchResultsLimit)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	p, err := pagination.ParseParams(q, ceiling)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	params := storage.ListUsersParams{Page: p.Page, Limit: p.Limit, Search: q.Get("search")}
	if b := q.Get("banned"); b != "" {
		banned, err := strconv.ParseBool(b)
		if err != nil {
			h.sendError(w, r, errors.ValidationError("banned must be a boolean").WithContext("field", "banned"))
			return
		}
		params.BannedOnly = banned
	}

	page, err := h.users.List(r.Context(), auth.PrincipalFrom(r.Context()), params)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSONResponse(w, page)
}

// CreateUser creates a user with an explicit role
// @Summary Create user
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param user body users.CreateForm true "New user"
// @Success 201 {object} storage.User
// @Failure 409 {object} errorResponse "Email or username taken"
// @Router /api/users [post]
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var form users.CreateForm
	if err := decodeJSON(w, r, &form); err != nil {
		h.sendError(w, r, err)
		return
	}

	user, err := h.users.Create(r.Context(), auth.PrincipalFrom(r.Context()), form)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, user)
}

// GetUser returns a single user
// @Summary Get user
// @Tags users
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} storage.User
// @Failure 404 {object} errorResponse
// @Router /api/users/{id} [get]
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), auth.PrincipalFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSONResponse(w, user)
}

// UpdateUser applies a partial update; only changed fields are written
// @Summary Update user
// @Tags users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param user body users.UpdateForm true "Fields to change"
// @Success 200 {object} storage.User
// @Router /api/users/{id} [patch]
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var form users.UpdateForm
	if err := decodeJSON(w, r, &form); err != nil {
		h.sendError(w, r, err)
		return
	}

	user, err := h.users.Update(r.Context(), auth.PrincipalFrom(r.Context()), mux.Vars(r)["id"], form)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	h.sendJSONResponse(w, user)
}

// DeleteUser removes a user
// @Summary Delete user
// @Tags users
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 204
// @Router /api/users/{id} [delete]
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Delete(r.Context(), auth.PrincipalFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
