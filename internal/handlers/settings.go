package handlers

import (
	"encoding/json"
	"net/http"

	"admin-starter/internal/common/logging"
	"admin-starter/internal/settings"
)

// Settings handlers

// GetSettings returns every setting with its metadata
// @Summary Get application settings
// @Tags settings
// @Produce json
// @Security BearerAuth
// @Param category query string false "Only return settings in this category"
// @Success 200 {array} settings.Setting
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Router /api/settings [get]
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	var (
		all []*settings.Setting
		err error
	)
	if category := r.URL.Query().Get("category"); category != "" {
		all, err = h.settings.GetByCategory(r.Context(), category)
	} else {
		all, err = h.settings.GetAllSettings(r.Context())
	}
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	h.sendJSONResponse(w, all)
}

// UpdateSettings validates and persists a partial settings document, then
// reloads the rate limiter so new budgets apply immediately
// @Summary Update application settings
// @Tags settings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param settings body map[string]interface{} true "Settings to update"
// @Success 200 {array} settings.Setting
// @Failure 400 {object} errorResponse "Invalid JSON or value out of range"
// @Router /api/settings [put]
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := decodeJSON(w, r, &body); err != nil {
		h.sendError(w, r, err)
		return
	}

	// Setup completion is owned by the setup flow.
	delete(body, settings.KeyFirstTimeSetupCompleted)

	partial := make(map[string]*settings.Value, len(body))
	for key, raw := range body {
		v, err := settings.ParseValue(key, raw)
		if err != nil {
			h.sendError(w, r, err)
			return
		}
		partial[key] = v
	}

	if err := h.settings.UpdateSettings(r.Context(), partial); err != nil {
		h.sendError(w, r, err)
		return
	}

	if err := h.limiter.Reload(r.Context()); err != nil {
		h.logger.Error("Failed to reload rate limiter", err, logging.Int("keys", len(partial)))
	}

	h.GetSettings(w, r)
}
