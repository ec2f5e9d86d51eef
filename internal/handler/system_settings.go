package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tradedesk/internal/repository"
	"tradedesk/internal/settings"
)

type SystemSettingsHandler struct {
	Repo     repository.Repository
	Settings *settings.Service
}

func (h *SystemSettingsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/system-settings")
	g.GET("", h.list)
	g.GET("/switches/:name", h.getSwitch)
	g.PUT("/switches/:name", h.putSwitch)
	g.GET("/:key", h.get)
}

// @Summary List system settings
// @Tags system-settings
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/system-settings [get]
func (h *SystemSettingsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 200)
	offset := intQuery(c, "offset", 0)
	params := repository.ListSystemSettingsParams{
		Limit:  limit,
		Offset: offset,
		Prefix: strQueryPtr(c, "prefix"),
	}
	items, err := h.Repo.ListSystemSettings(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset})
}

// @Summary Get a system setting by key
// @Tags system-settings
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/system-settings/{key} [get]
func (h *SystemSettingsHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		Error(c, http.StatusBadRequest, "invalid key", nil)
		return
	}
	item, err := h.Repo.GetSystemSettingByKey(c.Request.Context(), key)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "setting not found", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Read a boolean runtime switch
// @Tags system-settings
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/system-settings/switches/{name} [get]
func (h *SystemSettingsHandler) getSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusServiceUnavailable, "settings unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		Error(c, http.StatusBadRequest, "invalid name", nil)
		return
	}
	enabled := h.Settings.IsEnabled(c.Request.Context(), name, false)
	Ok(c, gin.H{"name": name, "enabled": enabled}, nil)
}

type putSwitchRequest struct {
	Enabled bool `json:"enabled"`
}

// @Summary Set a boolean runtime switch
// @Tags system-settings
// @Accept json
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/system-settings/switches/{name} [put]
func (h *SystemSettingsHandler) putSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusServiceUnavailable, "settings unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		Error(c, http.StatusBadRequest, "invalid name", nil)
		return
	}
	var req putSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Settings.SetEnabled(c.Request.Context(), name, req.Enabled); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"name": name, "enabled": req.Enabled}, nil)
}
