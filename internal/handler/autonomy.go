package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"tradedesk/internal/autonomy"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	"tradedesk/internal/settings"
)

type AutonomyHandler struct {
	Repo     repository.Repository
	Runner   *autonomy.Runner
	Settings *settings.Service
}

func (h *AutonomyHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/autonomy")
	g.GET("/policies/:owner", h.getPolicy)
	g.PUT("/policies/:owner", h.putPolicy)
	g.GET("/records", h.listRecords)
	g.GET("/kill-switch", h.getKillSwitch)
	g.PUT("/kill-switch", h.putKillSwitch)
	g.POST("/scan", h.scan)
	g.POST("/orders/:id/execute", h.executeOrder)
}

// @Summary Get an owner's autonomy policy
// @Tags autonomy
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/autonomy/policies/{owner} [get]
func (h *AutonomyHandler) getPolicy(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	owner := strings.TrimSpace(c.Param("owner"))
	if owner == "" {
		Error(c, http.StatusBadRequest, "invalid owner", nil)
		return
	}
	item, err := h.Repo.GetAutonomyPolicy(c.Request.Context(), owner)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "policy not found", nil)
		return
	}
	Ok(c, item, nil)
}

type putPolicyRequest struct {
	Enabled             bool     `json:"enabled"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	RiskThreshold       float64  `json:"risk_threshold"`
	MaxDailyTrades      int      `json:"max_daily_trades"`
	MaxTradeValue       *string  `json:"max_trade_value"`
	AllowedAssets       []string `json:"allowed_assets"`
	AllowedRegions      []string `json:"allowed_regions"`
}

// @Summary Create or replace an owner's autonomy policy
// @Tags autonomy
// @Accept json
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/autonomy/policies/{owner} [put]
func (h *AutonomyHandler) putPolicy(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	owner := strings.TrimSpace(c.Param("owner"))
	if owner == "" {
		Error(c, http.StatusBadRequest, "invalid owner", nil)
		return
	}
	var req putPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item := &models.AutonomyPolicy{
		OwnerID:             owner,
		Enabled:             req.Enabled,
		ConfidenceThreshold: req.ConfidenceThreshold,
		RiskThreshold:       req.RiskThreshold,
		MaxDailyTrades:      req.MaxDailyTrades,
	}
	if req.MaxTradeValue != nil {
		v, err := decimal.NewFromString(*req.MaxTradeValue)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid max_trade_value", nil)
			return
		}
		item.MaxTradeValue = &v
	}
	if len(req.AllowedAssets) > 0 {
		raw, _ := json.Marshal(req.AllowedAssets)
		item.AllowedAssets = datatypes.JSON(raw)
	}
	if len(req.AllowedRegions) > 0 {
		raw, _ := json.Marshal(req.AllowedRegions)
		item.AllowedRegions = datatypes.JSON(raw)
	}
	if err := h.Repo.UpsertAutonomyPolicy(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	saved, err := h.Repo.GetAutonomyPolicy(c.Request.Context(), owner)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, saved, nil)
}

// @Summary List autonomous execution decisions
// @Tags autonomy
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/autonomy/records [get]
func (h *AutonomyHandler) listRecords(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListAutonomyRecordsParams{
		Limit:    limit,
		Offset:   offset,
		OwnerID:  strQueryPtr(c, "owner_id"),
		OrderID:  uint64QueryPtr(c, "order_id"),
		Decision: strQueryPtr(c, "decision"),
		OrderBy:  "created_at",
		Asc:      boolPtr(false),
	}
	items, err := h.Repo.ListAutonomousExecutionRecords(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountAutonomousExecutionRecords(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Read the kill switch
// @Tags autonomy
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/autonomy/kill-switch [get]
func (h *AutonomyHandler) getKillSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusServiceUnavailable, "settings unavailable", nil)
		return
	}
	enabled := h.Settings.IsEnabled(c.Request.Context(), settings.KeyKillSwitch, false)
	Ok(c, gin.H{"enabled": enabled}, nil)
}

type killSwitchRequest struct {
	Enabled bool `json:"enabled"`
}

// @Summary Engage or release the kill switch
// @Tags autonomy
// @Accept json
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/autonomy/kill-switch [put]
func (h *AutonomyHandler) putKillSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusServiceUnavailable, "settings unavailable", nil)
		return
	}
	var req killSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Settings.SetEnabled(c.Request.Context(), settings.KeyKillSwitch, req.Enabled); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"enabled": req.Enabled}, nil)
}

// @Summary Run one autonomous scan pass now
// @Tags autonomy
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/autonomy/scan [post]
func (h *AutonomyHandler) scan(c *gin.Context) {
	if h.Runner == nil {
		Error(c, http.StatusServiceUnavailable, "runner unavailable", nil)
		return
	}
	if err := h.Runner.ScanOnce(c.Request.Context()); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"status": "scanned"}, nil)
}

// @Summary Evaluate one order through the gate and execute if allowed
// @Tags autonomy
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/autonomy/orders/{id}/execute [post]
func (h *AutonomyHandler) executeOrder(c *gin.Context) {
	if h.Runner == nil {
		Error(c, http.StatusServiceUnavailable, "runner unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	decision, err := h.Runner.ExecuteOrder(c.Request.Context(), id)
	if err != nil {
		transitionError(c, err)
		return
	}
	Ok(c, decision, nil)
}
