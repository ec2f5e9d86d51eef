package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tradedesk/internal/outcome"
	"tradedesk/internal/repository"
)

type OutcomeHandler struct {
	Repo     repository.Repository
	Realizer *outcome.Realizer
}

func (h *OutcomeHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/outcomes")
	g.GET("", h.list)
	g.GET("/orders/:id", h.getByOrder)
	g.POST("/realize", h.realize)

	r.GET("/api/v1/strategy-performance", h.strategyPerformance)
}

// @Summary List realized outcomes
// @Tags outcomes
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/outcomes [get]
func (h *OutcomeHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListOutcomesParams{
		Limit:         limit,
		Offset:        offset,
		OwnerID:       strQueryPtr(c, "owner_id"),
		OutcomeStatus: strQueryPtr(c, "status"),
		StrategyTag:   strQueryPtr(c, "strategy_tag"),
		OrderBy:       "created_at",
		Asc:           boolPtr(false),
	}
	items, err := h.Repo.ListRealizedOutcomes(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset})
}

// @Summary Get the outcome realized for an order
// @Tags outcomes
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/outcomes/orders/{id} [get]
func (h *OutcomeHandler) getByOrder(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetRealizedOutcomeByOrderID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "outcome not found", nil)
		return
	}
	Ok(c, item, nil)
}

// realize triggers one realization pass on demand instead of waiting for the
// cron schedule. An explicit min_holding_days overrides the configured
// threshold for this pass.
//
// @Summary Run one outcome realization pass now
// @Tags outcomes
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/outcomes/realize [post]
func (h *OutcomeHandler) realize(c *gin.Context) {
	if h.Realizer == nil {
		Error(c, http.StatusServiceUnavailable, "realizer unavailable", nil)
		return
	}
	stats, err := h.Realizer.RealizeOutcomes(c.Request.Context(), strQueryPtr(c, "owner_id"), intQueryPtr(c, "min_holding_days"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, stats, nil)
}

// @Summary List per-strategy performance rollups
// @Tags outcomes
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/strategy-performance [get]
func (h *OutcomeHandler) strategyPerformance(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListStrategyPerformance(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
