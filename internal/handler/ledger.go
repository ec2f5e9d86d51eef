package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tradedesk/internal/ledger"
	"tradedesk/internal/repository"
)

type LedgerHandler struct {
	Repo   repository.Repository
	Ledger *ledger.Ledger
}

func (h *LedgerHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/ledger")
	g.GET("/accounts/:owner", h.getAccount)
	g.POST("/accounts/:owner/seed", h.seedAccount)
	g.GET("/locks/orders/:id", h.getLock)

	r.GET("/api/v1/audit", h.listAudit)
}

// @Summary Get an owner's capital account
// @Tags ledger
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/ledger/accounts/{owner} [get]
func (h *LedgerHandler) getAccount(c *gin.Context) {
	if h.Ledger == nil {
		Error(c, http.StatusServiceUnavailable, "ledger unavailable", nil)
		return
	}
	owner := strings.TrimSpace(c.Param("owner"))
	if owner == "" {
		Error(c, http.StatusBadRequest, "invalid owner", nil)
		return
	}
	item, err := h.Ledger.Account(c.Request.Context(), owner)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "account not found", nil)
		return
	}
	Ok(c, item, nil)
}

type seedAccountRequest struct {
	Total string `json:"total" binding:"required"`
}

// @Summary Seed an owner's capital account
// @Tags ledger
// @Accept json
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/ledger/accounts/{owner}/seed [post]
func (h *LedgerHandler) seedAccount(c *gin.Context) {
	if h.Ledger == nil {
		Error(c, http.StatusServiceUnavailable, "ledger unavailable", nil)
		return
	}
	owner := strings.TrimSpace(c.Param("owner"))
	if owner == "" {
		Error(c, http.StatusBadRequest, "invalid owner", nil)
		return
	}
	var req seedAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	total, err := decimal.NewFromString(req.Total)
	if err != nil || total.LessThan(decimal.Zero) {
		Error(c, http.StatusBadRequest, "invalid total", nil)
		return
	}
	if err := h.Ledger.Seed(c.Request.Context(), owner, total); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item, err := h.Ledger.Account(c.Request.Context(), owner)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Get the capital lock held for an order
// @Tags ledger
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/ledger/locks/orders/{id} [get]
func (h *LedgerHandler) getLock(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetCapitalLockByOrderID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "lock not found", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary List audit events
// @Tags audit
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/audit [get]
func (h *LedgerHandler) listAudit(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListAuditEventsParams{
		Limit:   limit,
		Offset:  offset,
		OwnerID: strQueryPtr(c, "owner_id"),
		OrderID: uint64QueryPtr(c, "order_id"),
		Kind:    strQueryPtr(c, "kind"),
		OrderBy: "created_at",
		Asc:     boolPtr(false),
	}
	items, err := h.Repo.ListAuditEvents(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset})
}
