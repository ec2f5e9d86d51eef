package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tradedesk/internal/lifecycle"
	"tradedesk/internal/repository"
)

type OrderHandler struct {
	Repo      repository.Repository
	Lifecycle *lifecycle.Manager
}

func (h *OrderHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/orders")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/approve", h.approve)
	g.POST("/:id/reject", h.reject)
	g.POST("/:id/cancel", h.cancel)
}

type createOrderRequest struct {
	OwnerID     string   `json:"owner_id" binding:"required"`
	AssetID     string   `json:"asset_id" binding:"required"`
	Region      string   `json:"region"`
	Action      string   `json:"action" binding:"required"`
	Quantity    string   `json:"quantity" binding:"required"`
	Price       string   `json:"price"`
	ExpectedROI string   `json:"expected_roi"`
	Confidence  float64  `json:"confidence"`
	RiskScore   *float64 `json:"risk_score"`
}

// @Summary Create a trade proposal
// @Tags orders
// @Accept json
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/orders [post]
func (h *OrderHandler) create(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusServiceUnavailable, "lifecycle unavailable", nil)
		return
	}
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid quantity", nil)
		return
	}
	price := decimal.Zero
	if strings.TrimSpace(req.Price) != "" {
		if price, err = decimal.NewFromString(req.Price); err != nil {
			Error(c, http.StatusBadRequest, "invalid price", nil)
			return
		}
	}
	roi := decimal.Zero
	if strings.TrimSpace(req.ExpectedROI) != "" {
		if roi, err = decimal.NewFromString(req.ExpectedROI); err != nil {
			Error(c, http.StatusBadRequest, "invalid expected_roi", nil)
			return
		}
	}
	order, err := h.Lifecycle.Create(c.Request.Context(), req.OwnerID, lifecycle.Proposal{
		AssetID:     req.AssetID,
		Region:      req.Region,
		Action:      strings.ToUpper(strings.TrimSpace(req.Action)),
		Quantity:    quantity,
		Price:       price,
		ExpectedROI: roi,
		Confidence:  req.Confidence,
		RiskScore:   req.RiskScore,
	})
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, order, nil)
}

// @Summary List orders
// @Tags orders
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/orders [get]
func (h *OrderHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListOrdersParams{
		Limit:   limit,
		Offset:  offset,
		OwnerID: strQueryPtr(c, "owner_id"),
		Status:  strQueryPtr(c, "status"),
		Action:  strQueryPtr(c, "action"),
		OrderBy: "created_at",
		Asc:     boolPtr(false),
	}
	items, err := h.Repo.ListOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get an order
// @Tags orders
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/orders/{id} [get]
func (h *OrderHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetOrderByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "order not found", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Approve a pending order
// @Tags orders
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/orders/{id}/approve [post]
func (h *OrderHandler) approve(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusServiceUnavailable, "lifecycle unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Lifecycle.Approve(c.Request.Context(), id)
	if err != nil {
		transitionError(c, err)
		return
	}
	Ok(c, item, nil)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// @Summary Reject a pending order
// @Tags orders
// @Accept json
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/orders/{id}/reject [post]
func (h *OrderHandler) reject(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusServiceUnavailable, "lifecycle unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req rejectRequest
	_ = c.ShouldBindJSON(&req)
	item, err := h.Lifecycle.Reject(c.Request.Context(), id, req.Reason)
	if err != nil {
		transitionError(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Cancel an approved order
// @Tags orders
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/orders/{id}/cancel [post]
func (h *OrderHandler) cancel(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusServiceUnavailable, "lifecycle unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Lifecycle.Cancel(c.Request.Context(), id)
	if err != nil {
		transitionError(c, err)
		return
	}
	Ok(c, item, nil)
}

// transitionError maps lifecycle failures onto HTTP statuses so clients can
// tell "retry later" from "never valid".
func transitionError(c *gin.Context, err error) {
	var invalid *lifecycle.InvalidTransitionError
	switch {
	case errors.Is(err, lifecycle.ErrOrderNotFound):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.As(err, &invalid):
		Error(c, http.StatusConflict, err.Error(), map[string]any{
			"current":   invalid.Current,
			"requested": invalid.Requested,
		})
	case errors.Is(err, lifecycle.ErrInsufficientCapital):
		Error(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, lifecycle.ErrComplianceRejected):
		Error(c, http.StatusUnprocessableEntity, err.Error(), nil)
	default:
		Error(c, http.StatusBadGateway, err.Error(), nil)
	}
}
