package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tradedesk/internal/lifecycle"
	"tradedesk/internal/repository"
	"tradedesk/internal/saga"
)

type SagaHandler struct {
	Repo      repository.Repository
	Lifecycle *lifecycle.Manager
	Saga      *saga.Executor
}

func (h *SagaHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/orders/:id/saga")
	g.POST("/execute", h.execute)
	g.POST("/advance", h.advance)
	g.GET("/steps", h.steps)
	g.GET("/compensations", h.compensations)

	s := r.Group("/api/v1/steps/:id")
	s.POST("/reset", h.resetStep)
	s.POST("/compensate", h.compensate)
}

// execute is the manual path: transition the order to EXECUTED, create its
// step set and drive as far as one call allows.
//
// @Summary Execute an approved order and drive its saga
// @Tags saga
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/orders/{id}/saga/execute [post]
func (h *SagaHandler) execute(c *gin.Context) {
	if h.Lifecycle == nil || h.Saga == nil {
		Error(c, http.StatusServiceUnavailable, "saga unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	order, err := h.Lifecycle.MarkExecuted(c.Request.Context(), id)
	if err != nil {
		transitionError(c, err)
		return
	}
	steps, err := h.Saga.InitializeSteps(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	last, err := h.Saga.Drive(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{
		"order":     order,
		"steps":     steps,
		"last_step": last,
	}, nil)
}

// @Summary Execute the next pending saga step
// @Tags saga
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/orders/{id}/saga/advance [post]
func (h *SagaHandler) advance(c *gin.Context) {
	if h.Saga == nil {
		Error(c, http.StatusServiceUnavailable, "saga unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	step, err := h.Saga.ExecuteNextStep(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	complete, err := h.Saga.IsComplete(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{
		"step":     step,
		"complete": complete,
	}, nil)
}

// @Summary List an order's saga steps
// @Tags saga
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/orders/{id}/saga/steps [get]
func (h *SagaHandler) steps(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	items, err := h.Repo.ListStepsByOrderID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

// @Summary List an order's compensations
// @Tags saga
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/orders/{id}/saga/compensations [get]
func (h *SagaHandler) compensations(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	items, err := h.Repo.ListCompensationsByOrderID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

// @Summary Reset a failed saga step for retry
// @Tags saga
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/steps/{id}/reset [post]
func (h *SagaHandler) resetStep(c *gin.Context) {
	if h.Saga == nil {
		Error(c, http.StatusServiceUnavailable, "saga unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	step, err := h.Saga.ResetFailedStep(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if step == nil {
		Error(c, http.StatusConflict, "step is not FAILED", nil)
		return
	}
	Ok(c, step, nil)
}

// @Summary Apply the compensation recorded for a failed step
// @Tags saga
// @Success 200 {object} handler.apiResponse
// @Router /api/v1/steps/{id}/compensate [post]
func (h *SagaHandler) compensate(c *gin.Context) {
	if h.Saga == nil {
		Error(c, http.StatusServiceUnavailable, "saga unavailable", nil)
		return
	}
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	comp, err := h.Saga.ApplyCompensation(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if comp == nil {
		Error(c, http.StatusNotFound, "no compensation for step", nil)
		return
	}
	Ok(c, comp, nil)
}
