// Package saga drives per-order fulfillment steps. Each step commits on its
// own; there is no transaction spanning the whole saga, so step logic must be
// idempotent and failures are handled through recorded compensations.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tradedesk/internal/audit"
	"tradedesk/internal/collab"
	"tradedesk/internal/config"
	"tradedesk/internal/ledger"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
)

var ErrOrderNotFound = errors.New("order_not_found")

type Executor struct {
	Repo    repository.Repository
	Ledger  *ledger.Ledger
	Audit   *audit.Sink
	Tracker collab.ShipmentTracker
	Oracle  collab.PriceOracle
	Logger  *zap.Logger
	Config  config.SagaConfig
}

// InitializeSteps creates the ordered step set for an order. Re-invoking for
// an order that already has steps is a no-op returning the existing set.
func (e *Executor) InitializeSteps(ctx context.Context, orderID uint64) ([]models.ExecutionStep, error) {
	if e == nil || e.Repo == nil {
		return nil, errors.New("saga executor not configured")
	}
	err := e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		order, err := e.Repo.GetOrderForUpdateTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}
		existing, err := e.Repo.CountStepsTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
		handlers := HandlersForAction(order.Action)
		if len(handlers) == 0 {
			return nil
		}
		items := make([]models.ExecutionStep, 0, len(handlers))
		for i, h := range handlers {
			items = append(items, models.ExecutionStep{
				OrderID: orderID,
				Ordinal: i + 1,
				Name:    string(h.Name()),
				Status:  models.StepStatusPending,
			})
		}
		return e.Repo.InsertStepsTx(ctx, tx, items)
	})
	if err != nil {
		return nil, err
	}
	return e.Repo.ListStepsByOrderID(ctx, orderID)
}

// ExecuteNextStep advances the order's saga by one step. It returns nil when
// every step is resolved (explicitly not an error), and returns the FAILED
// step unchanged when the saga is halted awaiting a reset.
func (e *Executor) ExecuteNextStep(ctx context.Context, orderID uint64) (*models.ExecutionStep, error) {
	if e == nil || e.Repo == nil {
		return nil, errors.New("saga executor not configured")
	}
	var claimed *models.ExecutionStep
	var order *models.Order
	err := e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = e.Repo.GetOrderForUpdateTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}
		step, err := e.Repo.FirstUnresolvedStepTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if step == nil {
			return nil
		}
		if step.Status != models.StepStatusPending {
			// FAILED halts the saga until reset; IN_PROGRESS means a
			// concurrent or crashed run owns it. Either way, hand the step
			// back untouched.
			claimed = step
			return nil
		}
		now := time.Now().UTC()
		ok, err := e.Repo.UpdateStepStatusIf(ctx, tx, step.ID, models.StepStatusPending, models.StepStatusInProgress, map[string]any{
			"started_at": now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		step.Status = models.StepStatusInProgress
		step.StartedAt = &now
		claimed = step
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed == nil || claimed.Status != models.StepStatusInProgress {
		return claimed, nil
	}

	// The row lock is gone here on purpose: the step's side effect may call
	// external collaborators and must never pin the order row while waiting.
	result, execErr := e.runHandler(ctx, *order, *claimed)
	if execErr != nil {
		return e.finishFailed(ctx, *order, claimed, execErr)
	}
	return e.finishSucceeded(ctx, claimed, result)
}

func (e *Executor) runHandler(ctx context.Context, order models.Order, step models.ExecutionStep) (map[string]any, error) {
	handler, err := handlerByName(order.Action, StepName(step.Name))
	if err != nil {
		return nil, err
	}
	prior, err := e.priorResults(ctx, order.ID, step.Ordinal)
	if err != nil {
		return nil, err
	}
	sc := &StepContext{
		Order:        order,
		PriorResults: prior,
		Tracker:      e.Tracker,
		Oracle:       e.Oracle,
		ReleaseCapital: func(ctx context.Context) (bool, error) {
			return e.Ledger.Release(ctx, order.ID)
		},
	}
	timeout := e.Config.StepTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := handler.Execute(hctx, sc)
	if err != nil {
		// A timed-out collaborator is a step failure, not a hang.
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("step_timeout: %w", err)
		}
		return nil, err
	}
	return result, nil
}

func (e *Executor) priorResults(ctx context.Context, orderID uint64, beforeOrdinal int) (map[StepName]map[string]any, error) {
	steps, err := e.Repo.ListStepsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	out := map[StepName]map[string]any{}
	for _, s := range steps {
		if s.Ordinal >= beforeOrdinal || s.Status != models.StepStatusSuccess {
			continue
		}
		if result := decodeResult(s.Result); result != nil {
			out[StepName(s.Name)] = result
		}
	}
	return out, nil
}

func (e *Executor) finishSucceeded(ctx context.Context, step *models.ExecutionStep, result map[string]any) (*models.ExecutionStep, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	err = e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		ok, err := e.Repo.UpdateStepStatusIf(ctx, tx, step.ID, models.StepStatusInProgress, models.StepStatusSuccess, map[string]any{
			"result":      datatypes.JSON(raw),
			"finished_at": now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("step %d no longer in progress", step.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	step.Status = models.StepStatusSuccess
	step.Result = datatypes.JSON(raw)
	step.FinishedAt = &now
	if e.Logger != nil {
		e.Logger.Info("saga step succeeded",
			zap.Uint64("order_id", step.OrderID),
			zap.String("step", step.Name),
			zap.Int("ordinal", step.Ordinal),
		)
	}
	return step, nil
}

// finishFailed records the failure and exactly one compensation; the step
// execution error is not propagated to the caller, who receives the failed
// step record instead.
func (e *Executor) finishFailed(ctx context.Context, order models.Order, step *models.ExecutionStep, execErr error) (*models.ExecutionStep, error) {
	reason := execErr.Error()
	if len(reason) > 200 {
		reason = reason[:200]
	}
	now := time.Now().UTC()
	handler, herr := handlerByName(order.Action, StepName(step.Name))
	compensationType := CompensationReverseStep
	if herr == nil {
		compensationType = handler.CompensationType()
	}
	err := e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		ok, err := e.Repo.UpdateStepStatusIf(ctx, tx, step.ID, models.StepStatusInProgress, models.StepStatusFailed, map[string]any{
			"failure_reason": reason,
			"finished_at":    now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("step %d no longer in progress", step.ID)
		}
		if err := e.Repo.InsertCompensationTx(ctx, tx, &models.Compensation{
			StepID:  step.ID,
			OrderID: order.ID,
			Type:    compensationType,
			Status:  models.CompensationStatusPending,
		}); err != nil {
			return err
		}
		return e.Audit.AppendTx(ctx, tx, audit.Event{
			Kind:    "saga.step_failed",
			OwnerID: order.OwnerID,
			OrderID: &order.ID,
			After:   map[string]any{"step": step.Name, "ordinal": step.Ordinal, "reason": reason},
		})
	})
	if err != nil {
		return nil, err
	}
	step.Status = models.StepStatusFailed
	step.FailureReason = &reason
	step.FinishedAt = &now
	if e.Logger != nil {
		e.Logger.Warn("saga step failed",
			zap.Uint64("order_id", order.ID),
			zap.String("step", step.Name),
			zap.String("reason", reason),
		)
	}
	return step, nil
}

// ResetFailedStep returns a FAILED step to PENDING for retry. Any other
// status is a no-op returning nil.
func (e *Executor) ResetFailedStep(ctx context.Context, stepID uint64) (*models.ExecutionStep, error) {
	if e == nil || e.Repo == nil {
		return nil, errors.New("saga executor not configured")
	}
	var reset bool
	err := e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		reset, err = e.Repo.UpdateStepStatusIf(ctx, tx, stepID, models.StepStatusFailed, models.StepStatusPending, map[string]any{
			"failure_reason": nil,
			"started_at":     nil,
			"finished_at":    nil,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if !reset {
		return nil, nil
	}
	return e.Repo.GetStepByID(ctx, stepID)
}

// ApplyCompensation applies the recorded counteraction for a FAILED step:
// the compensation flips PENDING->APPLIED and the step becomes COMPENSATED,
// all in one transaction. Capital-typed compensations release the order's
// capital lock (at most once by construction).
func (e *Executor) ApplyCompensation(ctx context.Context, stepID uint64) (*models.Compensation, error) {
	if e == nil || e.Repo == nil {
		return nil, errors.New("saga executor not configured")
	}
	step, err := e.Repo.GetStepByID(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return nil, nil
	}
	comp, err := e.Repo.GetCompensationByStepID(ctx, stepID)
	if err != nil || comp == nil {
		return nil, err
	}
	order, err := e.Repo.GetOrderByID(ctx, step.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	now := time.Now().UTC()
	err = e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		applied, err := e.Repo.MarkCompensationAppliedTx(ctx, tx, stepID, now)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		ok, err := e.Repo.UpdateStepStatusIf(ctx, tx, stepID, models.StepStatusFailed, models.StepStatusCompensated, nil)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("step %d is not FAILED", stepID)
		}
		if comp.Type == CompensationReleaseCapital {
			if _, err := e.Ledger.ReleaseTx(ctx, tx, order.ID); err != nil {
				return err
			}
		}
		return e.Audit.AppendTx(ctx, tx, audit.Event{
			Kind:    "saga.compensation_applied",
			OwnerID: order.OwnerID,
			OrderID: &order.ID,
			After:   map[string]any{"step": step.Name, "type": comp.Type},
		})
	})
	if err != nil {
		return nil, err
	}
	return e.Repo.GetCompensationByStepID(ctx, stepID)
}

// IsComplete reports whether every step is SUCCESS or COMPENSATED. An order
// with no steps (HOLD) is trivially complete.
func (e *Executor) IsComplete(ctx context.Context, orderID uint64) (bool, error) {
	if e == nil || e.Repo == nil {
		return false, errors.New("saga executor not configured")
	}
	unresolved, err := e.Repo.CountUnresolvedSteps(ctx, orderID)
	if err != nil {
		return false, err
	}
	return unresolved == 0, nil
}

// Drive advances the saga until it completes, halts on a failed step, or hits
// the per-call step budget. A caller that stops early loses nothing: steps
// already SUCCESS stay committed and the saga resumes from persisted state.
func (e *Executor) Drive(ctx context.Context, orderID uint64) (*models.ExecutionStep, error) {
	maxSteps := e.Config.MaxDriveSteps
	if maxSteps <= 0 {
		maxSteps = 10
	}
	var last *models.ExecutionStep
	for i := 0; i < maxSteps; i++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		step, err := e.ExecuteNextStep(ctx, orderID)
		if err != nil {
			return last, err
		}
		if step == nil {
			return nil, nil
		}
		last = step
		if step.Status != models.StepStatusSuccess {
			return last, nil
		}
	}
	return last, nil
}
