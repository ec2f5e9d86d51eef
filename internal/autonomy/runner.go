package autonomy

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tradedesk/internal/lifecycle"
	"tradedesk/internal/repository"
	"tradedesk/internal/saga"
	"tradedesk/internal/settings"
)

// Runner scans approved orders and, for each one the gate allows, triggers
// execution and drives the saga. It is the "caller" the gate contract talks
// about: the gate only decides, the runner acts.
type Runner struct {
	Repo      repository.Repository
	Gate      *Gate
	Lifecycle *lifecycle.Manager
	Saga      *saga.Executor
	Settings  *settings.Service
	Logger    *zap.Logger
}

func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	if r == nil || r.Repo == nil {
		return nil
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := r.ScanOnce(ctx); err != nil && r.Logger != nil {
			r.Logger.Warn("autonomous scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Runner) ScanOnce(ctx context.Context) error {
	if r == nil || r.Repo == nil {
		return nil
	}
	if r.Settings != nil && !r.Settings.IsEnabled(ctx, settings.FeatureAutonomousRunner, false) {
		return nil
	}
	maxOrders := r.Gate.Config.MaxOrders
	if maxOrders <= 0 {
		maxOrders = 50
	}
	orders, err := r.Repo.ListApprovedAutonomyCandidates(ctx, maxOrders)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.ExecuteOrder(ctx, order.ID); err != nil && r.Logger != nil {
			r.Logger.Warn("autonomous execution failed",
				zap.Uint64("order_id", order.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// ExecuteOrder evaluates one approved order and, when allowed, marks it
// executed and drives its saga. Denials are returned as decisions, never as
// errors.
func (r *Runner) ExecuteOrder(ctx context.Context, orderID uint64) (Decision, error) {
	if r == nil || r.Repo == nil {
		return Decision{}, errors.New("autonomy runner not configured")
	}
	order, err := r.Repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return Decision{}, err
	}
	if order == nil {
		return Decision{}, lifecycle.ErrOrderNotFound
	}
	decision, err := r.Gate.Evaluate(ctx, order.OwnerID, *order, MetricsFromOrder(*order))
	if err != nil || !decision.Allowed {
		return decision, err
	}

	if _, err := r.Lifecycle.MarkExecuted(ctx, orderID); err != nil {
		// A racing manual execute can get here first; the decision record
		// already documents why this attempt was allowed.
		return decision, err
	}
	if _, err := r.Saga.InitializeSteps(ctx, orderID); err != nil {
		return decision, err
	}
	last, err := r.Saga.Drive(ctx, orderID)
	if err != nil {
		return decision, err
	}
	if r.Logger != nil {
		fields := []zap.Field{zap.Uint64("order_id", orderID)}
		if last != nil {
			fields = append(fields, zap.String("last_step", last.Name), zap.String("last_status", last.Status))
		}
		r.Logger.Info("autonomous execution driven", fields...)
	}
	return decision, nil
}
