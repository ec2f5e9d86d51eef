// Package outcome converts executed orders into realized outcomes after their
// holding period elapses. The write path is idempotent per order, so the
// realizer can run on any schedule, from any number of instances, without
// duplicating results.
package outcome

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tradedesk/internal/collab"
	"tradedesk/internal/config"
	"tradedesk/internal/ledger"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	"tradedesk/internal/settings"
)

// Band around zero roi_delta that still counts as NEUTRAL, in percent points.
var neutralBand = decimal.NewFromInt(5)

type Stats struct {
	Processed int
	Realized  int
	Skipped   int
	Errors    int
}

type Realizer struct {
	Repo       repository.Repository
	Ledger     *ledger.Ledger
	Oracle     collab.PriceOracle
	Classifier collab.StrategyClassifier
	Settings   *settings.Service
	Logger     *zap.Logger
	Config     config.OutcomesConfig
}

func (r *Realizer) Run(ctx context.Context) error {
	if r == nil || r.Repo == nil {
		return nil
	}
	interval := r.Config.ScanInterval
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if r.Settings == nil || r.Settings.IsEnabled(ctx, settings.FeatureOutcomeRealizer, true) {
			stats, err := r.RealizeOutcomes(ctx, nil, nil)
			if err != nil && r.Logger != nil {
				r.Logger.Warn("outcome realization pass failed", zap.Error(err))
			} else if r.Logger != nil && stats.Processed > 0 {
				r.Logger.Info("outcome realization pass",
					zap.Int("processed", stats.Processed),
					zap.Int("realized", stats.Realized),
					zap.Int("skipped", stats.Skipped),
					zap.Int("errors", stats.Errors),
				)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RealizeOutcomes scans executed orders that have no outcome yet and realizes
// every one whose holding period has elapsed. A non-nil minHoldingDays
// overrides the configured threshold for this pass only. Per-order failures
// are counted, not propagated, so one bad order cannot stall the batch.
func (r *Realizer) RealizeOutcomes(ctx context.Context, ownerID *string, minHoldingDays *int) (Stats, error) {
	var stats Stats
	if r == nil || r.Repo == nil {
		return stats, errors.New("outcome realizer not configured")
	}
	batch := r.Config.BatchSize
	if batch <= 0 {
		batch = 100
	}
	minDays := r.Config.MinHoldingDays
	if minHoldingDays != nil {
		minDays = *minHoldingDays
	}
	if minDays < 0 {
		minDays = 0
	}
	orders, err := r.Repo.ListExecutedOrdersWithoutOutcome(ctx, ownerID, batch)
	if err != nil {
		return stats, err
	}
	now := time.Now().UTC()
	for _, order := range orders {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Processed++
		realized, err := r.RealizeOne(ctx, order, now, minDays)
		switch {
		case err != nil:
			stats.Errors++
			if r.Logger != nil {
				r.Logger.Warn("realize outcome failed",
					zap.Uint64("order_id", order.ID),
					zap.Error(err),
				)
			}
		case realized:
			stats.Realized++
		default:
			stats.Skipped++
		}
	}
	return stats, nil
}

// RealizeOne realizes a single order's outcome against the given holding
// threshold. Reports false without error when the order is still inside its
// holding period or already has an outcome.
func (r *Realizer) RealizeOne(ctx context.Context, order models.Order, now time.Time, minDays int) (bool, error) {
	if order.ExecutedAt == nil {
		return false, nil
	}
	holdingDays := int(now.Sub(order.ExecutedAt.UTC()).Hours() / 24)
	if minDays < 0 {
		minDays = 0
	}
	if holdingDays < minDays {
		return false, nil
	}

	entry := order.Price
	if entry.LessThanOrEqual(decimal.Zero) {
		return false, errors.New("order has no entry price")
	}
	exit, err := r.exitPrice(ctx, order)
	if err != nil {
		return false, err
	}

	// actual_roi = (exit - entry) / entry * 100
	actual := exit.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100))
	delta := actual.Sub(order.ExpectedROI)
	status := Classify(delta)

	tag := ""
	if r.Classifier != nil {
		if t, err := r.Classifier.Classify(ctx, order); err == nil {
			tag = t
		}
	}

	item := &models.RealizedOutcome{
		OrderID:           order.ID,
		OwnerID:           order.OwnerID,
		EntryPrice:        entry,
		ExitPrice:         exit,
		ExpectedROI:       order.ExpectedROI,
		ActualROI:         actual,
		ROIDelta:          delta,
		HoldingPeriodDays: holdingDays,
		OutcomeStatus:     status,
		StrategyTag:       tag,
	}
	inserted, err := r.Repo.InsertRealizedOutcome(ctx, item)
	if err != nil {
		return false, err
	}
	if !inserted {
		// A concurrent run won the race; nothing else to do for this order.
		return false, nil
	}

	// Post-insert bookkeeping is best effort: the outcome row is the source of
	// truth and these aggregates can be rebuilt from it.
	pnl := exit.Sub(entry).Mul(order.Quantity)
	if r.Ledger != nil {
		if err := r.Ledger.ApplyRealizedPnl(ctx, order.OwnerID, pnl); err != nil && r.Logger != nil {
			r.Logger.Warn("apply realized pnl failed",
				zap.Uint64("order_id", order.ID),
				zap.Error(err),
			)
		}
	}
	if tag != "" {
		if err := r.Repo.BumpStrategyPerformance(ctx, tag, status, delta); err != nil && r.Logger != nil {
			r.Logger.Warn("bump strategy performance failed",
				zap.String("strategy_tag", tag),
				zap.Error(err),
			)
		}
	}
	if r.Logger != nil {
		r.Logger.Info("outcome realized",
			zap.Uint64("order_id", order.ID),
			zap.String("status", status),
			zap.String("roi_delta", delta.StringFixed(4)),
		)
	}
	return true, nil
}

// exitPrice asks the oracle first and falls back to the ROI-implied estimate
// entry * (1 + expected_roi/100) when the oracle has nothing for the asset.
func (r *Realizer) exitPrice(ctx context.Context, order models.Order) (decimal.Decimal, error) {
	if r.Oracle != nil {
		price, err := r.Oracle.CurrentPrice(ctx, order.AssetID, order.Region)
		if err == nil && price.GreaterThan(decimal.Zero) {
			return price, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && r.Logger != nil {
			r.Logger.Debug("oracle exit price unavailable",
				zap.Uint64("order_id", order.ID),
				zap.Error(err),
			)
		}
	}
	factor := decimal.NewFromInt(1).Add(order.ExpectedROI.Div(decimal.NewFromInt(100)))
	return order.Price.Mul(factor), nil
}

// Classify buckets a roi_delta: at least +5 is SUCCESS, at most -5 is
// NEGATIVE, anything between is NEUTRAL.
func Classify(delta decimal.Decimal) string {
	switch {
	case delta.GreaterThanOrEqual(neutralBand):
		return models.OutcomeStatusSuccess
	case delta.LessThanOrEqual(neutralBand.Neg()):
		return models.OutcomeStatusNegative
	default:
		return models.OutcomeStatusNeutral
	}
}
