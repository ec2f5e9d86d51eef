package autonomy

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradedesk/internal/audit"
	"tradedesk/internal/collab"
	"tradedesk/internal/config"
	"tradedesk/internal/ledger"
	"tradedesk/internal/lifecycle"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	gormrepository "tradedesk/internal/repository/gorm"
	"tradedesk/internal/saga"
	"tradedesk/internal/settings"
	"tradedesk/internal/testutil"
)

func newRunner(t *testing.T) (*Runner, repository.Repository, *settings.Service) {
	t.Helper()
	store := gormrepository.New(testutil.NewDB(t))
	log := zap.NewNop()
	led := &ledger.Ledger{Repo: store, Logger: log}
	sink := &audit.Sink{Repo: store, Logger: log}
	oracle := &collab.SimPriceOracle{}
	svc := &settings.Service{Repo: store}
	require.NoError(t, svc.EnsureDefaults(context.Background()))
	cfg := config.AutonomyConfig{
		HardConfidenceFloor: 0.85,
		HardRiskCeiling:     0.30,
		HardMaxDailyTrades:  1,
		MaxOrders:           50,
	}
	r := &Runner{
		Repo: store,
		Gate: &Gate{Repo: store, Settings: svc, Logger: log, Config: cfg},
		Lifecycle: &lifecycle.Manager{
			Repo:       store,
			Ledger:     led,
			Audit:      sink,
			Compliance: &collab.SimComplianceEngine{},
			Oracle:     oracle,
			Logger:     log,
		},
		Saga: &saga.Executor{
			Repo:    store,
			Ledger:  led,
			Audit:   sink,
			Tracker: &collab.SimShipmentTracker{},
			Oracle:  oracle,
			Logger:  log,
			Config:  config.SagaConfig{MaxDriveSteps: 10},
		},
		Settings: svc,
		Logger:   log,
	}
	return r, store, svc
}

func approveOrder(t *testing.T, r *Runner) *models.Order {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.Saga.Ledger.Seed(ctx, "desk-1", decimal.NewFromInt(10000)))
	risk := 0.20
	order, err := r.Lifecycle.Create(ctx, "desk-1", lifecycle.Proposal{
		AssetID:     "AU-BAR-1KG",
		Region:      "CH",
		Action:      models.ActionBuy,
		Quantity:    decimal.NewFromInt(10),
		Price:       decimal.NewFromInt(100),
		ExpectedROI: decimal.NewFromInt(8),
		Confidence:  0.9,
		RiskScore:   &risk,
	})
	require.NoError(t, err)
	_, err = r.Lifecycle.Approve(ctx, order.ID)
	require.NoError(t, err)
	return order
}

func TestExecuteOrderDrivesSagaWhenAllowed(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newRunner(t)
	order := approveOrder(t, r)
	require.NoError(t, store.UpsertAutonomyPolicy(ctx, &models.AutonomyPolicy{
		OwnerID:             "desk-1",
		Enabled:             true,
		ConfidenceThreshold: 0.85,
		RiskThreshold:       0.30,
		MaxDailyTrades:      1,
	}))

	decision, err := r.ExecuteOrder(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	got, err := store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusExecuted, got.Status)
	require.NotNil(t, got.ExecutedAt)

	complete, err := r.Saga.IsComplete(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, complete)
}

func TestExecuteOrderDeniedLeavesOrderApproved(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newRunner(t)
	order := approveOrder(t, r)
	// No enabled policy: the gate skips and the runner must not touch the order.

	decision, err := r.ExecuteOrder(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, models.AutonomyDecisionSkipped, decision.Decision)

	got, err := store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusApproved, got.Status)

	steps, err := store.ListStepsByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.Empty(t, steps)
}

func TestExecuteOrderUnknownOrder(t *testing.T) {
	r, _, _ := newRunner(t)
	_, err := r.ExecuteOrder(context.Background(), 999)
	require.ErrorIs(t, err, lifecycle.ErrOrderNotFound)
}

func TestScanOnceRespectsFeatureSwitch(t *testing.T) {
	ctx := context.Background()
	r, store, svc := newRunner(t)
	order := approveOrder(t, r)
	require.NoError(t, store.UpsertAutonomyPolicy(ctx, &models.AutonomyPolicy{
		OwnerID:             "desk-1",
		Enabled:             true,
		ConfidenceThreshold: 0.85,
		RiskThreshold:       0.30,
		MaxDailyTrades:      1,
	}))

	// Switch defaults to off: the scan does nothing.
	require.NoError(t, r.ScanOnce(ctx))
	got, err := store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusApproved, got.Status)

	require.NoError(t, svc.SetEnabled(ctx, settings.FeatureAutonomousRunner, true))
	require.NoError(t, r.ScanOnce(ctx))
	got, err = store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusExecuted, got.Status)
}
