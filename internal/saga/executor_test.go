package saga

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tradedesk/internal/audit"
	"tradedesk/internal/collab"
	"tradedesk/internal/config"
	"tradedesk/internal/ledger"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	gormrepository "tradedesk/internal/repository/gorm"
	"tradedesk/internal/testutil"
)

type sagaFixture struct {
	store repository.Repository
	exec  *Executor
}

func newFixture(t *testing.T) *sagaFixture {
	t.Helper()
	db := testutil.NewDB(t)
	store := gormrepository.New(db)
	log := zap.NewNop()
	exec := &Executor{
		Repo:    store,
		Ledger:  &ledger.Ledger{Repo: store, Logger: log},
		Audit:   &audit.Sink{Repo: store, Logger: log},
		Tracker: &collab.SimShipmentTracker{},
		Oracle:  &collab.SimPriceOracle{},
		Logger:  log,
		Config:  config.SagaConfig{MaxDriveSteps: 10},
	}
	return &sagaFixture{store: store, exec: exec}
}

// seedOrder inserts an EXECUTED order with a funded account, the state the
// saga starts from.
func (f *sagaFixture) seedOrder(t *testing.T, action string) *models.Order {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.EnsureCapitalAccount(ctx, "desk-1", decimal.NewFromInt(10000)))
	order := &models.Order{
		OwnerID:    "desk-1",
		AssetID:    "AU-BAR-1KG",
		Region:     "CH",
		Action:     action,
		Quantity:   decimal.NewFromInt(10),
		Price:      decimal.NewFromInt(100),
		Confidence: 0.9,
		Status:     models.OrderStatusExecuted,
	}
	require.NoError(t, f.store.InsertOrder(ctx, order))
	return order
}

// lockCapital holds the order's value the way an approval would.
func (f *sagaFixture) lockCapital(t *testing.T, order *models.Order) bool {
	t.Helper()
	var locked bool
	err := f.store.InTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		locked, err = f.exec.Ledger.LockTx(context.Background(), tx, order.OwnerID, order.ID, order.Value())
		return err
	})
	require.NoError(t, err)
	return locked
}

func TestInitializeStepsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.seedOrder(t, models.ActionBuy)

	steps, err := f.exec.InitializeSteps(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, steps, 7)
	for i, s := range steps {
		require.Equal(t, i+1, s.Ordinal)
		require.Equal(t, models.StepStatusPending, s.Status)
	}

	again, err := f.exec.InitializeSteps(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, again, 7)
}

func TestInitializeStepsHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.seedOrder(t, models.ActionHold)

	steps, err := f.exec.InitializeSteps(ctx, order.ID)
	require.NoError(t, err)
	require.Empty(t, steps)

	complete, err := f.exec.IsComplete(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, complete)
}

func TestDriveBuyToCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.seedOrder(t, models.ActionBuy)

	_, err := f.exec.InitializeSteps(ctx, order.ID)
	require.NoError(t, err)

	last, err := f.exec.Drive(ctx, order.ID)
	require.NoError(t, err)
	require.Nil(t, last)

	complete, err := f.exec.IsComplete(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, complete)

	steps, err := f.store.ListStepsByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, steps, 7)
	for _, s := range steps {
		require.Equal(t, models.StepStatusSuccess, s.Status, "step %s", s.Name)
		require.NotEmpty(t, s.Result)
	}
}

func TestStepFailureHaltsSagaAndRecordsCompensation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec.Tracker = nil // shipping_booking cannot run
	order := f.seedOrder(t, models.ActionBuy)

	_, err := f.exec.InitializeSteps(ctx, order.ID)
	require.NoError(t, err)

	last, err := f.exec.Drive(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	require.Equal(t, string(StepShippingBooking), last.Name)
	require.Equal(t, models.StepStatusFailed, last.Status)
	require.NotNil(t, last.FailureReason)

	// Earlier steps keep their committed SUCCESS state.
	steps, err := f.store.ListStepsByOrderID(ctx, order.ID)
	require.NoError(t, err)
	for _, s := range steps {
		switch {
		case s.Ordinal < 5:
			require.Equal(t, models.StepStatusSuccess, s.Status, "step %s", s.Name)
		case s.Ordinal == 5:
			require.Equal(t, models.StepStatusFailed, s.Status)
		default:
			require.Equal(t, models.StepStatusPending, s.Status, "step %s", s.Name)
		}
	}

	comps, err := f.store.ListCompensationsByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, comps, 1)
	require.Equal(t, last.ID, comps[0].StepID)
	require.Equal(t, CompensationReverseStep, comps[0].Type)
	require.Equal(t, models.CompensationStatusPending, comps[0].Status)

	// A halted saga stays halted until the step is reset.
	again, err := f.exec.ExecuteNextStep(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, last.ID, again.ID)
	require.Equal(t, models.StepStatusFailed, again.Status)
	comps, err = f.store.ListCompensationsByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, comps, 1)
}

func TestResetFailedStepAllowsRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec.Tracker = nil
	order := f.seedOrder(t, models.ActionBuy)

	_, err := f.exec.InitializeSteps(ctx, order.ID)
	require.NoError(t, err)
	failed, err := f.exec.Drive(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, models.StepStatusFailed, failed.Status)

	// Resetting a non-FAILED step is a no-op.
	steps, err := f.store.ListStepsByOrderID(ctx, order.ID)
	require.NoError(t, err)
	noop, err := f.exec.ResetFailedStep(ctx, steps[0].ID)
	require.NoError(t, err)
	require.Nil(t, noop)

	reset, err := f.exec.ResetFailedStep(ctx, failed.ID)
	require.NoError(t, err)
	require.NotNil(t, reset)
	require.Equal(t, models.StepStatusPending, reset.Status)
	require.Nil(t, reset.FailureReason)

	f.exec.Tracker = &collab.SimShipmentTracker{}
	_, err = f.exec.Drive(ctx, order.ID)
	require.NoError(t, err)
	complete, err := f.exec.IsComplete(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, complete)
}

func TestApplyCompensationReleasesCapital(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.exec.Oracle = nil // buy_confirmation cannot run
	order := f.seedOrder(t, models.ActionBuy)

	require.True(t, f.lockCapital(t, order))

	_, err := f.exec.InitializeSteps(ctx, order.ID)
	require.NoError(t, err)
	failed, err := f.exec.Drive(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, string(StepBuyConfirmation), failed.Name)

	comp, err := f.exec.ApplyCompensation(ctx, failed.ID)
	require.NoError(t, err)
	require.NotNil(t, comp)
	require.Equal(t, models.CompensationStatusApplied, comp.Status)
	require.Equal(t, CompensationReleaseCapital, comp.Type)
	require.NotNil(t, comp.AppliedAt)

	step, err := f.store.GetStepByID(ctx, failed.ID)
	require.NoError(t, err)
	require.Equal(t, models.StepStatusCompensated, step.Status)

	account, err := f.store.GetCapitalAccount(ctx, "desk-1")
	require.NoError(t, err)
	require.True(t, account.Available.Equal(decimal.NewFromInt(10000)), "available = %s", account.Available)

	// The saga is resolved once the failed step is compensated.
	complete, err := f.exec.IsComplete(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, complete)
}

func TestSellSagaReleasesCapitalOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.seedOrder(t, models.ActionSell)
	require.True(t, f.lockCapital(t, order))

	_, err := f.exec.InitializeSteps(ctx, order.ID)
	require.NoError(t, err)
	last, err := f.exec.Drive(ctx, order.ID)
	require.NoError(t, err)
	require.Nil(t, last)

	account, err := f.store.GetCapitalAccount(ctx, "desk-1")
	require.NoError(t, err)
	require.True(t, account.Available.Equal(decimal.NewFromInt(10000)), "available = %s", account.Available)

	lock, err := f.store.GetCapitalLockByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, models.CapitalLockStatusReleased, lock.Status)
}
