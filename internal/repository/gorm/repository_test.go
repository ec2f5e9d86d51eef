package gormrepository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	"tradedesk/internal/testutil"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(testutil.NewDB(t))
}

func seedOrder(t *testing.T, store *Store, ownerID, status, action string) *models.Order {
	t.Helper()
	order := &models.Order{
		OwnerID:    ownerID,
		AssetID:    "AU-BAR-1KG",
		Region:     "CH",
		Action:     action,
		Quantity:   decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(100),
		Confidence: 0.9,
		Status:     status,
	}
	require.NoError(t, store.InsertOrder(context.Background(), order))
	return order
}

func TestOrderTimestampsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	executedAt := time.Date(2026, 8, 30, 15, 4, 5, 0, time.UTC)
	order := seedOrder(t, store, "desk-1", models.OrderStatusExecuted, models.ActionBuy)
	require.NoError(t, store.InTx(ctx, func(tx *gorm.DB) error {
		return store.UpdateOrderTx(ctx, tx, order.ID, map[string]any{"executed_at": executedAt})
	}))

	got, err := store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.False(t, got.CreatedAt.IsZero())
	require.False(t, got.UpdatedAt.IsZero())
	require.NotNil(t, got.ExecutedAt)
	require.True(t, got.ExecutedAt.Equal(executedAt), "executed_at = %s", got.ExecutedAt)
}

func TestReserveAutonomySlotHonorsDailyCap(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	day := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	ok, err := store.ReserveAutonomySlot(ctx, "desk-1", day, 1, decimal.NewFromInt(100), nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.ReserveAutonomySlot(ctx, "desk-1", day, 1, decimal.NewFromInt(100), nil)
	require.NoError(t, err)
	require.False(t, ok)

	counter, err := store.GetAutonomyDailyCounter(ctx, "desk-1", day)
	require.NoError(t, err)
	require.NotNil(t, counter)
	require.Equal(t, 1, counter.ExecutedCount)
	require.True(t, counter.TotalValue.Equal(decimal.NewFromInt(100)), "total = %s", counter.TotalValue)

	// A new day starts from zero.
	next := day.AddDate(0, 0, 1)
	ok, err = store.ReserveAutonomySlot(ctx, "desk-1", next, 1, decimal.NewFromInt(100), nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReserveAutonomySlotHonorsValueCap(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	day := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	maxValue := decimal.NewFromInt(500)

	ok, err := store.ReserveAutonomySlot(ctx, "desk-1", day, 10, decimal.NewFromInt(300), &maxValue)
	require.NoError(t, err)
	require.True(t, ok)

	// 300 + 300 > 500
	ok, err = store.ReserveAutonomySlot(ctx, "desk-1", day, 10, decimal.NewFromInt(300), &maxValue)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.ReserveAutonomySlot(ctx, "desk-1", day, 10, decimal.NewFromInt(200), &maxValue)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReserveAutonomySlotRejectsZeroMax(t *testing.T) {
	store := newStore(t)
	ok, err := store.ReserveAutonomySlot(context.Background(), "desk-1", time.Now().UTC(), 0, decimal.NewFromInt(1), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateStepStatusIfClaimsOnce(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	order := seedOrder(t, store, "desk-1", models.OrderStatusExecuted, models.ActionBuy)

	step := models.ExecutionStep{OrderID: order.ID, Ordinal: 1, Name: "capital_lock_confirmation", Status: models.StepStatusPending}
	require.NoError(t, store.InTx(ctx, func(tx *gorm.DB) error {
		return store.InsertStepsTx(ctx, tx, []models.ExecutionStep{step})
	}))
	steps, err := store.ListStepsByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)

	var first, second bool
	require.NoError(t, store.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		first, err = store.UpdateStepStatusIf(ctx, tx, steps[0].ID, models.StepStatusPending, models.StepStatusInProgress, nil)
		if err != nil {
			return err
		}
		second, err = store.UpdateStepStatusIf(ctx, tx, steps[0].ID, models.StepStatusPending, models.StepStatusInProgress, nil)
		return err
	}))
	require.True(t, first)
	require.False(t, second)

	got, err := store.GetStepByID(ctx, steps[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.StepStatusInProgress, got.Status)
}

func TestInsertCompensationIsUniquePerStep(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	order := seedOrder(t, store, "desk-1", models.OrderStatusExecuted, models.ActionBuy)

	insert := func() error {
		return store.InTx(ctx, func(tx *gorm.DB) error {
			return store.InsertCompensationTx(ctx, tx, &models.Compensation{
				StepID:  42,
				OrderID: order.ID,
				Type:    "reverse_step",
				Status:  models.CompensationStatusPending,
			})
		})
	}
	require.NoError(t, insert())
	require.NoError(t, insert())

	comps, err := store.ListCompensationsByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, comps, 1)
}

func TestMarkCompensationAppliedAtMostOnce(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	order := seedOrder(t, store, "desk-1", models.OrderStatusExecuted, models.ActionBuy)
	require.NoError(t, store.InTx(ctx, func(tx *gorm.DB) error {
		return store.InsertCompensationTx(ctx, tx, &models.Compensation{
			StepID:  7,
			OrderID: order.ID,
			Type:    "release_capital",
			Status:  models.CompensationStatusPending,
		})
	}))

	now := time.Now().UTC()
	var first, second bool
	require.NoError(t, store.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		first, err = store.MarkCompensationAppliedTx(ctx, tx, 7, now)
		if err != nil {
			return err
		}
		second, err = store.MarkCompensationAppliedTx(ctx, tx, 7, now)
		return err
	}))
	require.True(t, first)
	require.False(t, second)

	comp, err := store.GetCompensationByStepID(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, models.CompensationStatusApplied, comp.Status)
	require.NotNil(t, comp.AppliedAt)
}

func TestInsertRealizedOutcomeIsConditional(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	outcome := func() *models.RealizedOutcome {
		return &models.RealizedOutcome{
			OrderID:       1,
			OwnerID:       "desk-1",
			EntryPrice:    decimal.NewFromInt(100),
			ExitPrice:     decimal.NewFromInt(110),
			ExpectedROI:   decimal.NewFromInt(8),
			ActualROI:     decimal.NewFromInt(10),
			ROIDelta:      decimal.NewFromInt(2),
			OutcomeStatus: models.OutcomeStatusNeutral,
		}
	}

	inserted, err := store.InsertRealizedOutcome(ctx, outcome())
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.InsertRealizedOutcome(ctx, outcome())
	require.NoError(t, err)
	require.False(t, inserted)

	items, err := store.ListRealizedOutcomes(ctx, repository.ListOutcomesParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestUpsertSystemSettingBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.UpsertSystemSetting(ctx, &models.SystemSetting{
		Key:   "autonomy.kill_switch",
		Value: datatypes.JSON([]byte("false")),
	}))
	got, err := store.GetSystemSettingByKey(ctx, "autonomy.kill_switch")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 0, got.Version)

	require.NoError(t, store.UpsertSystemSetting(ctx, &models.SystemSetting{
		Key:   "autonomy.kill_switch",
		Value: datatypes.JSON([]byte("true")),
	}))
	got, err = store.GetSystemSettingByKey(ctx, "autonomy.kill_switch")
	require.NoError(t, err)
	require.Equal(t, 1, got.Version)
	require.JSONEq(t, "true", string(got.Value))
}

func TestUpsertAssetQuoteReplacesPrice(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	first := time.Now().UTC().Add(-time.Minute)

	require.NoError(t, store.UpsertAssetQuote(ctx, &models.AssetQuote{
		AssetID:  "AU-BAR-1KG",
		Region:   "CH",
		Price:    decimal.NewFromInt(100),
		QuotedAt: first,
	}))
	require.NoError(t, store.UpsertAssetQuote(ctx, &models.AssetQuote{
		AssetID:  "AU-BAR-1KG",
		Region:   "CH",
		Price:    decimal.NewFromInt(105),
		QuotedAt: first.Add(time.Minute),
	}))

	got, err := store.GetLatestAssetQuote(ctx, "AU-BAR-1KG", "CH")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.Price.Equal(decimal.NewFromInt(105)), "price = %s", got.Price)

	missing, err := store.GetLatestAssetQuote(ctx, "AU-BAR-1KG", "US")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestListOrdersFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seedOrder(t, store, "desk-1", models.OrderStatusPendingApproval, models.ActionBuy)
	seedOrder(t, store, "desk-1", models.OrderStatusApproved, models.ActionBuy)
	seedOrder(t, store, "desk-1", models.OrderStatusApproved, models.ActionSell)
	seedOrder(t, store, "desk-2", models.OrderStatusApproved, models.ActionBuy)

	status := models.OrderStatusApproved
	owner := "desk-1"
	items, err := store.ListOrders(ctx, repository.ListOrdersParams{OwnerID: &owner, Status: &status, Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 2)

	action := models.ActionSell
	items, err = store.ListOrders(ctx, repository.ListOrdersParams{Action: &action, Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)

	total, err := store.CountOrders(ctx, repository.ListOrdersParams{Status: &status})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)

	asc := true
	page, err := store.ListOrders(ctx, repository.ListOrdersParams{Limit: 2, Offset: 2, OrderBy: "id", Asc: &asc})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.EqualValues(t, 3, page[0].ID)
}

func TestListExecutedOrdersWithoutOutcome(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now().UTC()
	done := seedOrder(t, store, "desk-1", models.OrderStatusExecuted, models.ActionBuy)
	pending := seedOrder(t, store, "desk-1", models.OrderStatusExecuted, models.ActionBuy)
	seedOrder(t, store, "desk-1", models.OrderStatusApproved, models.ActionBuy)
	require.NoError(t, store.InTx(ctx, func(tx *gorm.DB) error {
		if err := store.UpdateOrderTx(ctx, tx, done.ID, map[string]any{"executed_at": now}); err != nil {
			return err
		}
		return store.UpdateOrderTx(ctx, tx, pending.ID, map[string]any{"executed_at": now})
	}))

	inserted, err := store.InsertRealizedOutcome(ctx, &models.RealizedOutcome{
		OrderID:       done.ID,
		OwnerID:       "desk-1",
		EntryPrice:    decimal.NewFromInt(100),
		ExitPrice:     decimal.NewFromInt(100),
		ExpectedROI:   decimal.Zero,
		ActualROI:     decimal.Zero,
		ROIDelta:      decimal.Zero,
		OutcomeStatus: models.OutcomeStatusNeutral,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	items, err := store.ListExecutedOrdersWithoutOutcome(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, pending.ID, items[0].ID)

	other := "desk-2"
	items, err = store.ListExecutedOrdersWithoutOutcome(ctx, &other, 10)
	require.NoError(t, err)
	require.Empty(t, items)
}
