package outcome

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradedesk/internal/collab"
	"tradedesk/internal/config"
	"tradedesk/internal/ledger"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	gormrepository "tradedesk/internal/repository/gorm"
	"tradedesk/internal/testutil"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		delta string
		want  string
	}{
		{"5", models.OutcomeStatusSuccess},
		{"12.5", models.OutcomeStatusSuccess},
		{"4.99", models.OutcomeStatusNeutral},
		{"0", models.OutcomeStatusNeutral},
		{"-4.99", models.OutcomeStatusNeutral},
		{"-5", models.OutcomeStatusNegative},
		{"-30", models.OutcomeStatusNegative},
	}
	for _, tc := range cases {
		delta, err := decimal.NewFromString(tc.delta)
		if err != nil {
			t.Fatalf("bad delta %q: %v", tc.delta, err)
		}
		if got := Classify(delta); got != tc.want {
			t.Fatalf("Classify(%s) = %s, want %s", tc.delta, got, tc.want)
		}
	}
}

func newRealizer(t *testing.T) (*Realizer, repository.Repository, *collab.SimPriceOracle) {
	t.Helper()
	db := testutil.NewDB(t)
	store := gormrepository.New(db)
	oracle := &collab.SimPriceOracle{}
	r := &Realizer{
		Repo:       store,
		Ledger:     &ledger.Ledger{Repo: store, Logger: zap.NewNop()},
		Oracle:     oracle,
		Classifier: collab.SimStrategyClassifier{},
		Logger:     zap.NewNop(),
		Config:     config.OutcomesConfig{MinHoldingDays: 1, BatchSize: 100},
	}
	return r, store, oracle
}

func seedExecuted(t *testing.T, store repository.Repository, daysAgo int) *models.Order {
	t.Helper()
	executedAt := time.Now().UTC().Add(-time.Duration(daysAgo) * 24 * time.Hour)
	order := &models.Order{
		OwnerID:     "desk-1",
		AssetID:     "AU-BAR-1KG",
		Region:      "CH",
		Action:      models.ActionBuy,
		Quantity:    decimal.NewFromInt(10),
		Price:       decimal.NewFromInt(100),
		ExpectedROI: decimal.NewFromInt(8),
		Confidence:  0.9,
		Status:      models.OrderStatusExecuted,
		ExecutedAt:  &executedAt,
	}
	require.NoError(t, store.InsertOrder(context.Background(), order))
	return order
}

func TestRealizeOutcomesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, store, oracle := newRealizer(t)
	require.NoError(t, store.EnsureCapitalAccount(ctx, "desk-1", decimal.NewFromInt(10000)))
	order := seedExecuted(t, store, 3)
	oracle.SetPrice("AU-BAR-1KG", "CH", decimal.NewFromInt(115))

	stats, err := r.RealizeOutcomes(ctx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Processed)
	require.Equal(t, 1, stats.Realized)
	require.Equal(t, 0, stats.Errors)

	outcome, err := store.GetRealizedOutcomeByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	// actual = (115-100)/100*100 = 15, delta = 15-8 = 7 -> SUCCESS
	require.True(t, outcome.ActualROI.Equal(decimal.NewFromInt(15)), "actual = %s", outcome.ActualROI)
	require.True(t, outcome.ROIDelta.Equal(decimal.NewFromInt(7)), "delta = %s", outcome.ROIDelta)
	require.Equal(t, models.OutcomeStatusSuccess, outcome.OutcomeStatus)
	require.Equal(t, 3, outcome.HoldingPeriodDays)
	require.Equal(t, "buy_conviction", outcome.StrategyTag)

	// A second pass finds nothing left to realize.
	stats, err = r.RealizeOutcomes(ctx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Processed)

	outcomes, err := store.ListRealizedOutcomes(ctx, repository.ListOutcomesParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
}

func TestRealizeAppliesPnlAndStrategyRollup(t *testing.T) {
	ctx := context.Background()
	r, store, oracle := newRealizer(t)
	require.NoError(t, store.EnsureCapitalAccount(ctx, "desk-1", decimal.NewFromInt(10000)))
	seedExecuted(t, store, 2)
	oracle.SetPrice("AU-BAR-1KG", "CH", decimal.NewFromInt(115))

	_, err := r.RealizeOutcomes(ctx, nil, nil)
	require.NoError(t, err)

	account, err := store.GetCapitalAccount(ctx, "desk-1")
	require.NoError(t, err)
	// pnl = (115-100)*10 = 150
	require.True(t, account.RealizedPnL.Equal(decimal.NewFromInt(150)), "pnl = %s", account.RealizedPnL)

	perf, err := store.ListStrategyPerformance(ctx)
	require.NoError(t, err)
	require.Len(t, perf, 1)
	require.Equal(t, "buy_conviction", perf[0].StrategyTag)
	require.Equal(t, 1, perf[0].Trades)
	require.Equal(t, 1, perf[0].Wins)
	require.Equal(t, 0, perf[0].Losses)
}

func TestHoldingPeriodGate(t *testing.T) {
	ctx := context.Background()
	r, store, oracle := newRealizer(t)
	require.NoError(t, store.EnsureCapitalAccount(ctx, "desk-1", decimal.NewFromInt(10000)))
	order := seedExecuted(t, store, 0)
	oracle.SetPrice("AU-BAR-1KG", "CH", decimal.NewFromInt(115))

	stats, err := r.RealizeOutcomes(ctx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Processed)
	require.Equal(t, 0, stats.Realized)
	require.Equal(t, 1, stats.Skipped)

	outcome, err := store.GetRealizedOutcomeByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.Nil(t, outcome)
}

func TestHoldingPeriodOverridePerPass(t *testing.T) {
	ctx := context.Background()
	r, store, oracle := newRealizer(t)
	require.NoError(t, store.EnsureCapitalAccount(ctx, "desk-1", decimal.NewFromInt(10000)))
	order := seedExecuted(t, store, 0)
	oracle.SetPrice("AU-BAR-1KG", "CH", decimal.NewFromInt(115))

	// Configured threshold of one day skips the order; an explicit zero
	// threshold for this pass realizes it.
	zero := 0
	stats, err := r.RealizeOutcomes(ctx, nil, &zero)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Realized)

	outcome, err := store.GetRealizedOutcomeByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.Equal(t, 0, outcome.HoldingPeriodDays)
}

func TestExitPriceFallsBackToExpectedROI(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newRealizer(t)
	r.Oracle = nil
	require.NoError(t, store.EnsureCapitalAccount(ctx, "desk-1", decimal.NewFromInt(10000)))
	order := seedExecuted(t, store, 2)

	stats, err := r.RealizeOutcomes(ctx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Realized)

	outcome, err := store.GetRealizedOutcomeByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	// exit = 100 * (1 + 8/100) = 108, actual = 8, delta = 0 -> NEUTRAL
	require.True(t, outcome.ExitPrice.Equal(decimal.NewFromInt(108)), "exit = %s", outcome.ExitPrice)
	require.True(t, outcome.ROIDelta.IsZero(), "delta = %s", outcome.ROIDelta)
	require.Equal(t, models.OutcomeStatusNeutral, outcome.OutcomeStatus)
}

func TestNegativeOutcome(t *testing.T) {
	ctx := context.Background()
	r, store, oracle := newRealizer(t)
	require.NoError(t, store.EnsureCapitalAccount(ctx, "desk-1", decimal.NewFromInt(10000)))
	order := seedExecuted(t, store, 2)
	oracle.SetPrice("AU-BAR-1KG", "CH", decimal.NewFromInt(95))

	_, err := r.RealizeOutcomes(ctx, nil, nil)
	require.NoError(t, err)

	outcome, err := store.GetRealizedOutcomeByOrderID(ctx, order.ID)
	require.NoError(t, err)
	// actual = -5, delta = -13 -> NEGATIVE
	require.Equal(t, models.OutcomeStatusNegative, outcome.OutcomeStatus)
}
