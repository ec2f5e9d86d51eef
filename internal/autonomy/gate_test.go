package autonomy

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tradedesk/internal/config"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	gormrepository "tradedesk/internal/repository/gorm"
	"tradedesk/internal/settings"
	"tradedesk/internal/testutil"
)

func newGate(t *testing.T) (*Gate, repository.Repository, *settings.Service) {
	t.Helper()
	db := testutil.NewDB(t)
	store := gormrepository.New(db)
	svc := &settings.Service{Repo: store}
	require.NoError(t, svc.EnsureDefaults(context.Background()))
	g := &Gate{
		Repo:     store,
		Settings: svc,
		Logger:   zap.NewNop(),
		Config: config.AutonomyConfig{
			HardConfidenceFloor: 0.85,
			HardRiskCeiling:     0.30,
			HardMaxDailyTrades:  1,
		},
	}
	return g, store, svc
}

func approvedOrder(id uint64) models.Order {
	risk := 0.20
	return models.Order{
		ID:         id,
		OwnerID:    "desk-1",
		AssetID:    "AU-BAR-1KG",
		Region:     "CH",
		Action:     models.ActionBuy,
		Quantity:   decimal.NewFromInt(10),
		Price:      decimal.NewFromInt(100),
		Confidence: 0.90,
		RiskScore:  &risk,
		Status:     models.OrderStatusApproved,
	}
}

func enablePolicy(t *testing.T, store repository.Repository, maxTrades int) {
	t.Helper()
	require.NoError(t, store.UpsertAutonomyPolicy(context.Background(), &models.AutonomyPolicy{
		OwnerID:             "desk-1",
		Enabled:             true,
		ConfidenceThreshold: 0.85,
		RiskThreshold:       0.30,
		MaxDailyTrades:      maxTrades,
	}))
}

func lastRecord(t *testing.T, store repository.Repository) models.AutonomousExecutionRecord {
	t.Helper()
	items, err := store.ListAutonomousExecutionRecords(context.Background(), repository.ListAutonomyRecordsParams{Limit: 1})
	require.NoError(t, err)
	require.NotEmpty(t, items)
	return items[0]
}

func TestKillSwitchOverridesEverything(t *testing.T) {
	ctx := context.Background()
	g, store, svc := newGate(t)
	enablePolicy(t, store, 1)
	require.NoError(t, svc.SetEnabled(ctx, settings.KeyKillSwitch, true))

	order := approvedOrder(1)
	decision, err := g.Evaluate(ctx, "desk-1", order, MetricsFromOrder(order))
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, models.AutonomyDecisionBlocked, decision.Decision)
	require.Equal(t, ReasonKillSwitchActive, decision.Reason)

	record := lastRecord(t, store)
	require.Equal(t, models.AutonomyDecisionBlocked, record.Decision)
	require.NotNil(t, record.FailureReason)
}

// failingSettingsStore breaks the settings read while leaving every other
// store operation intact.
type failingSettingsStore struct {
	repository.Repository
}

func (failingSettingsStore) GetSystemSettingByKey(context.Context, string) (*models.SystemSetting, error) {
	return nil, errors.New("settings table unavailable")
}

func TestKillSwitchReadFailureDenies(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newGate(t)
	enablePolicy(t, store, 1)
	g.Settings = &settings.Service{Repo: failingSettingsStore{Repository: store}}

	order := approvedOrder(1)
	decision, err := g.Evaluate(ctx, "desk-1", order, MetricsFromOrder(order))
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, models.AutonomyDecisionBlocked, decision.Decision)
	require.True(t, strings.HasPrefix(decision.Reason, ReasonKillSwitchUnknown))
	require.True(t, decision.Snapshot.KillSwitch)

	record := lastRecord(t, store)
	require.Equal(t, models.AutonomyDecisionBlocked, record.Decision)
}

func TestUnapprovedOrderNeverConsumesDailySlot(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newGate(t)
	enablePolicy(t, store, 1)

	for _, status := range []string{models.OrderStatusPendingApproval, models.OrderStatusExecuted} {
		order := approvedOrder(1)
		order.Status = status
		decision, err := g.Evaluate(ctx, "desk-1", order, MetricsFromOrder(order))
		require.NoError(t, err)
		require.False(t, decision.Allowed, "status %s", status)
		require.Equal(t, models.AutonomyDecisionSkipped, decision.Decision)
		require.True(t, strings.HasPrefix(decision.Reason, ReasonOrderNotApproved))
	}

	counter, err := store.GetAutonomyDailyCounter(ctx, "desk-1", utcDay(time.Now()))
	require.NoError(t, err)
	if counter != nil {
		require.Equal(t, 0, counter.ExecutedCount)
	}

	// The slot is still there for the order once it is approved.
	order := approvedOrder(1)
	decision, err := g.Evaluate(ctx, "desk-1", order, MetricsFromOrder(order))
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestDisabledPolicySkips(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newGate(t)

	order := approvedOrder(1)
	decision, err := g.Evaluate(ctx, "desk-1", order, MetricsFromOrder(order))
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, models.AutonomyDecisionSkipped, decision.Decision)
	require.Equal(t, ReasonAutonomyDisabled, decision.Reason)
}

func TestHardConfidenceFloorBeatsLooserPolicy(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newGate(t)
	// The policy says 0.5 is fine; the hard floor says otherwise.
	require.NoError(t, store.UpsertAutonomyPolicy(ctx, &models.AutonomyPolicy{
		OwnerID:             "desk-1",
		Enabled:             true,
		ConfidenceThreshold: 0.5,
		RiskThreshold:       0.30,
		MaxDailyTrades:      1,
	}))

	order := approvedOrder(1)
	order.Confidence = 0.84
	decision, err := g.Evaluate(ctx, "desk-1", order, MetricsFromOrder(order))
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.True(t, strings.HasPrefix(decision.Reason, ReasonConfidenceBelowMin))
	require.Equal(t, 0.85, decision.Snapshot.ConfidenceThreshold)
}

func TestMissingRiskScoreIsBlocked(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newGate(t)
	enablePolicy(t, store, 1)

	order := approvedOrder(1)
	order.RiskScore = nil
	decision, err := g.Evaluate(ctx, "desk-1", order, MetricsFromOrder(order))
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, models.AutonomyDecisionBlocked, decision.Decision)
	require.Equal(t, ReasonRiskScoreMissing, decision.Reason)
}

func TestRiskAboveTightenedThreshold(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newGate(t)
	require.NoError(t, store.UpsertAutonomyPolicy(ctx, &models.AutonomyPolicy{
		OwnerID:             "desk-1",
		Enabled:             true,
		ConfidenceThreshold: 0.85,
		RiskThreshold:       0.10,
		MaxDailyTrades:      1,
	}))

	order := approvedOrder(1)
	risk := 0.20
	order.RiskScore = &risk
	decision, err := g.Evaluate(ctx, "desk-1", order, MetricsFromOrder(order))
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.True(t, strings.HasPrefix(decision.Reason, ReasonRiskAboveThreshold))
	require.Equal(t, 0.10, decision.Snapshot.RiskThreshold)
}

func TestAssetAllowList(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newGate(t)
	allowed, _ := json.Marshal([]string{"AG-BAR-5KG"})
	require.NoError(t, store.UpsertAutonomyPolicy(ctx, &models.AutonomyPolicy{
		OwnerID:             "desk-1",
		Enabled:             true,
		ConfidenceThreshold: 0.85,
		RiskThreshold:       0.30,
		MaxDailyTrades:      1,
		AllowedAssets:       datatypes.JSON(allowed),
	}))

	order := approvedOrder(1)
	decision, err := g.Evaluate(ctx, "desk-1", order, MetricsFromOrder(order))
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.True(t, strings.HasPrefix(decision.Reason, ReasonAssetNotAllowed))
}

func TestAllowedDecisionPersistsRecord(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newGate(t)
	enablePolicy(t, store, 1)

	order := approvedOrder(1)
	decision, err := g.Evaluate(ctx, "desk-1", order, MetricsFromOrder(order))
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, models.AutonomyDecisionExecuted, decision.Decision)

	record := lastRecord(t, store)
	require.Equal(t, models.AutonomyDecisionExecuted, record.Decision)
	require.Nil(t, record.FailureReason)
	require.NotEmpty(t, record.PolicySnapshot)

	var snapshot PolicySnapshot
	require.NoError(t, json.Unmarshal(record.PolicySnapshot, &snapshot))
	require.Equal(t, 0.90, snapshot.Confidence)
	require.Equal(t, 0.85, snapshot.ConfidenceThreshold)
}

func TestDailyTradeLimitIsAtomicPerDay(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newGate(t)
	// Policy asks for 5/day; the hard cap of 1 wins.
	enablePolicy(t, store, 5)

	first := approvedOrder(1)
	decision, err := g.Evaluate(ctx, "desk-1", first, MetricsFromOrder(first))
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	second := approvedOrder(2)
	decision, err = g.Evaluate(ctx, "desk-1", second, MetricsFromOrder(second))
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.True(t, strings.HasPrefix(decision.Reason, ReasonDailyLimitReached))
	require.Equal(t, 1, decision.Snapshot.MaxDailyTrades)
	require.Equal(t, 1, decision.Snapshot.ExecutedToday)
}

func TestDailyValueLimit(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newGate(t)
	maxValue := decimal.NewFromInt(500)
	require.NoError(t, store.UpsertAutonomyPolicy(ctx, &models.AutonomyPolicy{
		OwnerID:             "desk-1",
		Enabled:             true,
		ConfidenceThreshold: 0.85,
		RiskThreshold:       0.30,
		MaxDailyTrades:      1,
		MaxTradeValue:       &maxValue,
	}))

	order := approvedOrder(1) // value 1000 > 500
	decision, err := g.Evaluate(ctx, "desk-1", order, MetricsFromOrder(order))
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.True(t, strings.HasPrefix(decision.Reason, ReasonDailyValueExceeded))
}
