// Package autonomy decides whether an approved order may execute without a
// human action. Hard limits here are floors and ceilings the configured
// policy can tighten but never loosen, and the kill switch wins over
// everything else. Every decision, allowed or denied, is persisted with the
// full snapshot of inputs before the verdict is returned.
package autonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tradedesk/internal/config"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
	"tradedesk/internal/settings"
)

const (
	ReasonKillSwitchActive   = "kill_switch_active"
	ReasonKillSwitchUnknown  = "kill_switch_unreadable"
	ReasonOrderNotApproved   = "order_not_approved"
	ReasonAutonomyDisabled   = "autonomy_disabled"
	ReasonConfidenceBelowMin = "confidence_below_threshold"
	ReasonRiskScoreMissing   = "risk_score_missing"
	ReasonRiskAboveThreshold = "risk_above_threshold"
	ReasonAssetNotAllowed    = "asset_not_allowed"
	ReasonRegionNotAllowed   = "region_not_allowed"
	ReasonDailyLimitReached  = "daily_trade_limit_reached"
	ReasonDailyValueExceeded = "daily_value_limit_reached"
)

type Metrics struct {
	Confidence float64
	RiskScore  *float64
}

type Decision struct {
	Allowed  bool
	Decision string
	Reason   string
	Snapshot PolicySnapshot
}

// PolicySnapshot is the full set of inputs and effective thresholds used for
// one decision; it is persisted verbatim for audit.
type PolicySnapshot struct {
	KillSwitch          bool     `json:"kill_switch"`
	PolicyEnabled       bool     `json:"policy_enabled"`
	Confidence          float64  `json:"confidence"`
	RiskScore           *float64 `json:"risk_score"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	RiskThreshold       float64  `json:"risk_threshold"`
	MaxDailyTrades      int      `json:"max_daily_trades"`
	MaxTradeValue       *string  `json:"max_trade_value,omitempty"`
	ExecutedToday       int      `json:"executed_today"`
	ValueToday          string   `json:"value_today"`
	OrderValue          string   `json:"order_value"`
	AllowedAssets       []string `json:"allowed_assets,omitempty"`
	AllowedRegions      []string `json:"allowed_regions,omitempty"`
}

type Gate struct {
	Repo     repository.Repository
	Settings *settings.Service
	Logger   *zap.Logger
	Config   config.AutonomyConfig
}

// Evaluate runs the hard-limit chain for one order. The daily counter check
// is a single atomic check-and-increment, so two concurrent evaluations can
// never both pass a "< max per day" limit.
func (g *Gate) Evaluate(ctx context.Context, ownerID string, order models.Order, metrics Metrics) (Decision, error) {
	if g == nil || g.Repo == nil {
		return Decision{}, errors.New("autonomy gate not configured")
	}

	snapshot := PolicySnapshot{
		Confidence: metrics.Confidence,
		RiskScore:  metrics.RiskScore,
		OrderValue: order.Value().String(),
	}

	// Kill switch first, read fresh from the store; nothing overrides it, and
	// an unreadable switch counts as engaged.
	killed, kerr := g.Settings.KillSwitchEngaged(ctx)
	snapshot.KillSwitch = killed
	if kerr != nil {
		reason := fmt.Sprintf("%s: %v", ReasonKillSwitchUnknown, kerr)
		return g.deny(ctx, ownerID, order, models.AutonomyDecisionBlocked, reason, snapshot)
	}
	if killed {
		return g.deny(ctx, ownerID, order, models.AutonomyDecisionBlocked, ReasonKillSwitchActive, snapshot)
	}

	// Only approved orders are executable; anything else must not reach the
	// daily slot reservation.
	if order.Status != models.OrderStatusApproved {
		reason := fmt.Sprintf("%s: %s", ReasonOrderNotApproved, order.Status)
		return g.deny(ctx, ownerID, order, models.AutonomyDecisionSkipped, reason, snapshot)
	}

	policy, err := g.Repo.GetAutonomyPolicy(ctx, ownerID)
	if err != nil {
		return Decision{}, err
	}
	if policy == nil || !policy.Enabled {
		return g.deny(ctx, ownerID, order, models.AutonomyDecisionSkipped, ReasonAutonomyDisabled, snapshot)
	}
	snapshot.PolicyEnabled = true

	confFloor := g.hardConfidenceFloor()
	confThreshold := confFloor
	if policy.ConfidenceThreshold > confThreshold {
		confThreshold = policy.ConfidenceThreshold
	}
	snapshot.ConfidenceThreshold = confThreshold
	if metrics.Confidence < confThreshold {
		reason := fmt.Sprintf("%s: %.2f < %.2f", ReasonConfidenceBelowMin, metrics.Confidence, confThreshold)
		return g.deny(ctx, ownerID, order, models.AutonomyDecisionSkipped, reason, snapshot)
	}

	riskCeiling := g.hardRiskCeiling()
	riskThreshold := riskCeiling
	if policy.RiskThreshold < riskThreshold {
		riskThreshold = policy.RiskThreshold
	}
	snapshot.RiskThreshold = riskThreshold
	if metrics.RiskScore == nil {
		// Unknown risk is denied outright rather than masked by a
		// conveniently low placeholder.
		return g.deny(ctx, ownerID, order, models.AutonomyDecisionBlocked, ReasonRiskScoreMissing, snapshot)
	}
	if *metrics.RiskScore > riskThreshold {
		reason := fmt.Sprintf("%s: %.2f > %.2f", ReasonRiskAboveThreshold, *metrics.RiskScore, riskThreshold)
		return g.deny(ctx, ownerID, order, models.AutonomyDecisionSkipped, reason, snapshot)
	}

	allowedAssets := decodeList(policy.AllowedAssets)
	allowedRegions := decodeList(policy.AllowedRegions)
	snapshot.AllowedAssets = allowedAssets
	snapshot.AllowedRegions = allowedRegions
	if len(allowedAssets) > 0 && !contains(allowedAssets, order.AssetID) {
		reason := fmt.Sprintf("%s: %s", ReasonAssetNotAllowed, order.AssetID)
		return g.deny(ctx, ownerID, order, models.AutonomyDecisionSkipped, reason, snapshot)
	}
	if len(allowedRegions) > 0 && !contains(allowedRegions, order.Region) {
		reason := fmt.Sprintf("%s: %s", ReasonRegionNotAllowed, order.Region)
		return g.deny(ctx, ownerID, order, models.AutonomyDecisionSkipped, reason, snapshot)
	}

	maxTrades := g.hardMaxDailyTrades()
	if policy.MaxDailyTrades < maxTrades {
		maxTrades = policy.MaxDailyTrades
	}
	snapshot.MaxDailyTrades = maxTrades
	if policy.MaxTradeValue != nil {
		v := policy.MaxTradeValue.String()
		snapshot.MaxTradeValue = &v
	}

	day := utcDay(time.Now())
	reserved, err := g.Repo.ReserveAutonomySlot(ctx, ownerID, day, maxTrades, order.Value(), policy.MaxTradeValue)
	if err != nil {
		return Decision{}, err
	}
	counter, cerr := g.Repo.GetAutonomyDailyCounter(ctx, ownerID, day)
	if cerr == nil && counter != nil {
		snapshot.ExecutedToday = counter.ExecutedCount
		snapshot.ValueToday = counter.TotalValue.String()
	}
	if !reserved {
		reason := fmt.Sprintf("%s: %d/%d", ReasonDailyLimitReached, snapshot.ExecutedToday, maxTrades)
		if counter != nil && counter.ExecutedCount < maxTrades {
			reason = fmt.Sprintf("%s: %s + %s > %s", ReasonDailyValueExceeded, counter.TotalValue.String(), order.Value().String(), policy.MaxTradeValue.String())
		}
		return g.deny(ctx, ownerID, order, models.AutonomyDecisionSkipped, reason, snapshot)
	}

	decision := Decision{
		Allowed:  true,
		Decision: models.AutonomyDecisionExecuted,
		Snapshot: snapshot,
	}
	if err := g.record(ctx, ownerID, order, decision.Decision, "", snapshot, map[string]any{"status": "triggered"}); err != nil {
		return Decision{}, err
	}
	if g.Logger != nil {
		g.Logger.Info("autonomy allowed",
			zap.String("owner_id", ownerID),
			zap.Uint64("order_id", order.ID),
		)
	}
	return decision, nil
}

func (g *Gate) deny(ctx context.Context, ownerID string, order models.Order, decision, reason string, snapshot PolicySnapshot) (Decision, error) {
	if err := g.record(ctx, ownerID, order, decision, reason, snapshot, nil); err != nil {
		return Decision{}, err
	}
	if g.Logger != nil {
		g.Logger.Info("autonomy denied",
			zap.String("owner_id", ownerID),
			zap.Uint64("order_id", order.ID),
			zap.String("reason", reason),
		)
	}
	return Decision{
		Allowed:  false,
		Decision: decision,
		Reason:   reason,
		Snapshot: snapshot,
	}, nil
}

func (g *Gate) record(ctx context.Context, ownerID string, order models.Order, decision, reason string, snapshot PolicySnapshot, result map[string]any) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	item := &models.AutonomousExecutionRecord{
		OwnerID:        ownerID,
		OrderID:        order.ID,
		Decision:       decision,
		PolicySnapshot: datatypes.JSON(raw),
	}
	if reason != "" {
		item.FailureReason = &reason
	}
	if result != nil {
		rraw, err := json.Marshal(result)
		if err != nil {
			return err
		}
		item.ExecutionResult = datatypes.JSON(rraw)
	}
	return g.Repo.InsertAutonomousExecutionRecord(ctx, item)
}

func (g *Gate) hardConfidenceFloor() float64 {
	if g.Config.HardConfidenceFloor > 0 {
		return g.Config.HardConfidenceFloor
	}
	return 0.85
}

func (g *Gate) hardRiskCeiling() float64 {
	if g.Config.HardRiskCeiling > 0 {
		return g.Config.HardRiskCeiling
	}
	return 0.30
}

func (g *Gate) hardMaxDailyTrades() int {
	if g.Config.HardMaxDailyTrades > 0 {
		return g.Config.HardMaxDailyTrades
	}
	return 1
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func decodeList(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

// MetricsFromOrder is the default metrics source when no live feed overrides
// the proposal's own numbers.
func MetricsFromOrder(order models.Order) Metrics {
	return Metrics{
		Confidence: order.Confidence,
		RiskScore:  order.RiskScore,
	}
}
