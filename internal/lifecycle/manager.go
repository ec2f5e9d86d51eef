// Package lifecycle owns the order status state machine. Every transition
// runs in one transaction holding the order's row lock, writes a before/after
// audit pair, and fails with InvalidTransitionError on any disallowed move.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tradedesk/internal/audit"
	"tradedesk/internal/collab"
	"tradedesk/internal/config"
	"tradedesk/internal/ledger"
	"tradedesk/internal/models"
	"tradedesk/internal/repository"
)

var (
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrComplianceRejected  = errors.New("compliance_rejected")
	ErrInsufficientCapital = ledger.ErrInsufficientCapital
)

type Manager struct {
	Repo       repository.Repository
	Ledger     *ledger.Ledger
	Audit      *audit.Sink
	Compliance collab.ComplianceEngine
	Oracle     collab.PriceOracle
	Logger     *zap.Logger
	Config     config.CollabConfig
}

type Proposal struct {
	AssetID     string
	Region      string
	Action      string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	ExpectedROI decimal.Decimal
	Confidence  float64
	RiskScore   *float64
}

func (m *Manager) Create(ctx context.Context, ownerID string, p Proposal) (*models.Order, error) {
	if m == nil || m.Repo == nil {
		return nil, errors.New("lifecycle manager not configured")
	}
	if err := validateProposal(ownerID, p); err != nil {
		return nil, err
	}
	price := p.Price
	if price.LessThanOrEqual(decimal.Zero) && m.Oracle != nil {
		octx, cancel := context.WithTimeout(ctx, m.oracleTimeout())
		defer cancel()
		fetched, err := m.Oracle.CurrentPrice(octx, p.AssetID, p.Region)
		if err != nil {
			return nil, fmt.Errorf("fetch reference price: %w", err)
		}
		price = fetched
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("reference price unavailable")
	}

	order := &models.Order{
		OwnerID:     ownerID,
		AssetID:     p.AssetID,
		Region:      p.Region,
		Action:      p.Action,
		Quantity:    p.Quantity,
		Price:       price,
		ExpectedROI: p.ExpectedROI,
		Confidence:  p.Confidence,
		RiskScore:   p.RiskScore,
		Status:      models.OrderStatusPendingApproval,
	}
	err := m.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := m.Repo.InsertOrderTx(ctx, tx, order); err != nil {
			return err
		}
		return m.Audit.AppendTx(ctx, tx, audit.Event{
			Kind:    "order.created",
			OwnerID: ownerID,
			OrderID: &order.ID,
			After:   order,
		})
	})
	if err != nil {
		return nil, err
	}
	if m.Logger != nil {
		m.Logger.Info("order created",
			zap.Uint64("order_id", order.ID),
			zap.String("owner_id", ownerID),
			zap.String("action", order.Action),
		)
	}
	return order, nil
}

// Approve asks compliance for a verdict, then locks capital and flips the
// status in one transaction. The compliance call is bounded by a timeout and
// happens before the row lock is taken; its verdict is recorded on the order
// so a retry never re-runs a gate that already answered.
func (m *Manager) Approve(ctx context.Context, orderID uint64) (*models.Order, error) {
	if m == nil || m.Repo == nil {
		return nil, errors.New("lifecycle manager not configured")
	}
	current, err := m.Repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrOrderNotFound
	}

	verdict := current.ComplianceVerdict
	reason := ""
	if verdict == nil {
		cctx, cancel := context.WithTimeout(ctx, m.complianceTimeout())
		result, cerr := m.Compliance.Evaluate(cctx, *current)
		cancel()
		if cerr != nil {
			return nil, fmt.Errorf("compliance evaluate: %w", cerr)
		}
		verdict = &result.Verdict
		reason = result.Reason
		// Persist the verdict on its own so a retry after a later failure
		// (e.g. insufficient capital) does not re-run the compliance gate.
		perr := m.Repo.InTx(ctx, func(tx *gorm.DB) error {
			return m.Repo.UpdateOrderTx(ctx, tx, current.ID, map[string]any{
				"compliance_verdict": *verdict,
			})
		})
		if perr != nil {
			return nil, perr
		}
	}
	if *verdict == collab.ComplianceVerdictFail {
		return nil, fmt.Errorf("%w: %s", ErrComplianceRejected, reason)
	}

	var updated *models.Order
	err = m.Repo.InTx(ctx, func(tx *gorm.DB) error {
		order, err := m.Repo.GetOrderForUpdateTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}
		next, err := checkTransition(OpApprove, order)
		if err != nil {
			return err
		}
		locked, err := m.Ledger.LockTx(ctx, tx, order.OwnerID, order.ID, order.Value())
		if err != nil {
			return err
		}
		if !locked {
			// Order stays PENDING_APPROVAL; nothing in this tx sticks.
			return fmt.Errorf("%w: need %s", ErrInsufficientCapital, order.Value().String())
		}
		now := time.Now().UTC()
		before := *order
		updates := map[string]any{
			"status":             next,
			"approved_at":        now,
			"compliance_verdict": *verdict,
		}
		if err := m.Repo.UpdateOrderTx(ctx, tx, order.ID, updates); err != nil {
			return err
		}
		after := *order
		after.Status = next
		after.ApprovedAt = &now
		after.ComplianceVerdict = verdict
		detail := ""
		if *verdict == collab.ComplianceVerdictConditional {
			detail = "compliance_conditional: " + reason
		}
		if err := m.Audit.AppendTx(ctx, tx, audit.Event{
			Kind:    "order.approved",
			OwnerID: order.OwnerID,
			OrderID: &order.ID,
			Before:  before,
			After:   after,
			Detail:  detail,
		}); err != nil {
			return err
		}
		updated = &after
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.Logger != nil {
		m.Logger.Info("order approved",
			zap.Uint64("order_id", orderID),
			zap.String("verdict", *verdict),
		)
	}
	return updated, nil
}

func (m *Manager) Reject(ctx context.Context, orderID uint64, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "rejected"
	}
	return m.terminate(ctx, orderID, OpReject, "order.rejected", &reason)
}

func (m *Manager) Cancel(ctx context.Context, orderID uint64) (*models.Order, error) {
	return m.terminate(ctx, orderID, OpCancel, "order.cancelled", nil)
}

// terminate handles the two terminal, capital-freeing transitions. Capital is
// only held once an order was approved; the release is at-most-once either way.
func (m *Manager) terminate(ctx context.Context, orderID uint64, op Operation, kind string, reason *string) (*models.Order, error) {
	if m == nil || m.Repo == nil {
		return nil, errors.New("lifecycle manager not configured")
	}
	var updated *models.Order
	err := m.Repo.InTx(ctx, func(tx *gorm.DB) error {
		order, err := m.Repo.GetOrderForUpdateTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}
		next, err := checkTransition(op, order)
		if err != nil {
			return err
		}
		if order.Status == models.OrderStatusApproved {
			if _, err := m.Ledger.ReleaseTx(ctx, tx, order.ID); err != nil {
				return err
			}
		}
		before := *order
		updates := map[string]any{"status": next}
		if reason != nil {
			updates["rejection_reason"] = *reason
		}
		if err := m.Repo.UpdateOrderTx(ctx, tx, order.ID, updates); err != nil {
			return err
		}
		after := *order
		after.Status = next
		after.RejectionReason = reason
		if err := m.Audit.AppendTx(ctx, tx, audit.Event{
			Kind:    kind,
			OwnerID: order.OwnerID,
			OrderID: &order.ID,
			Before:  before,
			After:   after,
		}); err != nil {
			return err
		}
		updated = &after
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.Logger != nil {
		m.Logger.Info("order terminated",
			zap.Uint64("order_id", orderID),
			zap.String("status", updated.Status),
		)
	}
	return updated, nil
}

func (m *Manager) MarkExecuted(ctx context.Context, orderID uint64) (*models.Order, error) {
	if m == nil || m.Repo == nil {
		return nil, errors.New("lifecycle manager not configured")
	}
	var updated *models.Order
	err := m.Repo.InTx(ctx, func(tx *gorm.DB) error {
		order, err := m.Repo.GetOrderForUpdateTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}
		next, err := checkTransition(OpMarkExecuted, order)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		before := *order
		updates := map[string]any{
			"status":      next,
			"executed_at": now,
		}
		if err := m.Repo.UpdateOrderTx(ctx, tx, order.ID, updates); err != nil {
			return err
		}
		after := *order
		after.Status = next
		after.ExecutedAt = &now
		if err := m.Audit.AppendTx(ctx, tx, audit.Event{
			Kind:    "order.executed",
			OwnerID: order.OwnerID,
			OrderID: &order.ID,
			Before:  before,
			After:   after,
		}); err != nil {
			return err
		}
		updated = &after
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.Logger != nil {
		m.Logger.Info("order executed", zap.Uint64("order_id", orderID))
	}
	return updated, nil
}

func validateProposal(ownerID string, p Proposal) error {
	if strings.TrimSpace(ownerID) == "" {
		return errors.New("owner_id required")
	}
	if strings.TrimSpace(p.AssetID) == "" {
		return errors.New("asset_id required")
	}
	switch p.Action {
	case models.ActionBuy, models.ActionSell, models.ActionHold:
	default:
		return fmt.Errorf("invalid action %q", p.Action)
	}
	if p.Quantity.LessThanOrEqual(decimal.Zero) {
		return errors.New("quantity must be positive")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return errors.New("confidence must be in [0,1]")
	}
	if p.RiskScore != nil && (*p.RiskScore < 0 || *p.RiskScore > 1) {
		return errors.New("risk_score must be in [0,1]")
	}
	return nil
}

func (m *Manager) complianceTimeout() time.Duration {
	if m.Config.ComplianceTimeout > 0 {
		return m.Config.ComplianceTimeout
	}
	return 10 * time.Second
}

func (m *Manager) oracleTimeout() time.Duration {
	if m.Config.OracleTimeout > 0 {
		return m.Config.OracleTimeout
	}
	return 10 * time.Second
}
