// Package ledger maintains per-owner capital counters. Every mutation is a
// single conditional update; available can never go negative and a release is
// applied at most once per matching lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tradedesk/internal/models"
	"tradedesk/internal/repository"
)

var ErrInsufficientCapital = errors.New("insufficient_capital")

type Ledger struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// LockTx reserves amount against the owner's available capital inside the
// caller's transaction. Returns false without error when available < amount.
func (l *Ledger) LockTx(ctx context.Context, tx *gorm.DB, ownerID string, orderID uint64, amount decimal.Decimal) (bool, error) {
	if l == nil || l.Repo == nil {
		return false, errors.New("ledger not configured")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return false, fmt.Errorf("invalid lock amount %s", amount.String())
	}
	lock := &models.CapitalLock{
		Ref:     uuid.NewString(),
		OwnerID: ownerID,
		OrderID: orderID,
		Amount:  amount,
		Status:  models.CapitalLockStatusHeld,
	}
	ok, err := l.Repo.LockCapitalTx(ctx, tx, lock)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ReleaseTx frees the capital held for an order. A second release of the same
// lock is a no-op reporting false.
func (l *Ledger) ReleaseTx(ctx context.Context, tx *gorm.DB, orderID uint64) (bool, error) {
	if l == nil || l.Repo == nil {
		return false, errors.New("ledger not configured")
	}
	released, err := l.Repo.ReleaseCapitalTx(ctx, tx, orderID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if !released && l.Logger != nil {
		l.Logger.Debug("capital release skipped", zap.Uint64("order_id", orderID))
	}
	return released, nil
}

func (l *Ledger) Release(ctx context.Context, orderID uint64) (bool, error) {
	var released bool
	err := l.Repo.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		released, err = l.ReleaseTx(ctx, tx, orderID)
		return err
	})
	return released, err
}

// ApplyRealizedPnl adjusts realized_pnl and total atomically.
func (l *Ledger) ApplyRealizedPnl(ctx context.Context, ownerID string, delta decimal.Decimal) error {
	if l == nil || l.Repo == nil {
		return errors.New("ledger not configured")
	}
	return l.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return l.Repo.ApplyRealizedPnlTx(ctx, tx, ownerID, delta)
	})
}

func (l *Ledger) Account(ctx context.Context, ownerID string) (*models.CapitalAccount, error) {
	if l == nil || l.Repo == nil {
		return nil, errors.New("ledger not configured")
	}
	return l.Repo.GetCapitalAccount(ctx, ownerID)
}

// Seed creates the owner's account with an opening balance if missing.
func (l *Ledger) Seed(ctx context.Context, ownerID string, total decimal.Decimal) error {
	if l == nil || l.Repo == nil {
		return errors.New("ledger not configured")
	}
	return l.Repo.EnsureCapitalAccount(ctx, ownerID, total)
}
