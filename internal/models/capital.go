package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CapitalLockStatusHeld     = "HELD"
	CapitalLockStatusReleased = "RELEASED"
	CapitalLockStatusSettled  = "SETTLED"
)

// CapitalAccount holds per-owner capital counters.
// Invariants: available >= 0; total = available + locked + realized adjustments.
type CapitalAccount struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	OwnerID string `gorm:"type:varchar(100);not null;uniqueIndex"`

	Total       decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Available   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Locked      decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (CapitalAccount) TableName() string {
	return "capital_ledger"
}

// CapitalLock pairs every lock with its release so a duplicate release call
// cannot over-credit available capital. One lock per order.
type CapitalLock struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	Ref     string `gorm:"type:varchar(40);not null;uniqueIndex"`
	OwnerID string `gorm:"type:varchar(100);not null;index"`
	OrderID uint64 `gorm:"not null;uniqueIndex"`

	Amount decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Status string          `gorm:"type:varchar(20);not null;default:'HELD';index"`

	ReleasedAt *time.Time
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (CapitalLock) TableName() string {
	return "capital_locks"
}
