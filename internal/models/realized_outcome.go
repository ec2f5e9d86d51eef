package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OutcomeStatusSuccess  = "SUCCESS"
	OutcomeStatusNeutral  = "NEUTRAL"
	OutcomeStatusNegative = "NEGATIVE"
)

// RealizedOutcome is written at most once per order; the unique index on
// order_id is what makes repeated realizer runs idempotent.
type RealizedOutcome struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID uint64 `gorm:"not null;uniqueIndex"`
	OwnerID string `gorm:"type:varchar(100);not null;index"`

	EntryPrice decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	ExitPrice  decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	ExpectedROI decimal.Decimal `gorm:"column:expected_roi;type:numeric(20,10);not null"`
	ActualROI   decimal.Decimal `gorm:"column:actual_roi;type:numeric(20,10);not null"`
	ROIDelta    decimal.Decimal `gorm:"column:roi_delta;type:numeric(20,10);not null"`

	HoldingPeriodDays int    `gorm:"not null"`
	OutcomeStatus     string `gorm:"type:varchar(20);not null;index"`
	StrategyTag       string `gorm:"type:varchar(50);index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (RealizedOutcome) TableName() string {
	return "realized_outcomes"
}
