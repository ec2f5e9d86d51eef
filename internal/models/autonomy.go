package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	AutonomyDecisionExecuted = "EXECUTED"
	AutonomyDecisionSkipped  = "SKIPPED"
	AutonomyDecisionBlocked  = "BLOCKED"
)

// AutonomyPolicy is the per-owner configuration consulted by the gate. Hard
// floors in the gate still apply regardless of what is configured here.
type AutonomyPolicy struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	OwnerID string `gorm:"type:varchar(100);not null;uniqueIndex"`

	Enabled             bool    `gorm:"not null;default:false"`
	ConfidenceThreshold float64 `gorm:"not null;default:0.85"`
	RiskThreshold       float64 `gorm:"not null;default:0.30"`
	MaxDailyTrades      int     `gorm:"not null;default:1"`

	MaxTradeValue *decimal.Decimal `gorm:"type:numeric(30,10)"`

	AllowedAssets  datatypes.JSON `gorm:"type:jsonb"`
	AllowedRegions datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (AutonomyPolicy) TableName() string {
	return "autonomy_policies"
}

// AutonomousExecutionRecord is the append-only audit trail of every autonomy
// decision, allowed or denied. Never updated after insertion.
type AutonomousExecutionRecord struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	OwnerID string `gorm:"type:varchar(100);not null;index"`
	OrderID uint64 `gorm:"not null;index"`

	Decision        string         `gorm:"type:varchar(20);not null;index"`
	FailureReason   *string        `gorm:"type:varchar(200)"`
	PolicySnapshot  datatypes.JSON `gorm:"type:jsonb;not null"`
	ExecutionResult datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (AutonomousExecutionRecord) TableName() string {
	return "autonomous_execution_records"
}

// AutonomyDailyCounter backs the atomic daily check-and-increment. One row per
// owner per UTC day.
type AutonomyDailyCounter struct {
	ID      uint64    `gorm:"primaryKey;autoIncrement"`
	OwnerID string    `gorm:"type:varchar(100);not null;index:idx_autonomy_day,unique"`
	Day     time.Time `gorm:"type:date;not null;index:idx_autonomy_day,unique"`

	ExecutedCount int             `gorm:"not null;default:0"`
	TotalValue    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (AutonomyDailyCounter) TableName() string {
	return "autonomy_daily_counters"
}
