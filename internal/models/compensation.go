package models

import (
	"time"
)

const (
	CompensationStatusPending = "PENDING"
	CompensationStatusApplied = "APPLIED"
)

// Compensation is created automatically when a step fails, 1:1 with the failed
// step. Applying it is an explicit, tracked action, not an automatic reversal.
type Compensation struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	StepID  uint64 `gorm:"not null;uniqueIndex"`
	OrderID uint64 `gorm:"not null;index"`

	Type   string `gorm:"type:varchar(50);not null"`
	Status string `gorm:"type:varchar(20);not null;default:'PENDING';index"`

	AppliedAt *time.Time
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Compensation) TableName() string {
	return "execution_compensations"
}
