package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StepStatusPending     = "PENDING"
	StepStatusInProgress  = "IN_PROGRESS"
	StepStatusSuccess     = "SUCCESS"
	StepStatusFailed      = "FAILED"
	StepStatusCompensated = "COMPENSATED"
)

// ExecutionStep is one unit of a per-order fulfillment saga. Each step commits
// independently; ordinals are strictly increasing within an order.
type ExecutionStep struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID uint64 `gorm:"not null;index:idx_steps_order_ordinal,unique"`
	Ordinal int    `gorm:"not null;index:idx_steps_order_ordinal,unique"`

	Name   string `gorm:"type:varchar(50);not null"`
	Status string `gorm:"type:varchar(20);not null;default:'PENDING';index"`

	Result        datatypes.JSON `gorm:"type:jsonb"`
	FailureReason *string        `gorm:"type:varchar(200)"`

	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (ExecutionStep) TableName() string {
	return "execution_steps"
}
