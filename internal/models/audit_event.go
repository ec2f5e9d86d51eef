package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEvent rows are append-only; nothing in the codebase updates or deletes
// them after insertion.
type AuditEvent struct {
	ID      uint64  `gorm:"primaryKey;autoIncrement"`
	EventID string  `gorm:"type:varchar(40);not null;uniqueIndex"`
	OwnerID string  `gorm:"type:varchar(100);index"`
	OrderID *uint64 `gorm:"index"`

	Kind        string         `gorm:"type:varchar(50);not null;index"`
	StateBefore datatypes.JSON `gorm:"type:jsonb"`
	StateAfter  datatypes.JSON `gorm:"type:jsonb"`
	Detail      *string        `gorm:"type:text"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (AuditEvent) TableName() string {
	return "audit_log"
}
