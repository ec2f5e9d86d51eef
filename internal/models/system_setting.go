package models

import (
	"time"

	"gorm.io/datatypes"
)

// SystemSetting stores runtime-configurable flags in DB so that every
// orchestrator instance observes the same value. The autonomy kill switch
// lives here and is re-read on each decision, never cached.
type SystemSetting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Key string `gorm:"type:varchar(120);not null;uniqueIndex"`

	// JSON value, e.g. true/false for switches.
	Value datatypes.JSON `gorm:"type:jsonb;not null"`

	Version     int       `gorm:"not null;default:0"`
	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime;index"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
