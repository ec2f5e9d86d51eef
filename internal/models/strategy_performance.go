package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyPerformance is a rollup updated best-effort when an outcome is
// realized. Keyed by the classifier's strategy tag.
type StrategyPerformance struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	StrategyTag string `gorm:"type:varchar(50);not null;uniqueIndex"`

	Trades        int             `gorm:"not null;default:0"`
	Wins          int             `gorm:"not null;default:0"`
	Losses        int             `gorm:"not null;default:0"`
	TotalROIDelta decimal.Decimal `gorm:"column:total_roi_delta;type:numeric(20,10);not null;default:0"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (StrategyPerformance) TableName() string {
	return "strategy_performance"
}
