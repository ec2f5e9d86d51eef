package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetQuote is the latest price observed for an asset in a region, fed by the
// quote stream and read by the DB-backed price oracle.
type AssetQuote struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	AssetID string `gorm:"type:varchar(100);not null;index:idx_quotes_asset_region,unique"`
	Region  string `gorm:"type:varchar(50);not null;index:idx_quotes_asset_region,unique"`

	Price    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	QuotedAt time.Time       `gorm:"not null;index"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (AssetQuote) TableName() string {
	return "asset_quotes"
}
