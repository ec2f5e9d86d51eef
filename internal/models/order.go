package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses move forward only; there are no back-transitions.
const (
	OrderStatusPendingApproval = "PENDING_APPROVAL"
	OrderStatusApproved        = "APPROVED"
	OrderStatusExecuted        = "EXECUTED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusCancelled       = "CANCELLED"
)

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Order is a simulated trade proposal driven through the guarded lifecycle.
// Mutated only through lifecycle.Manager transitions.
type Order struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	OwnerID string `gorm:"type:varchar(100);not null;index"`

	AssetID string `gorm:"type:varchar(100);not null;index"`
	Region  string `gorm:"type:varchar(50);not null"`
	Action  string `gorm:"type:varchar(10);not null"`

	Quantity decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	// Price is the asset reference price captured at approval; it doubles as
	// the entry price when the outcome is later realized.
	Price decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	ExpectedROI decimal.Decimal `gorm:"column:expected_roi;type:numeric(20,10);not null"`
	Confidence  float64         `gorm:"not null"`
	RiskScore   *float64

	Status            string  `gorm:"type:varchar(20);not null;default:'PENDING_APPROVAL';index"`
	RejectionReason   *string `gorm:"type:varchar(200)"`
	ComplianceVerdict *string `gorm:"type:varchar(20)"`

	ApprovedAt *time.Time
	ExecutedAt *time.Time `gorm:"index"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}

// Value is the capital an order consumes while held: price * quantity.
func (o Order) Value() decimal.Decimal {
	return o.Price.Mul(o.Quantity)
}
