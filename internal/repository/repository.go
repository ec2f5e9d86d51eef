package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"tradedesk/internal/models"
)

// Repository is the persistence boundary for the orchestrator. Methods with a
// Tx suffix participate in a caller-owned transaction obtained via InTx; the
// per-order row lock taken by GetOrderForUpdateTx is what serializes
// concurrent transitions and step advancement on the same order.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Orders
	InsertOrder(ctx context.Context, item *models.Order) error
	InsertOrderTx(ctx context.Context, tx *gorm.DB, item *models.Order) error
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	GetOrderForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Order, error)
	UpdateOrderTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error
	ListOrders(ctx context.Context, params ListOrdersParams) ([]models.Order, error)
	CountOrders(ctx context.Context, params ListOrdersParams) (int64, error)
	ListApprovedAutonomyCandidates(ctx context.Context, limit int) ([]models.Order, error)
	ListExecutedOrdersWithoutOutcome(ctx context.Context, ownerID *string, limit int) ([]models.Order, error)

	// Saga steps
	InsertStepsTx(ctx context.Context, tx *gorm.DB, items []models.ExecutionStep) error
	CountStepsTx(ctx context.Context, tx *gorm.DB, orderID uint64) (int64, error)
	GetStepByID(ctx context.Context, id uint64) (*models.ExecutionStep, error)
	ListStepsByOrderID(ctx context.Context, orderID uint64) ([]models.ExecutionStep, error)
	// FirstUnresolvedStepTx returns the lowest-ordinal step that is not
	// SUCCESS and not COMPENSATED, or nil when every step is resolved.
	FirstUnresolvedStepTx(ctx context.Context, tx *gorm.DB, orderID uint64) (*models.ExecutionStep, error)
	UpdateStepTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error
	// UpdateStepStatusIf flips status only when the current status matches;
	// reports whether the row was claimed.
	UpdateStepStatusIf(ctx context.Context, tx *gorm.DB, id uint64, from, to string, updates map[string]any) (bool, error)
	CountUnresolvedSteps(ctx context.Context, orderID uint64) (int64, error)

	// Compensations
	InsertCompensationTx(ctx context.Context, tx *gorm.DB, item *models.Compensation) error
	GetCompensationByStepID(ctx context.Context, stepID uint64) (*models.Compensation, error)
	ListCompensationsByOrderID(ctx context.Context, orderID uint64) ([]models.Compensation, error)
	MarkCompensationAppliedTx(ctx context.Context, tx *gorm.DB, stepID uint64, appliedAt time.Time) (bool, error)

	// Autonomy
	GetAutonomyPolicy(ctx context.Context, ownerID string) (*models.AutonomyPolicy, error)
	UpsertAutonomyPolicy(ctx context.Context, item *models.AutonomyPolicy) error
	InsertAutonomousExecutionRecord(ctx context.Context, item *models.AutonomousExecutionRecord) error
	ListAutonomousExecutionRecords(ctx context.Context, params ListAutonomyRecordsParams) ([]models.AutonomousExecutionRecord, error)
	CountAutonomousExecutionRecords(ctx context.Context, params ListAutonomyRecordsParams) (int64, error)
	GetAutonomyDailyCounter(ctx context.Context, ownerID string, day time.Time) (*models.AutonomyDailyCounter, error)
	// ReserveAutonomySlot is a single atomic check-and-increment of the daily
	// counter; two concurrent callers cannot both pass a "< maxTrades" check.
	ReserveAutonomySlot(ctx context.Context, ownerID string, day time.Time, maxTrades int, value decimal.Decimal, maxValue *decimal.Decimal) (bool, error)

	// Capital ledger
	GetCapitalAccount(ctx context.Context, ownerID string) (*models.CapitalAccount, error)
	EnsureCapitalAccount(ctx context.Context, ownerID string, total decimal.Decimal) error
	// LockCapitalTx conditionally debits available and records a CapitalLock
	// row keyed by order; reports false when available < amount or the order
	// already holds a lock.
	LockCapitalTx(ctx context.Context, tx *gorm.DB, lock *models.CapitalLock) (bool, error)
	// ReleaseCapitalTx flips the order's lock HELD->RELEASED at most once and
	// credits available back. A duplicate call reports false and changes
	// nothing.
	ReleaseCapitalTx(ctx context.Context, tx *gorm.DB, orderID uint64, releasedAt time.Time) (bool, error)
	GetCapitalLockByOrderID(ctx context.Context, orderID uint64) (*models.CapitalLock, error)
	ApplyRealizedPnlTx(ctx context.Context, tx *gorm.DB, ownerID string, delta decimal.Decimal) error

	// Audit
	InsertAuditEventTx(ctx context.Context, tx *gorm.DB, item *models.AuditEvent) error
	ListAuditEvents(ctx context.Context, params ListAuditEventsParams) ([]models.AuditEvent, error)

	// Realized outcomes
	// InsertRealizedOutcome is a conditional insert on the order_id unique
	// index; reports false when the order already has an outcome.
	InsertRealizedOutcome(ctx context.Context, item *models.RealizedOutcome) (bool, error)
	GetRealizedOutcomeByOrderID(ctx context.Context, orderID uint64) (*models.RealizedOutcome, error)
	ListRealizedOutcomes(ctx context.Context, params ListOutcomesParams) ([]models.RealizedOutcome, error)

	// System settings
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)

	// Strategy performance
	BumpStrategyPerformance(ctx context.Context, tag string, outcomeStatus string, roiDelta decimal.Decimal) error
	ListStrategyPerformance(ctx context.Context) ([]models.StrategyPerformance, error)

	// Asset quotes
	UpsertAssetQuote(ctx context.Context, item *models.AssetQuote) error
	GetLatestAssetQuote(ctx context.Context, assetID, region string) (*models.AssetQuote, error)
}

type ListOrdersParams struct {
	Limit   int
	Offset  int
	OwnerID *string
	Status  *string
	Action  *string
	OrderBy string
	Asc     *bool
}

type ListAutonomyRecordsParams struct {
	Limit    int
	Offset   int
	OwnerID  *string
	OrderID  *uint64
	Decision *string
	Since    *time.Time
	OrderBy  string
	Asc      *bool
}

type ListAuditEventsParams struct {
	Limit   int
	Offset  int
	OwnerID *string
	OrderID *uint64
	Kind    *string
	OrderBy string
	Asc     *bool
}

type ListOutcomesParams struct {
	Limit         int
	Offset        int
	OwnerID       *string
	OutcomeStatus *string
	StrategyTag   *string
	OrderBy       string
	Asc           *bool
}

type ListSystemSettingsParams struct {
	Limit  int
	Offset int
	Prefix *string
}
