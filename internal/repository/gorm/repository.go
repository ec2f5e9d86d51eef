package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradedesk/internal/models"
	"tradedesk/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Orders -----------------------------------------------------------------

func (s *Store) InsertOrder(ctx context.Context, item *models.Order) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) InsertOrderTx(ctx context.Context, tx *gorm.DB, item *models.Order) error {
	if tx == nil || item == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(item).Error
}

func (s *Store) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Order
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetOrderForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.Order, error) {
	if tx == nil {
		return nil, errors.New("tx required")
	}
	var item models.Order
	err := lockForUpdate(tx.WithContext(ctx)).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateOrderTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	if tx == nil || len(updates) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(updates).Error
}

func (s *Store) ListOrders(ctx context.Context, params repository.ListOrdersParams) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.orderQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Order
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOrders(ctx context.Context, params repository.ListOrdersParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.orderQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) orderQuery(ctx context.Context, params repository.ListOrdersParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Order{})
	if params.OwnerID != nil && strings.TrimSpace(*params.OwnerID) != "" {
		query = query.Where("owner_id = ?", strings.TrimSpace(*params.OwnerID))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Action != nil && strings.TrimSpace(*params.Action) != "" {
		query = query.Where("action = ?", strings.TrimSpace(*params.Action))
	}
	return query
}

func (s *Store) ListApprovedAutonomyCandidates(ctx context.Context, limit int) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Order
	err := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status = ?", models.OrderStatusApproved).
		Order("created_at asc").
		Limit(normalizeLimit(limit, 50)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListExecutedOrdersWithoutOutcome(ctx context.Context, ownerID *string, limit int) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Joins("LEFT JOIN realized_outcomes ON realized_outcomes.order_id = orders.id").
		Where("orders.status = ?", models.OrderStatusExecuted).
		Where("realized_outcomes.id IS NULL")
	if ownerID != nil && strings.TrimSpace(*ownerID) != "" {
		query = query.Where("orders.owner_id = ?", strings.TrimSpace(*ownerID))
	}
	var items []models.Order
	err := query.Order("orders.executed_at asc").Limit(normalizeLimit(limit, 100)).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Saga steps -------------------------------------------------------------

func (s *Store) InsertStepsTx(ctx context.Context, tx *gorm.DB, items []models.ExecutionStep) error {
	if tx == nil || len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&items).Error
}

func (s *Store) CountStepsTx(ctx context.Context, tx *gorm.DB, orderID uint64) (int64, error) {
	if tx == nil {
		return 0, errors.New("tx required")
	}
	var total int64
	err := tx.WithContext(ctx).Model(&models.ExecutionStep{}).Where("order_id = ?", orderID).Count(&total).Error
	return total, err
}

func (s *Store) GetStepByID(ctx context.Context, id uint64) (*models.ExecutionStep, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ExecutionStep
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListStepsByOrderID(ctx context.Context, orderID uint64) ([]models.ExecutionStep, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ExecutionStep
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("ordinal asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) FirstUnresolvedStepTx(ctx context.Context, tx *gorm.DB, orderID uint64) (*models.ExecutionStep, error) {
	if tx == nil {
		return nil, errors.New("tx required")
	}
	var item models.ExecutionStep
	err := tx.WithContext(ctx).
		Where("order_id = ?", orderID).
		Where("status NOT IN ?", []string{models.StepStatusSuccess, models.StepStatusCompensated}).
		Order("ordinal asc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateStepTx(ctx context.Context, tx *gorm.DB, id uint64, updates map[string]any) error {
	if tx == nil || len(updates) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Model(&models.ExecutionStep{}).Where("id = ?", id).Updates(updates).Error
}

func (s *Store) UpdateStepStatusIf(ctx context.Context, tx *gorm.DB, id uint64, from, to string, updates map[string]any) (bool, error) {
	if tx == nil {
		return false, errors.New("tx required")
	}
	merged := map[string]any{"status": to}
	for k, v := range updates {
		merged[k] = v
	}
	res := tx.WithContext(ctx).
		Model(&models.ExecutionStep{}).
		Where("id = ? AND status = ?", id, from).
		Updates(merged)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) CountUnresolvedSteps(ctx context.Context, orderID uint64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.ExecutionStep{}).
		Where("order_id = ?", orderID).
		Where("status NOT IN ?", []string{models.StepStatusSuccess, models.StepStatusCompensated}).
		Count(&total).Error
	return total, err
}

// --- Compensations ----------------------------------------------------------

func (s *Store) InsertCompensationTx(ctx context.Context, tx *gorm.DB, item *models.Compensation) error {
	if tx == nil || item == nil {
		return nil
	}
	// Unique step_id index makes this exactly-once per failed step.
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "step_id"}},
		DoNothing: true,
	}).Create(item).Error
}

func (s *Store) GetCompensationByStepID(ctx context.Context, stepID uint64) (*models.Compensation, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Compensation
	err := s.db.WithContext(ctx).First(&item, "step_id = ?", stepID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListCompensationsByOrderID(ctx context.Context, orderID uint64) ([]models.Compensation, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Compensation
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkCompensationAppliedTx(ctx context.Context, tx *gorm.DB, stepID uint64, appliedAt time.Time) (bool, error) {
	if tx == nil {
		return false, errors.New("tx required")
	}
	res := tx.WithContext(ctx).
		Model(&models.Compensation{}).
		Where("step_id = ? AND status = ?", stepID, models.CompensationStatusPending).
		Updates(map[string]any{
			"status":     models.CompensationStatusApplied,
			"applied_at": appliedAt,
		})
	return res.RowsAffected > 0, res.Error
}

// --- Autonomy ---------------------------------------------------------------

func (s *Store) GetAutonomyPolicy(ctx context.Context, ownerID string) (*models.AutonomyPolicy, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.AutonomyPolicy
	err := s.db.WithContext(ctx).First(&item, "owner_id = ?", ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertAutonomyPolicy(ctx context.Context, item *models.AutonomyPolicy) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled",
			"confidence_threshold",
			"risk_threshold",
			"max_daily_trades",
			"max_trade_value",
			"allowed_assets",
			"allowed_regions",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) InsertAutonomousExecutionRecord(ctx context.Context, item *models.AutonomousExecutionRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListAutonomousExecutionRecords(ctx context.Context, params repository.ListAutonomyRecordsParams) ([]models.AutonomousExecutionRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.autonomyRecordQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.AutonomousExecutionRecord
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountAutonomousExecutionRecords(ctx context.Context, params repository.ListAutonomyRecordsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.autonomyRecordQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) autonomyRecordQuery(ctx context.Context, params repository.ListAutonomyRecordsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.AutonomousExecutionRecord{})
	if params.OwnerID != nil && strings.TrimSpace(*params.OwnerID) != "" {
		query = query.Where("owner_id = ?", strings.TrimSpace(*params.OwnerID))
	}
	if params.OrderID != nil && *params.OrderID > 0 {
		query = query.Where("order_id = ?", *params.OrderID)
	}
	if params.Decision != nil && strings.TrimSpace(*params.Decision) != "" {
		query = query.Where("decision = ?", strings.TrimSpace(*params.Decision))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) GetAutonomyDailyCounter(ctx context.Context, ownerID string, day time.Time) (*models.AutonomyDailyCounter, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.AutonomyDailyCounter
	err := s.db.WithContext(ctx).First(&item, "owner_id = ? AND day = ?", ownerID, day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ReserveAutonomySlot(ctx context.Context, ownerID string, day time.Time, maxTrades int, value decimal.Decimal, maxValue *decimal.Decimal) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	if maxTrades <= 0 {
		return false, nil
	}
	// Seed the row so the conditional increment below has something to hit.
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "day"}},
		DoNothing: true,
	}).Create(&models.AutonomyDailyCounter{
		OwnerID:       ownerID,
		Day:           day,
		ExecutedCount: 0,
		TotalValue:    decimal.Zero,
	}).Error; err != nil {
		return false, err
	}

	query := s.db.WithContext(ctx).
		Model(&models.AutonomyDailyCounter{}).
		Where("owner_id = ? AND day = ?", ownerID, day).
		Where("executed_count < ?", maxTrades)
	if maxValue != nil {
		query = query.Where("total_value + ? <= ?", value, *maxValue)
	}
	res := query.Updates(map[string]any{
		"executed_count": gorm.Expr("executed_count + 1"),
		"total_value":    gorm.Expr("total_value + ?", value),
		"updated_at":     time.Now().UTC(),
	})
	return res.RowsAffected > 0, res.Error
}

// --- Capital ledger ---------------------------------------------------------

func (s *Store) GetCapitalAccount(ctx context.Context, ownerID string) (*models.CapitalAccount, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CapitalAccount
	err := s.db.WithContext(ctx).First(&item, "owner_id = ?", ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) EnsureCapitalAccount(ctx context.Context, ownerID string, total decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		DoNothing: true,
	}).Create(&models.CapitalAccount{
		OwnerID:   ownerID,
		Total:     total,
		Available: total,
		Locked:    decimal.Zero,
	}).Error
}

func (s *Store) LockCapitalTx(ctx context.Context, tx *gorm.DB, lock *models.CapitalLock) (bool, error) {
	if tx == nil || lock == nil {
		return false, errors.New("tx and lock required")
	}
	// Single conditional debit; no separate read-then-write.
	res := tx.WithContext(ctx).
		Model(&models.CapitalAccount{}).
		Where("owner_id = ? AND available >= ?", lock.OwnerID, lock.Amount).
		Updates(map[string]any{
			"available": gorm.Expr("available - ?", lock.Amount),
			"locked":    gorm.Expr("locked + ?", lock.Amount),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	// A second lock for the same order violates the unique index and rolls the
	// debit back with the enclosing transaction.
	if err := tx.WithContext(ctx).Create(lock).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ReleaseCapitalTx(ctx context.Context, tx *gorm.DB, orderID uint64, releasedAt time.Time) (bool, error) {
	if tx == nil {
		return false, errors.New("tx required")
	}
	var lock models.CapitalLock
	err := lockForUpdate(tx.WithContext(ctx)).First(&lock, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	res := tx.WithContext(ctx).
		Model(&models.CapitalLock{}).
		Where("id = ? AND status = ?", lock.ID, models.CapitalLockStatusHeld).
		Updates(map[string]any{
			"status":      models.CapitalLockStatusReleased,
			"released_at": releasedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Already released or settled; never credit twice.
		return false, nil
	}
	err = tx.WithContext(ctx).
		Model(&models.CapitalAccount{}).
		Where("owner_id = ?", lock.OwnerID).
		Updates(map[string]any{
			"available": gorm.Expr("available + ?", lock.Amount),
			"locked":    gorm.Expr("CASE WHEN locked >= ? THEN locked - ? ELSE 0 END", lock.Amount, lock.Amount),
		}).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetCapitalLockByOrderID(ctx context.Context, orderID uint64) (*models.CapitalLock, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CapitalLock
	err := s.db.WithContext(ctx).First(&item, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ApplyRealizedPnlTx(ctx context.Context, tx *gorm.DB, ownerID string, delta decimal.Decimal) error {
	if tx == nil {
		return errors.New("tx required")
	}
	return tx.WithContext(ctx).
		Model(&models.CapitalAccount{}).
		Where("owner_id = ?", ownerID).
		Updates(map[string]any{
			"realized_pnl": gorm.Expr("realized_pnl + ?", delta),
			"total":        gorm.Expr("total + ?", delta),
		}).Error
}

// --- Audit ------------------------------------------------------------------

func (s *Store) InsertAuditEventTx(ctx context.Context, tx *gorm.DB, item *models.AuditEvent) error {
	if tx == nil || item == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(item).Error
}

func (s *Store) ListAuditEvents(ctx context.Context, params repository.ListAuditEventsParams) ([]models.AuditEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AuditEvent{})
	if params.OwnerID != nil && strings.TrimSpace(*params.OwnerID) != "" {
		query = query.Where("owner_id = ?", strings.TrimSpace(*params.OwnerID))
	}
	if params.OrderID != nil && *params.OrderID > 0 {
		query = query.Where("order_id = ?", *params.OrderID)
	}
	if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" {
		query = query.Where("kind = ?", strings.TrimSpace(*params.Kind))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.AuditEvent
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Realized outcomes ------------------------------------------------------

func (s *Store) InsertRealizedOutcome(ctx context.Context, item *models.RealizedOutcome) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetRealizedOutcomeByOrderID(ctx context.Context, orderID uint64) (*models.RealizedOutcome, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.RealizedOutcome
	err := s.db.WithContext(ctx).First(&item, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListRealizedOutcomes(ctx context.Context, params repository.ListOutcomesParams) ([]models.RealizedOutcome, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.RealizedOutcome{})
	if params.OwnerID != nil && strings.TrimSpace(*params.OwnerID) != "" {
		query = query.Where("owner_id = ?", strings.TrimSpace(*params.OwnerID))
	}
	if params.OutcomeStatus != nil && strings.TrimSpace(*params.OutcomeStatus) != "" {
		query = query.Where("outcome_status = ?", strings.TrimSpace(*params.OutcomeStatus))
	}
	if params.StrategyTag != nil && strings.TrimSpace(*params.StrategyTag) != "" {
		query = query.Where("strategy_tag = ?", strings.TrimSpace(*params.StrategyTag))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.RealizedOutcome
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- System settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":       item.Value,
			"description": item.Description,
			"version":     gorm.Expr("system_settings.version + 1"),
			"updated_at":  time.Now().UTC(),
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).First(&item, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.SystemSetting
	if err := query.Order("key asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Strategy performance ---------------------------------------------------

func (s *Store) BumpStrategyPerformance(ctx context.Context, tag string, outcomeStatus string, roiDelta decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "strategy_tag"}},
		DoNothing: true,
	}).Create(&models.StrategyPerformance{
		StrategyTag:   tag,
		TotalROIDelta: decimal.Zero,
	}).Error; err != nil {
		return err
	}
	winInc, lossInc := 0, 0
	switch outcomeStatus {
	case models.OutcomeStatusSuccess:
		winInc = 1
	case models.OutcomeStatusNegative:
		lossInc = 1
	}
	return s.db.WithContext(ctx).
		Model(&models.StrategyPerformance{}).
		Where("strategy_tag = ?", tag).
		Updates(map[string]any{
			"trades":          gorm.Expr("trades + 1"),
			"wins":            gorm.Expr("wins + ?", winInc),
			"losses":          gorm.Expr("losses + ?", lossInc),
			"total_roi_delta": gorm.Expr("total_roi_delta + ?", roiDelta),
		}).Error
}

func (s *Store) ListStrategyPerformance(ctx context.Context) ([]models.StrategyPerformance, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.StrategyPerformance
	if err := s.db.WithContext(ctx).Order("strategy_tag asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Asset quotes -----------------------------------------------------------

func (s *Store) UpsertAssetQuote(ctx context.Context, item *models.AssetQuote) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "asset_id"}, {Name: "region"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"price",
			"quoted_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetLatestAssetQuote(ctx context.Context, assetID, region string) (*models.AssetQuote, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.AssetQuote
	err := s.db.WithContext(ctx).First(&item, "asset_id = ? AND region = ?", assetID, region).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- helpers ----------------------------------------------------------------

// lockForUpdate takes a row lock on postgres; sqlite (tests) serializes writes
// on its own and rejects FOR UPDATE.
func lockForUpdate(query *gorm.DB) *gorm.DB {
	if query.Dialector != nil && query.Dialector.Name() == "postgres" {
		return query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
