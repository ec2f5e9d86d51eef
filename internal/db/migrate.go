package db

import (
	"fmt"

	"tradedesk/internal/models"
)

func migratedModels() []any {
	return []any{
		&models.Order{},
		&models.ExecutionStep{},
		&models.Compensation{},
		&models.AutonomyPolicy{},
		&models.AutonomousExecutionRecord{},
		&models.AutonomyDailyCounter{},
		&models.CapitalAccount{},
		&models.CapitalLock{},
		&models.RealizedOutcome{},
		&models.AuditEvent{},
		&models.SystemSetting{},
		&models.StrategyPerformance{},
		&models.AssetQuote{},
	}
}

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}
	return db.Gorm.AutoMigrate(migratedModels()...)
}

// VerifySchema fails fast at startup so runtime code paths can assume the
// schema is present and never probe for it per operation.
func VerifySchema(db *DB) error {
	if db == nil || db.Gorm == nil {
		return nil
	}
	migrator := db.Gorm.Migrator()
	for _, model := range migratedModels() {
		if !migrator.HasTable(model) {
			return fmt.Errorf("schema verification failed: missing table for %T", model)
		}
	}
	return nil
}
