// Package testutil provides an in-memory database for repository and service
// tests. SQLite keeps tests hermetic; dialect-specific SQL in the repository
// guards itself behind the dialector name.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradedesk/internal/models"
)

var dbSeq atomic.Int64

// NewDB opens a fresh in-memory database with the full schema migrated. Each
// call gets its own database; the single connection keeps the in-memory store
// alive for the test's duration.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in memory db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
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
	); err != nil {
		t.Fatalf("failed to automigrate: %v", err)
	}
	return db
}
