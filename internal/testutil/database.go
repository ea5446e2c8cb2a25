// Package testutil provides an in-memory SQLite ledger store for tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"pettycash/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var allModels = []interface{}{
	&model.CashSession{},
	&model.Expense{},
	&model.Purchase{},
	&model.Income{},
	&model.CashClosure{},
}

// Constraints AutoMigrate cannot express. Mirrors migrations/000001.
var schemaPatches = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_cash_sessions_active_register
	     ON cash_sessions (register_id) WHERE status IN ('open', 'suspended')`,
}

// SetupTestDB returns a private in-memory SQLite database with the ledger
// schema. A single connection keeps every query on the same memory database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get underlying DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(allModels...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	for _, stmt := range schemaPatches {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("failed to apply schema patch: %v", err)
		}
	}
	return db
}
