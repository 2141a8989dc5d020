// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hapcat/hapcat-backend/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var memoryDatabaseSequence atomic.Int64

// MemoryDSN returns a shared-cache in-memory SQLite DSN unique to t.
func MemoryDSN(t testing.TB) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, memoryDatabaseSequence.Add(1))
}

// OpenDatabase opens a migrated in-memory SQLite database private to t.
func OpenDatabase(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(MemoryDSN(t), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}
