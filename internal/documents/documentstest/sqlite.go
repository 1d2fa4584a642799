// Package documentstest opens isolated in-memory stores for tests.
package documentstest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var sequence atomic.Int64

// Open returns a private in-memory database with the named collection tables migrated.
func Open(t testing.TB, tables ...string) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, sequence.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := documents.Migrate(db, tables...); err != nil {
		t.Fatalf("failed to migrate collections: %v", err)
	}
	return db
}
