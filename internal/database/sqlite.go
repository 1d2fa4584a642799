package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Collection table names.
const (
	TableMovies      = "movies"
	TablePeople      = "people"
	TableUsers       = "users"
	TableAssessments = "assessments"
)

// Tables lists every collection table created by OpenSQLite.
var Tables = []string{TableMovies, TablePeople, TableUsers, TableAssessments}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Prepare(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Prepare creates the collection tables and applies pending migrations on an open connection.
func Prepare(db *gorm.DB, logger *zap.Logger) error {
	if err := documents.Migrate(db, Tables...); err != nil {
		return err
	}
	if err := db.AutoMigrate(&migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
