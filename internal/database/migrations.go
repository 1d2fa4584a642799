package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationAssessmentReferenceIndexes = "2026-09-01_assessment_reference_indexes"
	migrationMovieTitleIndex            = "2026-09-14_movie_title_index"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationAssessmentReferenceIndexes, apply: createAssessmentReferenceIndexes},
		{name: migrationMovieTitleIndex, apply: createMovieTitleIndex},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Propagation filters assessments by the embedded movie id and user email.
func createAssessmentReferenceIndexes(db *gorm.DB) error {
	statements := []string{
		"CREATE INDEX IF NOT EXISTS idx_assessments_movie_id ON " + TableAssessments + " (json_extract(body, '$.movie.id'))",
		"CREATE INDEX IF NOT EXISTS idx_assessments_user_email ON " + TableAssessments + " (json_extract(body, '$.user.email'))",
	}
	for _, statement := range statements {
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}

func createMovieTitleIndex(db *gorm.DB) error {
	return db.Exec("CREATE INDEX IF NOT EXISTS idx_movies_title ON " + TableMovies + " (json_extract(body, '$.title'))").Error
}
