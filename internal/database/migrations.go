package database

import (
	"errors"
	"time"

	"github.com/DaybreakLabs/daybreak/backend/internal/priorities"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationClampPriorityScores = "2026-07-21_clamp_priority_scores"

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
		{name: migrationClampPriorityScores, apply: clampPriorityScores},
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

// clampPriorityScores repairs historical rows written before score clamping
// moved into the service write path.
func clampPriorityScores(db *gorm.DB) error {
	if err := db.Model(&priorities.Priority{}).
		Where("score < 0").
		Update("score", 0).Error; err != nil {
		return err
	}
	return db.Model(&priorities.Priority{}).
		Where("score > 100").
		Update("score", 100).Error
}
