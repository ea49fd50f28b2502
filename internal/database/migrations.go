package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillEntryVersionIDs = "2026-06-02_backfill_entry_version_ids"

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
		{name: migrationBackfillEntryVersionIDs, apply: backfillEntryVersionIDs},
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

// backfillEntryVersionIDs repairs lesson entries written before the schedule
// version id was denormalized onto the entry row. The conflict pre-check
// filters on that column, so a zero value would hide the entry from it.
func backfillEntryVersionIDs(db *gorm.DB) error {
	return db.Exec(
		"UPDATE lesson_entries SET schedule_version_id = " +
			"(SELECT cards.schedule_version_id FROM cards WHERE cards.id = lesson_entries.card_id) " +
			"WHERE schedule_version_id = 0",
	).Error
}
