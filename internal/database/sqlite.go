package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/metodist-lab/timetable/internal/refdata"
	"github.com/metodist-lab/timetable/internal/timetable"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// The handle is limited to one open connection: SQLite serializes writers
// anyway, and a single connection makes the engine's pre-check-then-insert
// transactions atomic with respect to concurrent commands.
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

	err = db.AutoMigrate(
		&timetable.ScheduleVersion{},
		&timetable.Card{},
		&timetable.LessonEntry{},
		&refdata.Group{},
		&refdata.Teacher{},
		&refdata.Discipline{},
		&migrationRecord{},
	)
	if err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
