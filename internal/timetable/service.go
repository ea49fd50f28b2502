package timetable

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultMinLessonsPerAccept = 2

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingReferences = errors.New("reference data provider is required")
	noOpLogger           = zap.NewNop()
)

// ReferenceProvider supplies the active entity lists the engine filters and
// resolves against, plus a full name directory for display joins.
//
// WithTx must return a provider that reads through the given transaction.
// The engine resolves reference data inside its write transactions, and the
// shared handle may be capped at a single connection: a lookup that requests
// its own connection while the transaction holds the only one never returns.
type ReferenceProvider interface {
	ActiveGroups(ctx context.Context, buildingID int64) ([]GroupRef, error)
	ActiveTeachers(ctx context.Context) ([]TeacherRef, error)
	ActiveDisciplines(ctx context.Context) ([]DisciplineRef, error)
	Directory(ctx context.Context) (ReferenceDirectory, error)
	WithTx(tx *gorm.DB) ReferenceProvider
}

// ServiceConfig describes the dependencies of the versioning engine.
type ServiceConfig struct {
	Database            *gorm.DB
	References          ReferenceProvider
	Clock               func() time.Time
	Logger              *zap.Logger
	MinLessonsPerAccept int
}

// Service is the timetable versioning and card conflict engine. Every
// mutating operation runs inside a single storage transaction; conflict and
// validation outcomes are returned as typed errors, never retried.
type Service struct {
	db         *gorm.DB
	refs       ReferenceProvider
	clock      func() time.Time
	logger     *zap.Logger
	minLessons int
	detector   conflictDetector
}

// NewService constructs the engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.References == nil {
		return nil, newServiceError(opServiceNew, "missing_references", errMissingReferences)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	minLessons := cfg.MinLessonsPerAccept
	if minLessons <= 0 {
		minLessons = defaultMinLessonsPerAccept
	}

	return &Service{
		db:         cfg.Database,
		refs:       cfg.References,
		clock:      clock,
		logger:     logger,
		minLessons: minLessons,
	}, nil
}

func (s *Service) loadVersion(tx *gorm.DB, versionID int64) (ScheduleVersion, error) {
	var version ScheduleVersion
	err := tx.Where("id = ?", versionID).Take(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ScheduleVersion{}, ErrVersionNotFound
	}
	return version, err
}

func (s *Service) loadCard(tx *gorm.DB, cardID int64) (Card, error) {
	var card Card
	err := tx.Where("id = ?", cardID).Take(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Card{}, ErrCardNotFound
	}
	return card, err
}

func (s *Service) touchVersion(tx *gorm.DB, versionID int64) error {
	return tx.Model(&ScheduleVersion{}).
		Where("id = ?", versionID).
		Update("last_modified_at", s.clock().UTC()).Error
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("timetable service error", attrs...)
}
