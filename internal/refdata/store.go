// Package refdata persists the lookup entities the timetable engine resolves
// against: study groups, teachers and disciplines. Rows are soft-deactivated
// rather than deleted so historical schedule content keeps its names.
package refdata

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/metodist-lab/timetable/internal/timetable"
)

var errMissingDatabase = errors.New("refdata: database handle is required")

// Group is a study group scoped to one building.
type Group struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	BuildingID int64  `gorm:"column:building_id;not null;index:idx_groups_building;uniqueIndex:uidx_groups_building_name,priority:1"`
	Name       string `gorm:"column:name;size:190;not null;uniqueIndex:uidx_groups_building_name,priority:2"`
	IsActive   bool   `gorm:"column:is_active;not null;default:true;index:idx_groups_building"`
}

// TableName provides the explicit table binding for GORM.
func (Group) TableName() string {
	return "groups"
}

// Teacher is a teaching staff member.
type Teacher struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	FIO      string `gorm:"column:fio;size:190;not null"`
	IsActive bool   `gorm:"column:is_active;not null;default:true"`
}

// TableName provides the explicit table binding for GORM.
func (Teacher) TableName() string {
	return "teachers"
}

// Discipline is a taught subject.
type Discipline struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Title    string `gorm:"column:title;size:190;not null"`
	IsActive bool   `gorm:"column:is_active;not null;default:true"`
}

// TableName provides the explicit table binding for GORM.
func (Discipline) TableName() string {
	return "disciplines"
}

// Store implements timetable.ReferenceProvider over the shared database.
type Store struct {
	db *gorm.DB
}

// NewStore constructs the provider.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// WithTx returns a Store reading through the caller's transaction. The engine
// resolves lookups inside its write transactions over a handle that may hold
// a single connection, so lookups must not acquire a connection of their own.
func (s *Store) WithTx(tx *gorm.DB) timetable.ReferenceProvider {
	return &Store{db: tx}
}

// ActiveGroups returns the building's active groups ordered by name.
func (s *Store) ActiveGroups(ctx context.Context, buildingID int64) ([]timetable.GroupRef, error) {
	var groups []Group
	err := s.db.WithContext(ctx).
		Where("building_id = ? AND is_active = ?", buildingID, true).
		Order("name ASC").
		Find(&groups).Error
	if err != nil {
		return nil, err
	}

	refs := make([]timetable.GroupRef, 0, len(groups))
	for _, group := range groups {
		refs = append(refs, timetable.GroupRef{ID: group.ID, Name: group.Name})
	}
	return refs, nil
}

// ActiveTeachers returns every active teacher.
func (s *Store) ActiveTeachers(ctx context.Context) ([]timetable.TeacherRef, error) {
	var teachers []Teacher
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("fio ASC").
		Find(&teachers).Error
	if err != nil {
		return nil, err
	}

	refs := make([]timetable.TeacherRef, 0, len(teachers))
	for _, teacher := range teachers {
		refs = append(refs, timetable.TeacherRef{ID: teacher.ID, FIO: teacher.FIO})
	}
	return refs, nil
}

// ActiveDisciplines returns every active discipline.
func (s *Store) ActiveDisciplines(ctx context.Context) ([]timetable.DisciplineRef, error) {
	var disciplines []Discipline
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("title ASC").
		Find(&disciplines).Error
	if err != nil {
		return nil, err
	}

	refs := make([]timetable.DisciplineRef, 0, len(disciplines))
	for _, discipline := range disciplines {
		refs = append(refs, timetable.DisciplineRef{ID: discipline.ID, Title: discipline.Title})
	}
	return refs, nil
}

// Directory returns the full id-to-name maps, inactive rows included, for
// display joins over historical card content.
func (s *Store) Directory(ctx context.Context) (timetable.ReferenceDirectory, error) {
	directory := timetable.ReferenceDirectory{
		GroupNames:       make(map[int64]string),
		TeacherNames:     make(map[int64]string),
		DisciplineTitles: make(map[int64]string),
	}

	var groups []Group
	if err := s.db.WithContext(ctx).Find(&groups).Error; err != nil {
		return timetable.ReferenceDirectory{}, err
	}
	for _, group := range groups {
		directory.GroupNames[group.ID] = group.Name
	}

	var teachers []Teacher
	if err := s.db.WithContext(ctx).Find(&teachers).Error; err != nil {
		return timetable.ReferenceDirectory{}, err
	}
	for _, teacher := range teachers {
		directory.TeacherNames[teacher.ID] = teacher.FIO
	}

	var disciplines []Discipline
	if err := s.db.WithContext(ctx).Find(&disciplines).Error; err != nil {
		return timetable.ReferenceDirectory{}, err
	}
	for _, discipline := range disciplines {
		directory.DisciplineTitles[discipline.ID] = discipline.Title
	}

	return directory, nil
}
