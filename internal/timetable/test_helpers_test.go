package timetable

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticReferenceProvider struct {
	activeGroups      []GroupRef
	activeTeachers    []TeacherRef
	activeDisciplines []DisciplineRef
	extraGroupNames   map[int64]string
	extraTeacherNames map[int64]string
	extraTitles       map[int64]string
}

func (p *staticReferenceProvider) ActiveGroups(ctx context.Context, buildingID int64) ([]GroupRef, error) {
	return p.activeGroups, nil
}

func (p *staticReferenceProvider) ActiveTeachers(ctx context.Context) ([]TeacherRef, error) {
	return p.activeTeachers, nil
}

func (p *staticReferenceProvider) ActiveDisciplines(ctx context.Context) ([]DisciplineRef, error) {
	return p.activeDisciplines, nil
}

func (p *staticReferenceProvider) WithTx(tx *gorm.DB) ReferenceProvider {
	return p
}

func (p *staticReferenceProvider) Directory(ctx context.Context) (ReferenceDirectory, error) {
	directory := ReferenceDirectory{
		GroupNames:       make(map[int64]string),
		TeacherNames:     make(map[int64]string),
		DisciplineTitles: make(map[int64]string),
	}
	for _, group := range p.activeGroups {
		directory.GroupNames[group.ID] = group.Name
	}
	for _, teacher := range p.activeTeachers {
		directory.TeacherNames[teacher.ID] = teacher.FIO
	}
	for _, discipline := range p.activeDisciplines {
		directory.DisciplineTitles[discipline.ID] = discipline.Title
	}
	for id, name := range p.extraGroupNames {
		directory.GroupNames[id] = name
	}
	for id, name := range p.extraTeacherNames {
		directory.TeacherNames[id] = name
	}
	for id, title := range p.extraTitles {
		directory.DisciplineTitles[id] = title
	}
	return directory, nil
}

func defaultProvider() *staticReferenceProvider {
	return &staticReferenceProvider{
		activeGroups: []GroupRef{
			{ID: 1, Name: "101"},
			{ID: 2, Name: "102"},
		},
		activeTeachers: []TeacherRef{
			{ID: 7, FIO: "Ivanova A. P."},
			{ID: 8, FIO: "Petrov K. S."},
		},
		activeDisciplines: []DisciplineRef{
			{ID: 40, Title: "Mathematics"},
			{ID: 41, Title: "Physics"},
		},
	}
}

func newTestService(t *testing.T, refs *staticReferenceProvider) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:timetable_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ScheduleVersion{}, &Card{}, &LessonEntry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return time.Unix(1750000600, 0).UTC() }
	service, err := NewService(ServiceConfig{
		Database:   db,
		References: refs,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to construct timetable service: %v", err)
	}
	return service, db
}

func insertVersion(t *testing.T, db *gorm.DB, version ScheduleVersion) int64 {
	t.Helper()
	if version.Kind == "" {
		version.Kind = VersionKindReplacements
	}
	if version.Status == "" {
		version.Status = VersionStatusPending
	}
	if version.CreatedBy == "" {
		version.CreatedBy = "methodist-1"
	}
	if version.LastModifiedAt.IsZero() {
		version.LastModifiedAt = time.Unix(1750000000, 0).UTC()
	}
	if err := db.Create(&version).Error; err != nil {
		t.Fatalf("failed to insert version: %v", err)
	}
	return version.ID
}

func insertCard(t *testing.T, db *gorm.DB, card Card) int64 {
	t.Helper()
	if card.Status == "" {
		card.Status = CardStatusDraft
	}
	if card.CreatedBy == "" {
		card.CreatedBy = "methodist-1"
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Unix(1750000000, 0).UTC()
	}
	if err := db.Create(&card).Error; err != nil {
		t.Fatalf("failed to insert card: %v", err)
	}
	return card.ID
}

func insertEntry(t *testing.T, db *gorm.DB, entry LessonEntry) {
	t.Helper()
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("failed to insert lesson entry: %v", err)
	}
}

// seedCurrentCard creates a current card for the group with one non-forced
// lesson per supplied (position, teacher) pair.
func seedCurrentCard(t *testing.T, db *gorm.DB, versionID, groupID int64, pairs ...[2]int64) int64 {
	t.Helper()
	cardID := insertCard(t, db, Card{ScheduleVersionID: versionID, GroupID: groupID, IsCurrent: true})
	for _, pair := range pairs {
		insertEntry(t, db, LessonEntry{
			CardID:            cardID,
			ScheduleVersionID: versionID,
			Position:          int(pair[0]),
			DisciplineID:      40,
			TeacherID:         pair[1],
		})
	}
	return cardID
}

func lesson(position int, teacherID int64) LessonInput {
	return LessonInput{Position: position, DisciplineID: 40, TeacherID: teacherID, Room: "204"}
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return count
}
