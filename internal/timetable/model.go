package timetable

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// VersionKind distinguishes the recurring standard template from day-specific
// replacement schedules.
type VersionKind string

const (
	// VersionKindStandard is the recurring weekly template.
	VersionKindStandard VersionKind = "standard"
	// VersionKindReplacements is a dated one-off schedule overriding the template.
	VersionKindReplacements VersionKind = "replacements"
)

// VersionStatus tracks the editorial state of a schedule version.
type VersionStatus string

const (
	// VersionStatusPending marks a version that is still being edited.
	VersionStatusPending VersionStatus = "pending"
	// VersionStatusAccepted marks a version approved for publication.
	VersionStatusAccepted VersionStatus = "accepted"
)

// CardStatus tracks the editorial state of a group's card.
type CardStatus string

const (
	CardStatusDraft    CardStatus = "draft"
	CardStatusEdited   CardStatus = "edited"
	CardStatusAccepted CardStatus = "accepted"
)

var (
	// ErrInvalidVersionKind indicates an unrecognized schedule version kind.
	ErrInvalidVersionKind = errors.New("timetable: invalid version kind")
	// ErrInvalidWeekday indicates a weekday outside the 1..7 range.
	ErrInvalidWeekday = errors.New("timetable: invalid weekday")
)

// ParseVersionKind validates raw input and returns a VersionKind.
func ParseVersionKind(rawInput string) (VersionKind, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case string(VersionKindStandard):
		return VersionKindStandard, nil
	case string(VersionKindReplacements):
		return VersionKindReplacements, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVersionKind, rawInput)
	}
}

// Weekday is a 1-based day of week, Monday = 1 through Sunday = 7.
type Weekday int

// NewWeekday validates the value and returns a Weekday.
func NewWeekday(value int) (Weekday, error) {
	if value < 1 || value > 7 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidWeekday, value)
	}
	return Weekday(value), nil
}

// Int exposes the raw 1..7 value.
func (d Weekday) Int() int {
	return int(d)
}

// ScheduleVersion is one instance of a building's timetable, standard or
// daily-replacement. At most one version per (building, kind) may be
// committed at a time; the partial unique index enforces the invariant.
type ScheduleVersion struct {
	ID             int64         `gorm:"column:id;primaryKey;autoIncrement"`
	BuildingID     int64         `gorm:"column:building_id;not null;index:idx_versions_building;uniqueIndex:uidx_versions_committed,priority:1,where:is_committed = 1"`
	ScheduleDate   *time.Time    `gorm:"column:schedule_date"`
	Kind           VersionKind   `gorm:"column:kind;size:32;not null;uniqueIndex:uidx_versions_committed,priority:2"`
	Status         VersionStatus `gorm:"column:status;size:32;not null"`
	IsCommitted    bool          `gorm:"column:is_committed;not null;default:false"`
	CreatedBy      string        `gorm:"column:created_by;size:190;not null"`
	LastModifiedAt time.Time     `gorm:"column:last_modified_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ScheduleVersion) TableName() string {
	return "schedule_versions"
}

// Editable reports whether the version still accepts card writes. A version
// becomes immutable once it is both committed and accepted.
func (v ScheduleVersion) Editable() bool {
	return !v.IsCommitted || v.Status != VersionStatusAccepted
}

// Card is one history entry of a group's lesson set within a version. Saves
// never mutate a card in place: the current card is flipped to not-current
// and a fresh row becomes the group's authoritative card.
type Card struct {
	ID                int64      `gorm:"column:id;primaryKey;autoIncrement"`
	ScheduleVersionID int64      `gorm:"column:schedule_version_id;not null;index:idx_cards_version;uniqueIndex:uidx_cards_current,priority:1,where:is_current = 1"`
	GroupID           int64      `gorm:"column:group_id;not null;uniqueIndex:uidx_cards_current,priority:2"`
	Status            CardStatus `gorm:"column:status;size:32;not null"`
	IsCurrent         bool       `gorm:"column:is_current;not null;default:false"`
	CreatedBy         string     `gorm:"column:created_by;size:190;not null"`
	CreatedAt         time.Time  `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Card) TableName() string {
	return "cards"
}

// LessonEntry is one timetable slot inside a card. The schedule version id is
// denormalized so the cross-card teacher uniqueness check never needs to walk
// the card table. Weekday is set only on standard-template entries.
type LessonEntry struct {
	ID                int64  `gorm:"column:id;primaryKey;autoIncrement"`
	CardID            int64  `gorm:"column:card_id;not null;index:idx_entries_card"`
	ScheduleVersionID int64  `gorm:"column:schedule_version_id;not null;index:idx_entries_version_slot,priority:1"`
	Weekday           *int   `gorm:"column:weekday"`
	Position          int    `gorm:"column:position;not null;index:idx_entries_version_slot,priority:2"`
	DisciplineID      int64  `gorm:"column:discipline_id;not null"`
	TeacherID         int64  `gorm:"column:teacher_id;not null;index:idx_entries_version_slot,priority:3"`
	Room              string `gorm:"column:room;size:64;not null;default:''"`
	IsForce           bool   `gorm:"column:is_force;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (LessonEntry) TableName() string {
	return "lesson_entries"
}

// LessonInput is the caller-supplied shape of one slot assignment.
type LessonInput struct {
	Position     int
	DisciplineID int64
	TeacherID    int64
	Room         string
	Weekday      *int
	IsForce      bool
}

// LessonView is a lesson entry joined with display names for rendering.
type LessonView struct {
	Position        int
	DisciplineID    int64
	DisciplineTitle string
	TeacherID       int64
	TeacherName     string
	Room            string
	Weekday         *int
	IsForce         bool
}

// CardView is a current card with its resolved lesson entries.
type CardView struct {
	CardID    int64
	GroupID   int64
	GroupName string
	Status    CardStatus
	IsCurrent bool
	Lessons   []LessonView
}

// CardSummary is one row of a group's card history within a version.
type CardSummary struct {
	CardID      int64      `gorm:"column:card_id"`
	Status      CardStatus `gorm:"column:status"`
	IsCurrent   bool       `gorm:"column:is_current"`
	CreatedBy   string     `gorm:"column:created_by"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	LessonCount int64      `gorm:"column:lesson_count"`
}

// GroupRef names an active study group.
type GroupRef struct {
	ID   int64
	Name string
}

// TeacherRef names an active teacher.
type TeacherRef struct {
	ID  int64
	FIO string
}

// DisciplineRef names an active discipline.
type DisciplineRef struct {
	ID    int64
	Title string
}

// ReferenceDirectory maps entity ids to display names, including inactive
// rows so historical card content stays readable.
type ReferenceDirectory struct {
	GroupNames       map[int64]string
	TeacherNames     map[int64]string
	DisciplineTitles map[int64]string
}
