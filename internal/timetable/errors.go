package timetable

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionNotFound indicates an unknown schedule version id.
	ErrVersionNotFound = errors.New("timetable: schedule version not found")
	// ErrCardNotFound indicates an unknown card id, or a card that does not
	// belong to the referenced version.
	ErrCardNotFound = errors.New("timetable: card not found")
	// ErrVersionImmutable indicates a write against a committed, accepted version.
	ErrVersionImmutable = errors.New("timetable: version is committed, editing is forbidden")
	// ErrDuplicateAccepted indicates the group already holds an accepted card
	// in the version.
	ErrDuplicateAccepted = errors.New("timetable: group already has an accepted card in this version")
	// ErrActiveVersionExists indicates a first commit was attempted while
	// another version of the same (building, kind) is still committed.
	ErrActiveVersionExists = errors.New("timetable: another version is already committed for this building and kind")
)

// ConflictPair identifies one double-booked slot.
type ConflictPair struct {
	Position  int
	TeacherID int64
}

// ConflictReport lists every (position, teacher) pair that violated the
// version-wide uniqueness invariant.
type ConflictReport struct {
	Pairs []ConflictPair
}

// ConflictError rejects a write whose lesson entries double-book a teacher.
type ConflictError struct {
	Report ConflictReport
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("timetable: teacher double-booked in %d slot(s)", len(e.Report.Pairs))
}

// InsufficientLessonsError rejects an accept below the configured minimum.
type InsufficientLessonsError struct {
	Have int
	Min  int
}

func (e *InsufficientLessonsError) Error() string {
	return fmt.Sprintf("timetable: card has %d lesson(s), minimum for accept is %d", e.Have, e.Min)
}

// MissingGroupsError rejects a commit while active groups lack a countable
// current card in the version.
type MissingGroupsError struct {
	GroupIDs []int64
}

func (e *MissingGroupsError) Error() string {
	return fmt.Sprintf("timetable: %d active group(s) have no card in this version", len(e.GroupIDs))
}

// UnknownGroupsError rejects a bulk add in which no supplied group name
// resolved to an active group.
type UnknownGroupsError struct {
	Names []string
}

func (e *UnknownGroupsError) Error() string {
	return fmt.Sprintf("timetable: no active groups matched %d supplied name(s)", len(e.Names))
}

// ServiceError wraps an infrastructure failure with an operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew        = "timetable.service.new"
	opCreateVersion     = "timetable.create_version"
	opPreCommitCheck    = "timetable.pre_commit_check"
	opCommit            = "timetable.commit"
	opSwitchAsPending   = "timetable.switch_as_pending"
	opListVersions      = "timetable.list_versions"
	opGetVersion        = "timetable.get_version"
	opReplaceCandidates = "timetable.replace_candidates"
	opSaveCard          = "timetable.save_card"
	opAcceptCard        = "timetable.accept_card"
	opSwitchAsEdit      = "timetable.switch_as_edit"
	opHistory           = "timetable.history"
	opContent           = "timetable.content"
	opCurrentCards      = "timetable.current_cards"
	opProjectWeekday    = "timetable.project_weekday"
	opTemplateDrift     = "timetable.template_drift"
	opBulkAdd           = "timetable.bulk_add"
	opBulkDelete        = "timetable.bulk_delete"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// isDomainError reports whether err is a business outcome that must reach the
// caller untranslated rather than being wrapped as an infrastructure failure.
func isDomainError(err error) bool {
	if errors.Is(err, ErrVersionNotFound) || errors.Is(err, ErrCardNotFound) ||
		errors.Is(err, ErrVersionImmutable) || errors.Is(err, ErrDuplicateAccepted) ||
		errors.Is(err, ErrActiveVersionExists) {
		return true
	}
	var conflict *ConflictError
	var insufficient *InsufficientLessonsError
	var missing *MissingGroupsError
	var unknown *UnknownGroupsError
	return errors.As(err, &conflict) || errors.As(err, &insufficient) ||
		errors.As(err, &missing) || errors.As(err, &unknown)
}
