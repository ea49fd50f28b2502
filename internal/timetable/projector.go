package timetable

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProjectWeekday copies one weekday slice of the building's committed
// standard template into the target version as fresh draft cards. Entries
// referencing deactivated groups, teachers or disciplines are silently
// dropped, so stale template data heals on every projection. The copies go
// through the conflict detector exactly as a manual save would: a template
// that collides with edits already present in the target rejects the whole
// projection.
func (s *Service) ProjectWeekday(ctx context.Context, buildingID int64, weekday Weekday, targetVersionID int64, userID string) ([]LessonView, error) {
	var projected []LessonView
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target, err := s.loadVersion(tx, targetVersionID)
		if err != nil {
			return err
		}
		if target.BuildingID != buildingID {
			return ErrVersionNotFound
		}
		if !target.Editable() {
			return ErrVersionImmutable
		}

		var standard ScheduleVersion
		err = tx.Where("building_id = ? AND kind = ? AND is_committed = ?",
			buildingID, VersionKindStandard, true).Take(&standard).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrVersionNotFound
		}
		if err != nil {
			return err
		}

		templateRows, err := s.templateEntries(tx, standard.ID, weekday)
		if err != nil {
			return err
		}

		refs := s.refs.WithTx(tx)
		activeGroups, activeTeachers, activeDisciplines, err := activeSets(ctx, refs, buildingID)
		if err != nil {
			return err
		}

		byGroup := make(map[int64][]LessonEntry)
		for _, row := range templateRows {
			if _, ok := activeGroups[row.GroupID]; !ok {
				continue
			}
			if _, ok := activeTeachers[row.TeacherID]; !ok {
				continue
			}
			if _, ok := activeDisciplines[row.DisciplineID]; !ok {
				continue
			}
			day := row.Weekday
			byGroup[row.GroupID] = append(byGroup[row.GroupID], LessonEntry{
				Weekday:      &day,
				Position:     row.Position,
				DisciplineID: row.DisciplineID,
				TeacherID:    row.TeacherID,
				Room:         row.Room,
				IsForce:      row.IsForce,
			})
		}

		groupIDs := make([]int64, 0, len(byGroup))
		for groupID := range byGroup {
			groupIDs = append(groupIDs, groupID)
		}
		sort.Slice(groupIDs, func(i, j int) bool { return groupIDs[i] < groupIDs[j] })

		occupied, err := s.detector.occupiedSlots(tx, target.ID, groupIDs)
		if err != nil {
			return err
		}

		directory, err := refs.Directory(ctx)
		if err != nil {
			return err
		}

		now := s.clock().UTC()
		for _, groupID := range groupIDs {
			if err := retireCurrentCard(tx, target.ID, groupID); err != nil {
				return err
			}
			card := Card{
				ScheduleVersionID: target.ID,
				GroupID:           groupID,
				Status:            CardStatusDraft,
				IsCurrent:         true,
				CreatedBy:         userID,
				CreatedAt:         now,
			}
			if err := tx.Create(&card).Error; err != nil {
				return err
			}
			inserted, report, err := s.detector.checkAndInsert(tx, card, byGroup[groupID], occupied, false)
			if err != nil {
				return err
			}
			if report != nil {
				return &ConflictError{Report: *report}
			}
			projected = append(projected, lessonViews(inserted, directory)...)
		}

		return s.touchVersion(tx, target.ID)
	})
	if txErr != nil {
		if isDomainError(txErr) {
			return nil, txErr
		}
		s.logError(opProjectWeekday, "projection_failed", txErr,
			zap.Int64("building_id", buildingID),
			zap.Int("weekday", weekday.Int()),
			zap.Int64("target_version_id", targetVersionID))
		return nil, newServiceError(opProjectWeekday, "projection_failed", txErr)
	}
	return projected, nil
}

// TemplateDriftReport lists the entities referenced by a version's current
// cards that are no longer active. A non-empty report means the version was
// loaded from template data that has since gone stale.
type TemplateDriftReport struct {
	GroupIDs      []int64
	TeacherIDs    []int64
	DisciplineIDs []int64
}

// TemplateDrift probes the version's current cards against the live
// reference data.
func (s *Service) TemplateDrift(ctx context.Context, versionID int64) (TemplateDriftReport, error) {
	db := s.db.WithContext(ctx)
	version, err := s.loadVersion(db, versionID)
	if err != nil {
		if isDomainError(err) {
			return TemplateDriftReport{}, err
		}
		s.logError(opTemplateDrift, "version_load_failed", err, zap.Int64("version_id", versionID))
		return TemplateDriftReport{}, newServiceError(opTemplateDrift, "version_load_failed", err)
	}

	var report TemplateDriftReport
	var groupIDs []int64
	err = db.Model(&Card{}).
		Where("schedule_version_id = ? AND is_current = ?", version.ID, true).
		Distinct().
		Pluck("group_id", &groupIDs).Error
	if err != nil {
		s.logError(opTemplateDrift, "groups_query_failed", err, zap.Int64("version_id", versionID))
		return TemplateDriftReport{}, newServiceError(opTemplateDrift, "groups_query_failed", err)
	}

	rows := make([]struct {
		TeacherID    int64 `gorm:"column:teacher_id"`
		DisciplineID int64 `gorm:"column:discipline_id"`
	}, 0)
	err = db.Table("lesson_entries").
		Select("DISTINCT lesson_entries.teacher_id, lesson_entries.discipline_id").
		Joins("JOIN cards ON cards.id = lesson_entries.card_id").
		Where("lesson_entries.schedule_version_id = ? AND cards.is_current = ?", version.ID, true).
		Find(&rows).Error
	if err != nil {
		s.logError(opTemplateDrift, "entries_query_failed", err, zap.Int64("version_id", versionID))
		return TemplateDriftReport{}, newServiceError(opTemplateDrift, "entries_query_failed", err)
	}

	activeGroups, activeTeachers, activeDisciplines, err := activeSets(ctx, s.refs, version.BuildingID)
	if err != nil {
		s.logError(opTemplateDrift, "references_failed", err, zap.Int64("version_id", versionID))
		return TemplateDriftReport{}, newServiceError(opTemplateDrift, "references_failed", err)
	}

	for _, groupID := range groupIDs {
		if _, ok := activeGroups[groupID]; !ok {
			report.GroupIDs = append(report.GroupIDs, groupID)
		}
	}
	seenTeachers := make(map[int64]struct{})
	seenDisciplines := make(map[int64]struct{})
	for _, row := range rows {
		if _, ok := activeTeachers[row.TeacherID]; !ok {
			if _, dup := seenTeachers[row.TeacherID]; !dup {
				seenTeachers[row.TeacherID] = struct{}{}
				report.TeacherIDs = append(report.TeacherIDs, row.TeacherID)
			}
		}
		if _, ok := activeDisciplines[row.DisciplineID]; !ok {
			if _, dup := seenDisciplines[row.DisciplineID]; !dup {
				seenDisciplines[row.DisciplineID] = struct{}{}
				report.DisciplineIDs = append(report.DisciplineIDs, row.DisciplineID)
			}
		}
	}
	return report, nil
}

type templateRow struct {
	GroupID      int64  `gorm:"column:group_id"`
	Weekday      int    `gorm:"column:weekday"`
	Position     int    `gorm:"column:position"`
	DisciplineID int64  `gorm:"column:discipline_id"`
	TeacherID    int64  `gorm:"column:teacher_id"`
	Room         string `gorm:"column:room"`
	IsForce      bool   `gorm:"column:is_force"`
}

func (s *Service) templateEntries(tx *gorm.DB, standardVersionID int64, weekday Weekday) ([]templateRow, error) {
	var rows []templateRow
	err := tx.Table("lesson_entries").
		Select("cards.group_id, lesson_entries.weekday, lesson_entries.position, "+
			"lesson_entries.discipline_id, lesson_entries.teacher_id, lesson_entries.room, lesson_entries.is_force").
		Joins("JOIN cards ON cards.id = lesson_entries.card_id").
		Where("lesson_entries.schedule_version_id = ? AND lesson_entries.weekday = ? AND cards.is_current = ?",
			standardVersionID, weekday.Int(), true).
		Order("cards.group_id ASC, lesson_entries.position ASC").
		Find(&rows).Error
	return rows, err
}

func activeSets(ctx context.Context, refs ReferenceProvider, buildingID int64) (map[int64]struct{}, map[int64]struct{}, map[int64]struct{}, error) {
	groups, err := refs.ActiveGroups(ctx, buildingID)
	if err != nil {
		return nil, nil, nil, err
	}
	teachers, err := refs.ActiveTeachers(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	disciplines, err := refs.ActiveDisciplines(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	groupSet := make(map[int64]struct{}, len(groups))
	for _, group := range groups {
		groupSet[group.ID] = struct{}{}
	}
	teacherSet := make(map[int64]struct{}, len(teachers))
	for _, teacher := range teachers {
		teacherSet[teacher.ID] = struct{}{}
	}
	disciplineSet := make(map[int64]struct{}, len(disciplines))
	for _, discipline := range disciplines {
		disciplineSet[discipline.ID] = struct{}{}
	}
	return groupSet, teacherSet, disciplineSet, nil
}

// retireCurrentCard flips the group's current card in the version to
// not-current, if one exists.
func retireCurrentCard(tx *gorm.DB, versionID, groupID int64) error {
	return tx.Model(&Card{}).
		Where("schedule_version_id = ? AND group_id = ? AND is_current = ?", versionID, groupID, true).
		Update("is_current", false).Error
}
