package timetable

import "gorm.io/gorm"

// slotKey identifies a teacher's booking within one version.
type slotKey struct {
	position  int
	teacherID int64
}

// conflictDetector enforces the version-wide invariant that no teacher is
// booked twice at the same position unless one side carries the force flag.
// Instead of parsing a storage-engine constraint violation, it snapshots the
// occupied slots inside the caller's transaction and computes the conflicting
// subset before the write.
type conflictDetector struct{}

// occupiedSlots returns the non-forced (position, teacher) pairs held by
// current cards of the version, excluding the listed groups. Excluded groups
// are the ones whose current card the caller is about to replace; their old
// entries must not conflict with their own replacement.
func (conflictDetector) occupiedSlots(tx *gorm.DB, versionID int64, excludeGroupIDs []int64) (map[slotKey]struct{}, error) {
	rows := make([]struct {
		Position  int   `gorm:"column:position"`
		TeacherID int64 `gorm:"column:teacher_id"`
	}, 0)

	query := tx.Table("lesson_entries").
		Select("lesson_entries.position, lesson_entries.teacher_id").
		Joins("JOIN cards ON cards.id = lesson_entries.card_id").
		Where("lesson_entries.schedule_version_id = ?", versionID).
		Where("lesson_entries.is_force = ?", false).
		Where("cards.is_current = ?", true)
	if len(excludeGroupIDs) > 0 {
		query = query.Where("cards.group_id NOT IN ?", excludeGroupIDs)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	occupied := make(map[slotKey]struct{}, len(rows))
	for _, row := range rows {
		occupied[slotKey{position: row.Position, teacherID: row.TeacherID}] = struct{}{}
	}
	return occupied, nil
}

// checkAndInsert persists the card's entries against the occupied-slot
// snapshot. With skipConflicting=false the write is all-or-nothing: any
// conflicting non-forced entry aborts the batch and the report carries every
// offending pair. With skipConflicting=true conflicting entries are dropped
// and the remainder is inserted, mirroring insert-or-ignore semantics.
// Inserted non-forced slots are added to the snapshot so subsequent cards in
// the same transaction observe them.
func (conflictDetector) checkAndInsert(tx *gorm.DB, card Card, entries []LessonEntry, occupied map[slotKey]struct{}, skipConflicting bool) ([]LessonEntry, *ConflictReport, error) {
	accepted := make([]LessonEntry, 0, len(entries))
	report := ConflictReport{}
	batch := make(map[slotKey]struct{}, len(entries))

	for _, entry := range entries {
		entry.CardID = card.ID
		entry.ScheduleVersionID = card.ScheduleVersionID
		if entry.IsForce {
			accepted = append(accepted, entry)
			continue
		}

		key := slotKey{position: entry.Position, teacherID: entry.TeacherID}
		_, taken := occupied[key]
		if !taken {
			_, taken = batch[key]
		}
		if taken {
			report.Pairs = append(report.Pairs, ConflictPair{Position: entry.Position, TeacherID: entry.TeacherID})
			continue
		}
		batch[key] = struct{}{}
		accepted = append(accepted, entry)
	}

	if len(report.Pairs) > 0 && !skipConflicting {
		return nil, &report, nil
	}

	if len(accepted) > 0 {
		if err := tx.Create(&accepted).Error; err != nil {
			return nil, nil, err
		}
	}
	for key := range batch {
		occupied[key] = struct{}{}
	}

	return accepted, nil, nil
}
