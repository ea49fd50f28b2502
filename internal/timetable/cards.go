package timetable

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const historyLimit = 50

// SaveCard replaces the group's current card with a fresh one carrying the
// supplied lessons. The existing card is never mutated: it is flipped to
// not-current and kept as history. Any teacher double-booking rejects the
// whole save, including the current-pointer flip.
func (s *Service) SaveCard(ctx context.Context, cardID, versionID int64, userID string, lessons []LessonInput) (int64, error) {
	var newCardID int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version, err := s.loadVersion(tx, versionID)
		if err != nil {
			return err
		}
		if !version.Editable() {
			return ErrVersionImmutable
		}

		previous, err := s.loadCard(tx, cardID)
		if err != nil {
			return err
		}
		if previous.ScheduleVersionID != versionID {
			return ErrCardNotFound
		}

		// Flip before insert so the single-current partial index stays satisfied.
		err = tx.Model(&Card{}).
			Where("id = ?", previous.ID).
			Update("is_current", false).Error
		if err != nil {
			return err
		}

		replacement := Card{
			ScheduleVersionID: versionID,
			GroupID:           previous.GroupID,
			Status:            CardStatusEdited,
			IsCurrent:         true,
			CreatedBy:         userID,
			CreatedAt:         s.clock().UTC(),
		}
		if err := tx.Create(&replacement).Error; err != nil {
			return err
		}

		occupied, err := s.detector.occupiedSlots(tx, versionID, []int64{previous.GroupID})
		if err != nil {
			return err
		}
		_, report, err := s.detector.checkAndInsert(tx, replacement, buildEntries(lessons), occupied, false)
		if err != nil {
			return err
		}
		if report != nil {
			return &ConflictError{Report: *report}
		}

		newCardID = replacement.ID
		return s.touchVersion(tx, versionID)
	})
	if txErr != nil {
		if isDomainError(txErr) {
			return 0, txErr
		}
		s.logError(opSaveCard, "save_failed", txErr,
			zap.Int64("card_id", cardID),
			zap.Int64("version_id", versionID),
			zap.String("user_id", userID))
		return 0, newServiceError(opSaveCard, "save_failed", txErr)
	}
	return newCardID, nil
}

// AcceptCard flips the card to accepted. The duplicate check runs against
// every card of the group in the version, current or not, so an accepted
// card buried in history still blocks a second acceptance.
func (s *Service) AcceptCard(ctx context.Context, cardID int64) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := s.loadCard(tx, cardID)
		if err != nil {
			return err
		}

		var acceptedCount int64
		err = tx.Model(&Card{}).
			Where("schedule_version_id = ? AND group_id = ? AND status = ?",
				card.ScheduleVersionID, card.GroupID, CardStatusAccepted).
			Count(&acceptedCount).Error
		if err != nil {
			return err
		}
		if acceptedCount > 0 {
			return ErrDuplicateAccepted
		}

		version, err := s.loadVersion(tx, card.ScheduleVersionID)
		if err != nil {
			return err
		}
		if !version.Editable() {
			return ErrVersionImmutable
		}

		var lessonCount int64
		err = tx.Model(&LessonEntry{}).Where("card_id = ?", card.ID).Count(&lessonCount).Error
		if err != nil {
			return err
		}
		if int(lessonCount) < s.minLessons {
			return &InsufficientLessonsError{Have: int(lessonCount), Min: s.minLessons}
		}

		return tx.Model(&Card{}).Where("id = ?", card.ID).Update("status", CardStatusAccepted).Error
	})
	if txErr != nil {
		if isDomainError(txErr) {
			return txErr
		}
		s.logError(opAcceptCard, "accept_failed", txErr, zap.Int64("card_id", cardID))
		return newServiceError(opAcceptCard, "accept_failed", txErr)
	}
	return nil
}

// SwitchAsEdit flips the card back to the edited status. Removing acceptance
// is always safe, so no constraints are checked.
func (s *Service) SwitchAsEdit(ctx context.Context, cardID int64) error {
	result := s.db.WithContext(ctx).Model(&Card{}).
		Where("id = ?", cardID).
		Update("status", CardStatusEdited)
	if result.Error != nil {
		s.logError(opSwitchAsEdit, "update_failed", result.Error, zap.Int64("card_id", cardID))
		return newServiceError(opSwitchAsEdit, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCardNotFound
	}
	return nil
}

// History returns the audit trail of the group's cards within a version,
// current card first, then newest to oldest, capped at 50 rows.
func (s *Service) History(ctx context.Context, versionID, groupID int64) ([]CardSummary, error) {
	var summaries []CardSummary
	err := s.db.WithContext(ctx).Model(&Card{}).
		Select("cards.id AS card_id, cards.status, cards.is_current, cards.created_by, cards.created_at, " +
			"(SELECT COUNT(*) FROM lesson_entries WHERE lesson_entries.card_id = cards.id) AS lesson_count").
		Where("cards.schedule_version_id = ? AND cards.group_id = ?", versionID, groupID).
		Order("cards.is_current DESC, cards.id DESC").
		Limit(historyLimit).
		Scan(&summaries).Error
	if err != nil {
		s.logError(opHistory, "query_failed", err,
			zap.Int64("version_id", versionID),
			zap.Int64("group_id", groupID))
		return nil, newServiceError(opHistory, "query_failed", err)
	}
	return summaries, nil
}

// Content returns the card's lesson entries with resolved display names,
// ordered by slot position. Works for historical cards as well as current
// ones.
func (s *Service) Content(ctx context.Context, cardID int64) ([]LessonView, error) {
	if _, err := s.loadCard(s.db.WithContext(ctx), cardID); err != nil {
		if isDomainError(err) {
			return nil, err
		}
		s.logError(opContent, "card_load_failed", err, zap.Int64("card_id", cardID))
		return nil, newServiceError(opContent, "card_load_failed", err)
	}

	var entries []LessonEntry
	err := s.db.WithContext(ctx).
		Where("card_id = ?", cardID).
		Order("position ASC").
		Find(&entries).Error
	if err != nil {
		s.logError(opContent, "query_failed", err, zap.Int64("card_id", cardID))
		return nil, newServiceError(opContent, "query_failed", err)
	}

	directory, err := s.refs.Directory(ctx)
	if err != nil {
		s.logError(opContent, "directory_failed", err, zap.Int64("card_id", cardID))
		return nil, newServiceError(opContent, "directory_failed", err)
	}

	return lessonViews(entries, directory), nil
}

// CurrentCards returns every current card of the version with entries and
// resolved names, ordered by group id.
func (s *Service) CurrentCards(ctx context.Context, versionID int64) ([]CardView, error) {
	if _, err := s.loadVersion(s.db.WithContext(ctx), versionID); err != nil {
		if isDomainError(err) {
			return nil, err
		}
		s.logError(opCurrentCards, "version_load_failed", err, zap.Int64("version_id", versionID))
		return nil, newServiceError(opCurrentCards, "version_load_failed", err)
	}

	var cards []Card
	err := s.db.WithContext(ctx).
		Where("schedule_version_id = ? AND is_current = ?", versionID, true).
		Order("group_id ASC").
		Find(&cards).Error
	if err != nil {
		s.logError(opCurrentCards, "cards_query_failed", err, zap.Int64("version_id", versionID))
		return nil, newServiceError(opCurrentCards, "cards_query_failed", err)
	}

	cardIDs := make([]int64, 0, len(cards))
	for _, card := range cards {
		cardIDs = append(cardIDs, card.ID)
	}

	entriesByCard := make(map[int64][]LessonEntry, len(cards))
	if len(cardIDs) > 0 {
		var entries []LessonEntry
		err = s.db.WithContext(ctx).
			Where("card_id IN ?", cardIDs).
			Order("position ASC").
			Find(&entries).Error
		if err != nil {
			s.logError(opCurrentCards, "entries_query_failed", err, zap.Int64("version_id", versionID))
			return nil, newServiceError(opCurrentCards, "entries_query_failed", err)
		}
		for _, entry := range entries {
			entriesByCard[entry.CardID] = append(entriesByCard[entry.CardID], entry)
		}
	}

	directory, err := s.refs.Directory(ctx)
	if err != nil {
		s.logError(opCurrentCards, "directory_failed", err, zap.Int64("version_id", versionID))
		return nil, newServiceError(opCurrentCards, "directory_failed", err)
	}

	views := make([]CardView, 0, len(cards))
	for _, card := range cards {
		views = append(views, CardView{
			CardID:    card.ID,
			GroupID:   card.GroupID,
			GroupName: directory.GroupNames[card.GroupID],
			Status:    card.Status,
			IsCurrent: card.IsCurrent,
			Lessons:   lessonViews(entriesByCard[card.ID], directory),
		})
	}
	return views, nil
}

func buildEntries(lessons []LessonInput) []LessonEntry {
	entries := make([]LessonEntry, 0, len(lessons))
	for _, lesson := range lessons {
		entries = append(entries, LessonEntry{
			Weekday:      lesson.Weekday,
			Position:     lesson.Position,
			DisciplineID: lesson.DisciplineID,
			TeacherID:    lesson.TeacherID,
			Room:         lesson.Room,
			IsForce:      lesson.IsForce,
		})
	}
	return entries
}

func lessonViews(entries []LessonEntry, directory ReferenceDirectory) []LessonView {
	views := make([]LessonView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, LessonView{
			Position:        entry.Position,
			DisciplineID:    entry.DisciplineID,
			DisciplineTitle: directory.DisciplineTitles[entry.DisciplineID],
			TeacherID:       entry.TeacherID,
			TeacherName:     directory.TeacherNames[entry.TeacherID],
			Room:            entry.Room,
			Weekday:         entry.Weekday,
			IsForce:         entry.IsForce,
		})
	}
	sort.SliceStable(views, func(i, j int) bool { return views[i].Position < views[j].Position })
	return views
}
