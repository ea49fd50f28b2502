package timetable

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BulkAddResult reports the cards created by a bulk add and the supplied
// group names that resolved to nothing.
type BulkAddResult struct {
	CardIDs       []int64
	MissingGroups []string
}

// BulkAdd creates one draft card per resolvable group name, duplicating the
// template lessons onto each. Names of unknown or inactive groups are
// reported back without aborting the batch; only a batch where nothing
// resolves fails outright. Unlike SaveCard, conflicting non-forced entries
// are silently skipped rather than rejecting the operation: bulk add is a
// paste-many convenience where partial success beats total rollback.
func (s *Service) BulkAdd(ctx context.Context, versionID int64, userID string, groupNames []string, templateLessons []LessonInput) (BulkAddResult, error) {
	var result BulkAddResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version, err := s.loadVersion(tx, versionID)
		if err != nil {
			return err
		}
		if !version.Editable() {
			return ErrVersionImmutable
		}

		active, err := s.refs.WithTx(tx).ActiveGroups(ctx, version.BuildingID)
		if err != nil {
			return err
		}
		byName := make(map[string]int64, len(active))
		for _, group := range active {
			byName[group.Name] = group.ID
		}

		resolved := make([]int64, 0, len(groupNames))
		for _, name := range groupNames {
			groupID, ok := byName[name]
			if !ok {
				result.MissingGroups = append(result.MissingGroups, name)
				continue
			}
			resolved = append(resolved, groupID)
		}
		if len(resolved) == 0 && len(groupNames) > 0 {
			return &UnknownGroupsError{Names: result.MissingGroups}
		}

		occupied, err := s.detector.occupiedSlots(tx, version.ID, resolved)
		if err != nil {
			return err
		}

		now := s.clock().UTC()
		for _, groupID := range resolved {
			if err := retireCurrentCard(tx, version.ID, groupID); err != nil {
				return err
			}
			card := Card{
				ScheduleVersionID: version.ID,
				GroupID:           groupID,
				Status:            CardStatusDraft,
				IsCurrent:         true,
				CreatedBy:         userID,
				CreatedAt:         now,
			}
			if err := tx.Create(&card).Error; err != nil {
				return err
			}
			_, _, err := s.detector.checkAndInsert(tx, card, buildEntries(templateLessons), occupied, true)
			if err != nil {
				return err
			}
			result.CardIDs = append(result.CardIDs, card.ID)
		}

		return s.touchVersion(tx, version.ID)
	})
	if txErr != nil {
		if isDomainError(txErr) {
			return BulkAddResult{}, txErr
		}
		s.logError(opBulkAdd, "bulk_add_failed", txErr,
			zap.Int64("version_id", versionID),
			zap.Int("group_count", len(groupNames)))
		return BulkAddResult{}, newServiceError(opBulkAdd, "bulk_add_failed", txErr)
	}
	return result, nil
}

// BulkDelete removes the cards and their lesson entries in one transaction.
// Cards must belong to the referenced version, which must still be editable.
func (s *Service) BulkDelete(ctx context.Context, cardIDs []int64, versionID int64) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version, err := s.loadVersion(tx, versionID)
		if err != nil {
			return err
		}
		if !version.Editable() {
			return ErrVersionImmutable
		}

		var matched []int64
		err = tx.Model(&Card{}).
			Where("id IN ? AND schedule_version_id = ?", cardIDs, version.ID).
			Pluck("id", &matched).Error
		if err != nil {
			return err
		}
		if len(matched) == 0 {
			return ErrCardNotFound
		}

		// Entries are owned by their card and leave with it.
		if err := tx.Where("card_id IN ?", matched).Delete(&LessonEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id IN ?", matched).Delete(&Card{}).Error; err != nil {
			return err
		}

		return s.touchVersion(tx, version.ID)
	})
	if txErr != nil {
		if isDomainError(txErr) {
			return txErr
		}
		s.logError(opBulkDelete, "bulk_delete_failed", txErr,
			zap.Int64("version_id", versionID),
			zap.Int("card_count", len(cardIDs)))
		return newServiceError(opBulkDelete, "bulk_delete_failed", txErr)
	}
	return nil
}
