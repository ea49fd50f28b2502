package timetable

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PreCommitResult reports whether a version may become the building's active
// schedule. Exactly one of the three shapes is populated: Ready, the missing
// group ids, or the id of the version that is currently committed and must be
// explicitly replaced.
type PreCommitResult struct {
	Ready                   bool
	MissingGroupIDs         []int64
	ExistingActiveVersionID int64
}

// VersionFilter narrows and pages a version listing.
type VersionFilter struct {
	Status       *VersionStatus
	Kind         *VersionKind
	IsCommitted  *bool
	ScheduleDate *time.Time
	DateSortDesc bool
	Limit        int
	Offset       int
}

// CreateVersion opens a new pending, uncommitted schedule version. Date is
// nil for the recurring standard template.
func (s *Service) CreateVersion(ctx context.Context, buildingID int64, date *time.Time, kind VersionKind, userID string) (int64, error) {
	version := ScheduleVersion{
		BuildingID:     buildingID,
		ScheduleDate:   date,
		Kind:           kind,
		Status:         VersionStatusPending,
		IsCommitted:    false,
		CreatedBy:      userID,
		LastModifiedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&version).Error; err != nil {
		s.logError(opCreateVersion, "insert_failed", err, zap.Int64("building_id", buildingID))
		return 0, newServiceError(opCreateVersion, "insert_failed", err)
	}
	return version.ID, nil
}

// PreCommitCheck verifies the version covers every active group of its
// building and reports whether another version of the same kind is already
// committed. The same completeness check is re-run inside the commit
// transaction, so a group activated between check and commit cannot slip
// through.
func (s *Service) PreCommitCheck(ctx context.Context, versionID int64) (PreCommitResult, error) {
	var result PreCommitResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version, err := s.loadVersion(tx, versionID)
		if err != nil {
			return err
		}

		missing, err := s.missingGroups(ctx, tx, version)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			result = PreCommitResult{MissingGroupIDs: missing}
			return nil
		}

		activeID, err := s.committedVersionID(tx, version.BuildingID, version.Kind, version.ID)
		if err != nil {
			return err
		}
		if activeID != 0 {
			result = PreCommitResult{ExistingActiveVersionID: activeID}
			return nil
		}

		result = PreCommitResult{Ready: true}
		return nil
	})
	if txErr != nil {
		if isDomainError(txErr) {
			return PreCommitResult{}, txErr
		}
		s.logError(opPreCommitCheck, "check_failed", txErr, zap.Int64("version_id", versionID))
		return PreCommitResult{}, newServiceError(opPreCommitCheck, "check_failed", txErr)
	}
	return result, nil
}

// Commit atomically makes the pending version the building's active schedule
// of its kind. The target must be the currently committed version of the same
// (building, kind); it is flipped back to pending and uncommitted in the same
// transaction, and both writes succeed or neither does. TargetVersionID zero
// means a first commit, which requires that no version of the same
// (building, kind) is committed yet.
func (s *Service) Commit(ctx context.Context, pendingVersionID, targetVersionID int64) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pending, err := s.loadVersion(tx, pendingVersionID)
		if err != nil {
			return err
		}

		// Re-validate group coverage here: a group activated between the
		// pre-commit check and the commit must still block it.
		missing, err := s.missingGroups(ctx, tx, pending)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return &MissingGroupsError{GroupIDs: missing}
		}

		now := s.clock().UTC()
		if targetVersionID != 0 {
			target, err := s.loadVersion(tx, targetVersionID)
			if err != nil {
				return err
			}
			if target.BuildingID != pending.BuildingID || target.Kind != pending.Kind {
				return ErrVersionNotFound
			}
			if !target.IsCommitted {
				// A stale target: report the version actually holding the
				// committed slot, if any, so the caller can re-confirm.
				activeID, err := s.committedVersionID(tx, pending.BuildingID, pending.Kind, pending.ID)
				if err != nil {
					return err
				}
				if activeID != 0 {
					return ErrActiveVersionExists
				}
				return ErrVersionNotFound
			}
			err = tx.Model(&ScheduleVersion{}).
				Where("id = ?", target.ID).
				Updates(map[string]interface{}{
					"is_committed":     false,
					"status":           VersionStatusPending,
					"last_modified_at": now,
				}).Error
			if err != nil {
				return err
			}
		} else {
			activeID, err := s.committedVersionID(tx, pending.BuildingID, pending.Kind, pending.ID)
			if err != nil {
				return err
			}
			if activeID != 0 {
				return ErrActiveVersionExists
			}
		}

		return tx.Model(&ScheduleVersion{}).
			Where("id = ?", pending.ID).
			Updates(map[string]interface{}{
				"is_committed":     true,
				"status":           VersionStatusAccepted,
				"last_modified_at": now,
			}).Error
	})
	if txErr != nil {
		if isDomainError(txErr) {
			return txErr
		}
		s.logError(opCommit, "commit_failed", txErr,
			zap.Int64("pending_version_id", pendingVersionID),
			zap.Int64("target_version_id", targetVersionID))
		return newServiceError(opCommit, "commit_failed", txErr)
	}
	return nil
}

// SwitchAsPending reverts an uncommitted version to the editable pending
// state. Committed versions must be replaced through Commit instead.
func (s *Service) SwitchAsPending(ctx context.Context, versionID int64) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version, err := s.loadVersion(tx, versionID)
		if err != nil {
			return err
		}
		if version.IsCommitted {
			return ErrVersionImmutable
		}
		return tx.Model(&ScheduleVersion{}).
			Where("id = ?", version.ID).
			Updates(map[string]interface{}{
				"status":           VersionStatusPending,
				"last_modified_at": s.clock().UTC(),
			}).Error
	})
	if txErr != nil {
		if isDomainError(txErr) {
			return txErr
		}
		s.logError(opSwitchAsPending, "update_failed", txErr, zap.Int64("version_id", versionID))
		return newServiceError(opSwitchAsPending, "update_failed", txErr)
	}
	return nil
}

// ListVersions returns the building's versions under the given filter.
func (s *Service) ListVersions(ctx context.Context, buildingID int64, filter VersionFilter) ([]ScheduleVersion, error) {
	query := s.db.WithContext(ctx).Where("building_id = ?", buildingID)
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Kind != nil {
		query = query.Where("kind = ?", *filter.Kind)
	}
	if filter.IsCommitted != nil {
		query = query.Where("is_committed = ?", *filter.IsCommitted)
	}
	if filter.ScheduleDate != nil {
		query = query.Where("schedule_date = ?", *filter.ScheduleDate)
	}
	order := "schedule_date ASC, id ASC"
	if filter.DateSortDesc {
		order = "schedule_date DESC, id DESC"
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var versions []ScheduleVersion
	err := query.Order(order).Limit(limit).Offset(filter.Offset).Find(&versions).Error
	if err != nil {
		s.logError(opListVersions, "query_failed", err, zap.Int64("building_id", buildingID))
		return nil, newServiceError(opListVersions, "query_failed", err)
	}
	return versions, nil
}

// GetVersion loads one version scoped to the caller's building.
func (s *Service) GetVersion(ctx context.Context, versionID, buildingID int64) (ScheduleVersion, error) {
	version, err := s.loadVersion(s.db.WithContext(ctx), versionID)
	if err != nil {
		if isDomainError(err) {
			return ScheduleVersion{}, err
		}
		s.logError(opGetVersion, "query_failed", err, zap.Int64("version_id", versionID))
		return ScheduleVersion{}, newServiceError(opGetVersion, "query_failed", err)
	}
	if version.BuildingID != buildingID {
		return ScheduleVersion{}, ErrVersionNotFound
	}
	return version, nil
}

// ReplaceCandidates lists the committed versions a pending version could
// replace: same building, same kind, currently committed.
func (s *Service) ReplaceCandidates(ctx context.Context, versionID, buildingID int64) ([]ScheduleVersion, error) {
	version, err := s.GetVersion(ctx, versionID, buildingID)
	if err != nil {
		return nil, err
	}

	var candidates []ScheduleVersion
	err = s.db.WithContext(ctx).
		Where("building_id = ? AND kind = ? AND is_committed = ? AND id <> ?",
			version.BuildingID, version.Kind, true, version.ID).
		Order("id DESC").
		Find(&candidates).Error
	if err != nil {
		s.logError(opReplaceCandidates, "query_failed", err, zap.Int64("version_id", versionID))
		return nil, newServiceError(opReplaceCandidates, "query_failed", err)
	}
	return candidates, nil
}

// missingGroups computes the active groups of the version's building that do
// not hold a countable current card (draft or accepted) in the version.
// Edited cards do not count toward coverage: an edit in progress is not a
// publishable state. The group list is read through the caller's transaction.
func (s *Service) missingGroups(ctx context.Context, tx *gorm.DB, version ScheduleVersion) ([]int64, error) {
	active, err := s.refs.WithTx(tx).ActiveGroups(ctx, version.BuildingID)
	if err != nil {
		return nil, err
	}

	var coveredIDs []int64
	err = tx.Model(&Card{}).
		Where("schedule_version_id = ? AND is_current = ? AND status IN ?",
			version.ID, true, []CardStatus{CardStatusAccepted, CardStatusDraft}).
		Pluck("group_id", &coveredIDs).Error
	if err != nil {
		return nil, err
	}

	covered := make(map[int64]struct{}, len(coveredIDs))
	for _, id := range coveredIDs {
		covered[id] = struct{}{}
	}

	missing := make([]int64, 0)
	for _, group := range active {
		if _, ok := covered[group.ID]; !ok {
			missing = append(missing, group.ID)
		}
	}
	return missing, nil
}

// committedVersionID returns the id of the committed version for the
// (building, kind) pair, zero when none exists. The caller's own id is
// excluded so a re-commit of the active version is not reported against
// itself.
func (s *Service) committedVersionID(tx *gorm.DB, buildingID int64, kind VersionKind, excludeID int64) (int64, error) {
	var ids []int64
	err := tx.Model(&ScheduleVersion{}).
		Where("building_id = ? AND kind = ? AND is_committed = ? AND id <> ?", buildingID, kind, true, excludeID).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}
