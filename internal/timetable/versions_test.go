package timetable

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateVersionStartsPendingUncommitted(t *testing.T) {
	service, db := newTestService(t, defaultProvider())

	date := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	versionID, err := service.CreateVersion(context.Background(), 1, &date, VersionKindReplacements, "methodist-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var version ScheduleVersion
	if err := db.Take(&version, versionID).Error; err != nil {
		t.Fatalf("failed to load version: %v", err)
	}
	if version.Status != VersionStatusPending {
		t.Fatalf("expected pending status, got %q", version.Status)
	}
	if version.IsCommitted {
		t.Fatalf("new version must not be committed")
	}
	if version.ScheduleDate == nil || !version.ScheduleDate.Equal(date) {
		t.Fatalf("unexpected schedule date: %v", version.ScheduleDate)
	}
	if version.CreatedBy != "methodist-1" {
		t.Fatalf("expected author methodist-1, got %q", version.CreatedBy)
	}
}

func TestPreCommitCheckReportsMissingGroups(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	versionID := insertVersion(t, db, ScheduleVersion{BuildingID: 1})
	seedCurrentCard(t, db, versionID, 1, [2]int64{1, 7})

	result, err := service.PreCommitCheck(context.Background(), versionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Ready {
		t.Fatalf("expected not ready")
	}
	if len(result.MissingGroupIDs) != 1 || result.MissingGroupIDs[0] != 2 {
		t.Fatalf("expected group 2 missing, got %v", result.MissingGroupIDs)
	}
}

func TestPreCommitCheckEditedCardDoesNotCover(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	versionID := insertVersion(t, db, ScheduleVersion{BuildingID: 1})
	seedCurrentCard(t, db, versionID, 1, [2]int64{1, 7})
	insertCard(t, db, Card{ScheduleVersionID: versionID, GroupID: 2, Status: CardStatusEdited, IsCurrent: true})

	result, err := service.PreCommitCheck(context.Background(), versionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.MissingGroupIDs) != 1 || result.MissingGroupIDs[0] != 2 {
		t.Fatalf("an in-progress edit must not count as coverage, got %v", result.MissingGroupIDs)
	}
}

func TestPreCommitCheckReportsExistingActiveVersion(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	activeID := insertVersion(t, db, ScheduleVersion{BuildingID: 1, Status: VersionStatusAccepted, IsCommitted: true})
	versionID := insertVersion(t, db, ScheduleVersion{BuildingID: 1})
	seedCurrentCard(t, db, versionID, 1, [2]int64{1, 7})
	seedCurrentCard(t, db, versionID, 2, [2]int64{1, 8})

	result, err := service.PreCommitCheck(context.Background(), versionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Ready {
		t.Fatalf("expected not ready while another version is active")
	}
	if result.ExistingActiveVersionID != activeID {
		t.Fatalf("expected active version %d, got %d", activeID, result.ExistingActiveVersionID)
	}
}

func TestPreCommitCheckReady(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	versionID := insertVersion(t, db, ScheduleVersion{BuildingID: 1})
	seedCurrentCard(t, db, versionID, 1, [2]int64{1, 7})
	seedCurrentCard(t, db, versionID, 2, [2]int64{1, 8})

	result, err := service.PreCommitCheck(context.Background(), versionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Ready {
		t.Fatalf("expected ready, got %+v", result)
	}

	if _, err := service.PreCommitCheck(context.Background(), 99999); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected version not found, got %v", err)
	}
}

func TestCommitSwapsActiveVersion(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	targetID := insertVersion(t, db, ScheduleVersion{BuildingID: 1, Status: VersionStatusAccepted, IsCommitted: true})
	pendingID := insertVersion(t, db, ScheduleVersion{BuildingID: 1})
	seedCurrentCard(t, db, pendingID, 1, [2]int64{1, 7})
	seedCurrentCard(t, db, pendingID, 2, [2]int64{1, 8})

	if err := service.Commit(context.Background(), pendingID, targetID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var committed, replaced ScheduleVersion
	if err := db.Take(&committed, pendingID).Error; err != nil {
		t.Fatalf("failed to load committed version: %v", err)
	}
	if err := db.Take(&replaced, targetID).Error; err != nil {
		t.Fatalf("failed to load replaced version: %v", err)
	}
	if !committed.IsCommitted || committed.Status != VersionStatusAccepted {
		t.Fatalf("pending version should be committed and accepted, got %+v", committed)
	}
	if replaced.IsCommitted || replaced.Status != VersionStatusPending {
		t.Fatalf("replaced version should be uncommitted and pending, got %+v", replaced)
	}
}

func TestCommitRevalidatesGroupCoverage(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	pendingID := insertVersion(t, db, ScheduleVersion{BuildingID: 1})
	seedCurrentCard(t, db, pendingID, 1, [2]int64{1, 7})

	err := service.Commit(context.Background(), pendingID, 0)
	var missing *MissingGroupsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing groups error, got %v", err)
	}
	if len(missing.GroupIDs) != 1 || missing.GroupIDs[0] != 2 {
		t.Fatalf("expected group 2 missing, got %v", missing.GroupIDs)
	}

	var version ScheduleVersion
	if err := db.Take(&version, pendingID).Error; err != nil {
		t.Fatalf("failed to load version: %v", err)
	}
	if version.IsCommitted {
		t.Fatalf("rejected commit must leave the version uncommitted")
	}
}

func TestCommitFirstRequiresNoActiveVersion(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	insertVersion(t, db, ScheduleVersion{BuildingID: 1, Status: VersionStatusAccepted, IsCommitted: true})
	pendingID := insertVersion(t, db, ScheduleVersion{BuildingID: 1})
	seedCurrentCard(t, db, pendingID, 1, [2]int64{1, 7})
	seedCurrentCard(t, db, pendingID, 2, [2]int64{1, 8})

	if err := service.Commit(context.Background(), pendingID, 0); !errors.Is(err, ErrActiveVersionExists) {
		t.Fatalf("expected active version exists error, got %v", err)
	}
}

func TestCommitFirstVersion(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	pendingID := insertVersion(t, db, ScheduleVersion{BuildingID: 1})
	seedCurrentCard(t, db, pendingID, 1, [2]int64{1, 7})
	seedCurrentCard(t, db, pendingID, 2, [2]int64{1, 8})

	if err := service.Commit(context.Background(), pendingID, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var version ScheduleVersion
	if err := db.Take(&version, pendingID).Error; err != nil {
		t.Fatalf("failed to load version: %v", err)
	}
	if !version.IsCommitted || version.Status != VersionStatusAccepted {
		t.Fatalf("expected committed accepted version, got %+v", version)
	}
}

func TestCommitRejectsForeignTarget(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	foreignTarget := insertVersion(t, db, ScheduleVersion{BuildingID: 2, Status: VersionStatusAccepted, IsCommitted: true})
	pendingID := insertVersion(t, db, ScheduleVersion{BuildingID: 1})
	seedCurrentCard(t, db, pendingID, 1, [2]int64{1, 7})
	seedCurrentCard(t, db, pendingID, 2, [2]int64{1, 8})

	if err := service.Commit(context.Background(), pendingID, foreignTarget); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected version not found for foreign target, got %v", err)
	}
}

func TestCommitRejectsUncommittedTarget(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	committedID := insertVersion(t, db, ScheduleVersion{BuildingID: 1, Status: VersionStatusAccepted, IsCommitted: true})
	staleTarget := insertVersion(t, db, ScheduleVersion{BuildingID: 1})
	pendingID := insertVersion(t, db, ScheduleVersion{BuildingID: 1})
	seedCurrentCard(t, db, pendingID, 1, [2]int64{1, 7})
	seedCurrentCard(t, db, pendingID, 2, [2]int64{1, 8})

	if err := service.Commit(context.Background(), pendingID, staleTarget); !errors.Is(err, ErrActiveVersionExists) {
		t.Fatalf("expected active version exists for stale target, got %v", err)
	}

	var active, pending ScheduleVersion
	if err := db.Take(&active, committedID).Error; err != nil {
		t.Fatalf("failed to load active version: %v", err)
	}
	if err := db.Take(&pending, pendingID).Error; err != nil {
		t.Fatalf("failed to load pending version: %v", err)
	}
	if !active.IsCommitted {
		t.Fatalf("rejected commit must leave the active version committed")
	}
	if pending.IsCommitted {
		t.Fatalf("rejected commit must leave the pending version uncommitted")
	}

	// With nothing committed, an uncommitted target is simply not a valid
	// replacement.
	err := db.Model(&ScheduleVersion{}).
		Where("id = ?", committedID).
		Updates(map[string]interface{}{"is_committed": false, "status": VersionStatusPending}).Error
	if err != nil {
		t.Fatalf("failed to uncommit version: %v", err)
	}
	if err := service.Commit(context.Background(), pendingID, staleTarget); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected version not found for stale target, got %v", err)
	}
}

func TestSwitchAsPending(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	versionID := insertVersion(t, db, ScheduleVersion{BuildingID: 1, Status: VersionStatusAccepted})

	if err := service.SwitchAsPending(context.Background(), versionID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var version ScheduleVersion
	if err := db.Take(&version, versionID).Error; err != nil {
		t.Fatalf("failed to load version: %v", err)
	}
	if version.Status != VersionStatusPending {
		t.Fatalf("expected pending status, got %q", version.Status)
	}

	committedID := insertVersion(t, db, ScheduleVersion{BuildingID: 1, Status: VersionStatusAccepted, IsCommitted: true})
	if err := service.SwitchAsPending(context.Background(), committedID); !errors.Is(err, ErrVersionImmutable) {
		t.Fatalf("expected immutable error for committed version, got %v", err)
	}
}

func TestListVersionsFilters(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	earlier := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	later := time.Date(2026, time.September, 2, 0, 0, 0, 0, time.UTC)
	standardID := insertVersion(t, db, ScheduleVersion{BuildingID: 1, Kind: VersionKindStandard, Status: VersionStatusAccepted, IsCommitted: true})
	earlierID := insertVersion(t, db, ScheduleVersion{BuildingID: 1, ScheduleDate: &earlier})
	laterID := insertVersion(t, db, ScheduleVersion{BuildingID: 1, ScheduleDate: &later})
	insertVersion(t, db, ScheduleVersion{BuildingID: 2, ScheduleDate: &later})

	kind := VersionKindReplacements
	versions, err := service.ListVersions(context.Background(), 1, VersionFilter{Kind: &kind, DateSortDesc: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 replacement versions, got %d", len(versions))
	}
	if versions[0].ID != laterID || versions[1].ID != earlierID {
		t.Fatalf("expected descending date order, got %d then %d", versions[0].ID, versions[1].ID)
	}

	committed := true
	versions, err = service.ListVersions(context.Background(), 1, VersionFilter{IsCommitted: &committed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(versions) != 1 || versions[0].ID != standardID {
		t.Fatalf("expected only the committed standard version, got %v", versions)
	}
}

func TestGetVersionScopedToBuilding(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	versionID := insertVersion(t, db, ScheduleVersion{BuildingID: 1})

	version, err := service.GetVersion(context.Background(), versionID, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version.ID != versionID {
		t.Fatalf("expected version %d, got %d", versionID, version.ID)
	}

	if _, err := service.GetVersion(context.Background(), versionID, 2); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected version not found for another building, got %v", err)
	}
}

func TestReplaceCandidates(t *testing.T) {
	service, db := newTestService(t, defaultProvider())
	committedID := insertVersion(t, db, ScheduleVersion{BuildingID: 1, Status: VersionStatusAccepted, IsCommitted: true})
	insertVersion(t, db, ScheduleVersion{BuildingID: 1, Kind: VersionKindStandard, Status: VersionStatusAccepted, IsCommitted: true})
	pendingID := insertVersion(t, db, ScheduleVersion{BuildingID: 1})

	candidates, err := service.ReplaceCandidates(context.Background(), pendingID, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != committedID {
		t.Fatalf("expected the committed same-kind version, got %v", candidates)
	}
}
