package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/metodist-lab/timetable/internal/timetable"
)

const dateLayout = "2006-01-02"

type lessonInputPayload struct {
	Position     int    `json:"position"`
	DisciplineID int64  `json:"discipline_id"`
	TeacherID    int64  `json:"teacher_id"`
	Room         string `json:"room"`
	Weekday      *int   `json:"weekday,omitempty"`
	IsForce      bool   `json:"is_force"`
}

type lessonViewPayload struct {
	Position        int    `json:"position"`
	DisciplineID    int64  `json:"discipline_id"`
	DisciplineTitle string `json:"discipline_title"`
	TeacherID       int64  `json:"teacher_id"`
	TeacherName     string `json:"teacher_name"`
	Room            string `json:"room"`
	Weekday         *int   `json:"weekday,omitempty"`
	IsForce         bool   `json:"is_force"`
}

type versionPayload struct {
	ID             int64   `json:"id"`
	BuildingID     int64   `json:"building_id"`
	ScheduleDate   *string `json:"schedule_date"`
	Kind           string  `json:"kind"`
	Status         string  `json:"status"`
	IsCommitted    bool    `json:"is_committed"`
	CreatedBy      string  `json:"created_by"`
	LastModifiedAt string  `json:"last_modified_at"`
}

func toLessonInputs(payloads []lessonInputPayload) []timetable.LessonInput {
	lessons := make([]timetable.LessonInput, 0, len(payloads))
	for _, p := range payloads {
		lessons = append(lessons, timetable.LessonInput{
			Position:     p.Position,
			DisciplineID: p.DisciplineID,
			TeacherID:    p.TeacherID,
			Room:         p.Room,
			Weekday:      p.Weekday,
			IsForce:      p.IsForce,
		})
	}
	return lessons
}

func toLessonViewPayloads(views []timetable.LessonView) []lessonViewPayload {
	payloads := make([]lessonViewPayload, 0, len(views))
	for _, view := range views {
		payloads = append(payloads, lessonViewPayload{
			Position:        view.Position,
			DisciplineID:    view.DisciplineID,
			DisciplineTitle: view.DisciplineTitle,
			TeacherID:       view.TeacherID,
			TeacherName:     view.TeacherName,
			Room:            view.Room,
			Weekday:         view.Weekday,
			IsForce:         view.IsForce,
		})
	}
	return payloads
}

func toVersionPayload(version timetable.ScheduleVersion) versionPayload {
	payload := versionPayload{
		ID:             version.ID,
		BuildingID:     version.BuildingID,
		Kind:           string(version.Kind),
		Status:         string(version.Status),
		IsCommitted:    version.IsCommitted,
		CreatedBy:      version.CreatedBy,
		LastModifiedAt: version.LastModifiedAt.UTC().Format(time.RFC3339),
	}
	if version.ScheduleDate != nil {
		formatted := version.ScheduleDate.Format(dateLayout)
		payload.ScheduleDate = &formatted
	}
	return payload
}

type createVersionPayload struct {
	BuildingID   int64   `json:"building_id"`
	ScheduleDate *string `json:"schedule_date"`
	Kind         string  `json:"kind"`
}

func (h *httpHandler) handleCreateVersion(c *gin.Context) {
	var request createVersionPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.BuildingID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	kind, err := timetable.ParseVersionKind(request.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}

	var date *time.Time
	if request.ScheduleDate != nil && *request.ScheduleDate != "" {
		parsed, err := time.Parse(dateLayout, *request.ScheduleDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date"})
			return
		}
		date = &parsed
	}

	versionID, err := h.engine.CreateVersion(c.Request.Context(), request.BuildingID, date, kind, c.GetString(userIDContextKey))
	if err != nil {
		h.writeError(c, "create_version", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "version_id": versionID})
}

type versionIDPayload struct {
	VersionID int64 `json:"version_id"`
}

func (h *httpHandler) handlePreCommit(c *gin.Context) {
	var request versionIDPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.VersionID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.engine.PreCommitCheck(c.Request.Context(), request.VersionID)
	if err != nil {
		h.writeError(c, "pre_commit_check", err)
		return
	}

	switch {
	case result.Ready:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case len(result.MissingGroupIDs) > 0:
		c.JSON(http.StatusConflict, gin.H{
			"success":       false,
			"version_id":    request.VersionID,
			"needed_groups": result.MissingGroupIDs,
		})
	default:
		// A committed version already exists; the caller must confirm the
		// replacement through an explicit commit against it.
		c.JSON(http.StatusAccepted, gin.H{
			"success":           false,
			"version_id":        request.VersionID,
			"active_version_id": result.ExistingActiveVersionID,
		})
	}
}

type commitPayload struct {
	PendingVersionID int64 `json:"pending_version_id"`
	TargetVersionID  int64 `json:"target_version_id"`
}

func (h *httpHandler) handleCommit(c *gin.Context) {
	var request commitPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.PendingVersionID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.engine.Commit(c.Request.Context(), request.PendingVersionID, request.TargetVersionID)
	if err != nil {
		h.writeError(c, "commit", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleSwitchAsPending(c *gin.Context) {
	var request versionIDPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.VersionID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.engine.SwitchAsPending(c.Request.Context(), request.VersionID); err != nil {
		h.writeError(c, "switch_as_pending", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type projectPayload struct {
	BuildingID int64 `json:"building_id"`
	Weekday    int   `json:"weekday"`
	VersionID  int64 `json:"version_id"`
}

func (h *httpHandler) handleProjectWeekday(c *gin.Context) {
	var request projectPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.BuildingID == 0 || request.VersionID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	weekday, err := timetable.NewWeekday(request.Weekday)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_weekday"})
		return
	}

	lessons, err := h.engine.ProjectWeekday(c.Request.Context(), request.BuildingID, weekday, request.VersionID, c.GetString(userIDContextKey))
	if err != nil {
		var conflict *timetable.ConflictError
		if errors.As(err, &conflict) {
			c.JSON(http.StatusConflict, gin.H{
				"success":   false,
				"conflicts": conflictPairs(conflict.Report),
			})
			return
		}
		h.writeError(c, "project_weekday", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "lessons": toLessonViewPayloads(lessons)})
}

type saveCardPayload struct {
	CardID    int64                `json:"card_id"`
	VersionID int64                `json:"version_id"`
	Lessons   []lessonInputPayload `json:"lessons"`
}

func (h *httpHandler) handleSaveCard(c *gin.Context) {
	var request saveCardPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.CardID == 0 || request.VersionID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	newCardID, err := h.engine.SaveCard(c.Request.Context(), request.CardID, request.VersionID,
		c.GetString(userIDContextKey), toLessonInputs(request.Lessons))
	if err != nil {
		var conflict *timetable.ConflictError
		if errors.As(err, &conflict) {
			// A double-booked save is a business outcome, not a transport
			// failure: report the offending pairs with a 200.
			c.JSON(http.StatusOK, gin.H{
				"success":     false,
				"conflicts":   conflictPairs(conflict.Report),
				"description": "teacher already has a group at this slot",
			})
			return
		}
		h.writeError(c, "save_card", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "new_card_id": newCardID})
}

type cardIDPayload struct {
	CardID int64 `json:"card_id"`
}

func (h *httpHandler) handleAcceptCard(c *gin.Context) {
	var request cardIDPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.CardID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.engine.AcceptCard(c.Request.Context(), request.CardID); err != nil {
		h.writeError(c, "accept_card", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleSwitchAsEdit(c *gin.Context) {
	var request cardIDPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.CardID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.engine.SwitchAsEdit(c.Request.Context(), request.CardID); err != nil {
		h.writeError(c, "switch_as_edit", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type bulkAddPayload struct {
	VersionID  int64                `json:"version_id"`
	GroupNames []string             `json:"group_names"`
	Lessons    []lessonInputPayload `json:"lessons"`
}

func (h *httpHandler) handleBulkAdd(c *gin.Context) {
	var request bulkAddPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.VersionID == 0 || len(request.GroupNames) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.engine.BulkAdd(c.Request.Context(), request.VersionID,
		c.GetString(userIDContextKey), request.GroupNames, toLessonInputs(request.Lessons))
	if err != nil {
		h.writeError(c, "bulk_add", err)
		return
	}

	response := gin.H{"success": true, "cards_ids": result.CardIDs}
	if len(result.MissingGroups) > 0 {
		response["missing_groups"] = result.MissingGroups
	}
	c.JSON(http.StatusOK, response)
}

type bulkDeletePayload struct {
	VersionID int64   `json:"version_id"`
	CardIDs   []int64 `json:"card_ids"`
}

func (h *httpHandler) handleBulkDelete(c *gin.Context) {
	var request bulkDeletePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.VersionID == 0 || len(request.CardIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.engine.BulkDelete(c.Request.Context(), request.CardIDs, request.VersionID); err != nil {
		h.writeError(c, "bulk_delete", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleListVersions(c *gin.Context) {
	buildingID, ok := queryInt64(c, "building_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_building_id"})
		return
	}

	var filter timetable.VersionFilter
	if raw := c.Query("status"); raw != "" {
		status := timetable.VersionStatus(raw)
		filter.Status = &status
	}
	if raw := c.Query("kind"); raw != "" {
		kind, err := timetable.ParseVersionKind(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
			return
		}
		filter.Kind = &kind
	}
	if raw := c.Query("committed"); raw != "" {
		committed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_committed"})
			return
		}
		filter.IsCommitted = &committed
	}
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date"})
			return
		}
		filter.ScheduleDate = &parsed
	}
	filter.DateSortDesc = c.Query("date_sort") == "desc"
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			filter.Limit = limit
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			filter.Offset = offset
		}
	}

	versions, err := h.engine.ListVersions(c.Request.Context(), buildingID, filter)
	if err != nil {
		h.writeError(c, "list_versions", err)
		return
	}

	payloads := make([]versionPayload, 0, len(versions))
	for _, version := range versions {
		payloads = append(payloads, toVersionPayload(version))
	}
	c.JSON(http.StatusOK, gin.H{"versions": payloads})
}

func (h *httpHandler) handleGetVersion(c *gin.Context) {
	versionID, ok := paramInt64(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version_id"})
		return
	}
	buildingID, ok := queryInt64(c, "building_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_building_id"})
		return
	}

	version, err := h.engine.GetVersion(c.Request.Context(), versionID, buildingID)
	if err != nil {
		h.writeError(c, "get_version", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": toVersionPayload(version)})
}

func (h *httpHandler) handleReplaceCandidates(c *gin.Context) {
	versionID, ok := paramInt64(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version_id"})
		return
	}
	buildingID, ok := queryInt64(c, "building_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_building_id"})
		return
	}

	candidates, err := h.engine.ReplaceCandidates(c.Request.Context(), versionID, buildingID)
	if err != nil {
		h.writeError(c, "replace_candidates", err)
		return
	}

	payloads := make([]versionPayload, 0, len(candidates))
	for _, candidate := range candidates {
		payloads = append(payloads, toVersionPayload(candidate))
	}
	c.JSON(http.StatusOK, gin.H{"candidates": payloads})
}

func (h *httpHandler) handleTemplateDrift(c *gin.Context) {
	versionID, ok := paramInt64(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version_id"})
		return
	}

	report, err := h.engine.TemplateDrift(c.Request.Context(), versionID)
	if err != nil {
		h.writeError(c, "template_drift", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"diff_groups":      emptyIfNil(report.GroupIDs),
		"diff_teachers":    emptyIfNil(report.TeacherIDs),
		"diff_disciplines": emptyIfNil(report.DisciplineIDs),
	})
}

func (h *httpHandler) handleCurrentCards(c *gin.Context) {
	versionID, ok := queryInt64(c, "version_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version_id"})
		return
	}

	cards, err := h.engine.CurrentCards(c.Request.Context(), versionID)
	if err != nil {
		h.writeError(c, "current_cards", err)
		return
	}

	type cardPayload struct {
		CardID    int64               `json:"card_id"`
		GroupID   int64               `json:"group_id"`
		GroupName string              `json:"group_name"`
		Status    string              `json:"status"`
		Lessons   []lessonViewPayload `json:"lessons"`
	}
	payloads := make([]cardPayload, 0, len(cards))
	for _, card := range cards {
		payloads = append(payloads, cardPayload{
			CardID:    card.CardID,
			GroupID:   card.GroupID,
			GroupName: card.GroupName,
			Status:    string(card.Status),
			Lessons:   toLessonViewPayloads(card.Lessons),
		})
	}
	c.JSON(http.StatusOK, gin.H{"cards": payloads})
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	versionID, ok := queryInt64(c, "version_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version_id"})
		return
	}
	groupID, ok := queryInt64(c, "group_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_group_id"})
		return
	}

	history, err := h.engine.History(c.Request.Context(), versionID, groupID)
	if err != nil {
		h.writeError(c, "history", err)
		return
	}

	type historyPayload struct {
		CardID      int64  `json:"card_id"`
		Status      string `json:"status"`
		IsCurrent   bool   `json:"is_current"`
		CreatedBy   string `json:"created_by"`
		CreatedAt   string `json:"created_at"`
		LessonCount int64  `json:"lesson_count"`
	}
	payloads := make([]historyPayload, 0, len(history))
	for _, row := range history {
		payloads = append(payloads, historyPayload{
			CardID:      row.CardID,
			Status:      string(row.Status),
			IsCurrent:   row.IsCurrent,
			CreatedBy:   row.CreatedBy,
			CreatedAt:   row.CreatedAt.UTC().Format(time.RFC3339),
			LessonCount: row.LessonCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": payloads})
}

func (h *httpHandler) handleContent(c *gin.Context) {
	cardID, ok := queryInt64(c, "card_id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_card_id"})
		return
	}

	lessons, err := h.engine.Content(c.Request.Context(), cardID)
	if err != nil {
		h.writeError(c, "content", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"card_content": toLessonViewPayloads(lessons)})
}

type conflictPairPayload struct {
	Position  int   `json:"position"`
	TeacherID int64 `json:"teacher_id"`
}

func conflictPairs(report timetable.ConflictReport) []conflictPairPayload {
	pairs := make([]conflictPairPayload, 0, len(report.Pairs))
	for _, pair := range report.Pairs {
		pairs = append(pairs, conflictPairPayload{Position: pair.Position, TeacherID: pair.TeacherID})
	}
	return pairs
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	value, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

func paramInt64(c *gin.Context, name string) (int64, bool) {
	value, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

func emptyIfNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
