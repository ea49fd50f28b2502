package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/metodist-lab/timetable/internal/auth"
	"github.com/metodist-lab/timetable/internal/timetable"
)

const (
	userIDContextKey = "timetable_user_id"
	roleContextKey   = "timetable_role"
)

var (
	errMissingTimetableService = errors.New("timetable service dependency required")
	errMissingTokenValidator   = errors.New("token validator dependency required")
)

// TokenValidator checks bearer tokens and returns the caller's claims.
type TokenValidator interface {
	ValidateToken(token string) (auth.Claims, error)
}

// Dependencies wires the HTTP layer to the engine.
type Dependencies struct {
	Timetable *timetable.Service
	Tokens    TokenValidator
	Logger    *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the engine's command surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Timetable == nil {
		return nil, errMissingTimetableService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		engine: deps.Timetable,
		tokens: deps.Tokens,
		logger: logger,
	}
	router.Use(handler.requestLog)

	api := router.Group("/api/v1")

	edit := api.Group("/")
	edit.Use(handler.authorize(auth.RoleMethodist))
	edit.POST("/versions", handler.handleCreateVersion)
	edit.PUT("/versions/pre-commit", handler.handlePreCommit)
	edit.PUT("/versions/commit", handler.handleCommit)
	edit.PUT("/versions/switch-as-pending", handler.handleSwitchAsPending)
	edit.POST("/versions/project", handler.handleProjectWeekday)
	edit.POST("/cards/save", handler.handleSaveCard)
	edit.PUT("/cards/accept", handler.handleAcceptCard)
	edit.PUT("/cards/switch-as-edit", handler.handleSwitchAsEdit)
	edit.POST("/cards/bulk-add", handler.handleBulkAdd)
	edit.POST("/cards/bulk-delete", handler.handleBulkDelete)

	read := api.Group("/")
	read.Use(handler.authorize(auth.RoleMethodist, auth.RoleReadAll))
	read.GET("/versions", handler.handleListVersions)
	read.GET("/versions/:id", handler.handleGetVersion)
	read.GET("/versions/:id/replace-candidates", handler.handleReplaceCandidates)
	read.GET("/versions/:id/template-drift", handler.handleTemplateDrift)
	read.GET("/cards/current", handler.handleCurrentCards)
	read.GET("/cards/history", handler.handleHistory)
	read.GET("/cards/content", handler.handleContent)

	return router, nil
}

type httpHandler struct {
	engine *timetable.Service
	tokens TokenValidator
	logger *zap.Logger
}

// writeDomainError maps an engine outcome onto an HTTP response and reports
// whether it did. Unmapped errors are the caller's to handle as 500s.
func (h *httpHandler) writeDomainError(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, timetable.ErrVersionNotFound), errors.Is(err, timetable.ErrCardNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return true
	case errors.Is(err, timetable.ErrVersionImmutable):
		c.JSON(http.StatusForbidden, gin.H{
			"error":       "version_immutable",
			"description": "schedule version is already committed, editing is forbidden",
		})
		return true
	case errors.Is(err, timetable.ErrDuplicateAccepted):
		c.JSON(http.StatusConflict, gin.H{
			"error":       "duplicate_accepted",
			"description": "group already has an accepted card in this version",
		})
		return true
	case errors.Is(err, timetable.ErrActiveVersionExists):
		c.JSON(http.StatusConflict, gin.H{"error": "active_version_exists"})
		return true
	}

	var insufficient *timetable.InsufficientLessonsError
	if errors.As(err, &insufficient) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "insufficient_lessons",
			"have":  insufficient.Have,
			"min":   insufficient.Min,
		})
		return true
	}
	var missing *timetable.MissingGroupsError
	if errors.As(err, &missing) {
		c.JSON(http.StatusConflict, gin.H{
			"error":         "missing_groups",
			"needed_groups": missing.GroupIDs,
		})
		return true
	}
	var unknown *timetable.UnknownGroupsError
	if errors.As(err, &unknown) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":          "unknown_groups",
			"missing_groups": unknown.Names,
		})
		return true
	}
	return false
}

func (h *httpHandler) writeInternalError(c *gin.Context, operation string, err error) {
	h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	var serviceErr *timetable.ServiceError
	if errors.As(err, &serviceErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"code": serviceErr.Code()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func (h *httpHandler) writeError(c *gin.Context, operation string, err error) {
	if h.writeDomainError(c, err) {
		return
	}
	h.writeInternalError(c, operation, err)
}
