package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// requestLog tags every request with a UUIDv7 id and emits one structured
// access-log line after the handler chain completes.
func (h *httpHandler) requestLog(c *gin.Context) {
	requestID := c.GetHeader(requestIDHeader)
	if requestID == "" {
		if generated, err := uuid.NewV7(); err == nil {
			requestID = generated.String()
		}
	}
	c.Header(requestIDHeader, requestID)

	start := time.Now()
	c.Next()

	h.logger.Info("http request",
		zap.String("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("duration", time.Since(start)),
		zap.String("user_id", c.GetString(userIDContextKey)))
}

// authorize validates the bearer token and requires one of the given roles.
func (h *httpHandler) authorize(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header missing or invalid"})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header missing or invalid"})
			return
		}

		claims, err := h.tokens.ValidateToken(token)
		if err != nil {
			h.logger.Warn("token validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		allowed := false
		for _, role := range allowedRoles {
			if claims.Role == role {
				allowed = true
				break
			}
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient_role"})
			return
		}

		c.Set(userIDContextKey, claims.UserID)
		c.Set(roleContextKey, claims.Role)
		c.Next()
	}
}
