package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/ldap-admin/internal/security"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

// SessionHandler serves the admin view over server-side sessions.
type SessionHandler struct {
	manager *security.Manager
	logger  logger.Logger
}

func NewSessionHandler(manager *security.Manager, logger logger.Logger) *SessionHandler {
	return &SessionHandler{manager: manager, logger: logger}
}

// ListActiveSessions handles GET /api/v1/auth/sessions
// Every session currently alive in the store, for the admin console.
func (h *SessionHandler) ListActiveSessions(c *gin.Context) {
	sessions, err := h.manager.ActiveSessions(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list active sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to list active sessions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"sessions": sessions,
			"total":    len(sessions),
		},
	})
}

// RevokeSession handles DELETE /api/v1/auth/sessions/{id}
// Kills the session server-side; JWTs referencing it die with it.
func (h *SessionHandler) RevokeSession(c *gin.Context) {
	id := c.Param("id")

	if err := h.manager.RevokeSession(c.Request.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, gin.H{
				"status": "error",
				"error":  "Session not found",
			})
			return
		}
		h.logger.Error("Failed to revoke session", "session_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to revoke session",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Session revoked",
	})
}
