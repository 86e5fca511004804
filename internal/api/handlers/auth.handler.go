// internal/api/handlers/auth.handler.go
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/security"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

// SessionCookieName carries the raw session ID for browser consoles that do
// not manage the Authorization header themselves.
const SessionCookieName = "ldap_admin_session"

// AuthHandler serves login, logout and the caller's own identity.
type AuthHandler struct {
	manager *security.Manager
	logger  logger.Logger
}

func NewAuthHandler(manager *security.Manager, logger logger.Logger) *AuthHandler {
	return &AuthHandler{
		manager: manager,
		logger:  logger,
	}
}

// Login handles POST /api/v1/auth/login
// Credentials go to the built-in accounts first, then every enabled plugin.
// Success creates a server-side session and mints a JWT carrying its ID.
func (h *AuthHandler) Login(c *gin.Context) {
	var creds security.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid request body",
		})
		return
	}

	result, err := h.manager.Authenticate(c.Request.Context(), creds)
	if err != nil {
		if errors.Is(err, security.ErrTOTPRequired) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":        "error",
				"error":         "One-time code required",
				"totp_required": true,
			})
			return
		}
		if errors.Is(err, security.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  "Invalid credentials",
			})
			return
		}
		h.logger.Error("Login failed", "login", creds.Login, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Authentication failed",
		})
		return
	}

	session, err := h.manager.CreateSession(c.Request.Context(), result, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		h.logger.Error("Failed to create session", "principal", result.Principal.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to create session",
		})
		return
	}

	token, expiresAt, err := h.manager.IssueToken(session)
	if err != nil {
		h.logger.Error("Failed to issue token", "principal", result.Principal.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to issue token",
		})
		return
	}

	c.SetCookie(SessionCookieName, session.ID, int(time.Until(expiresAt).Seconds()), "/", "", false, true)

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"token":                   token,
			"expires_at":              expiresAt,
			"session_id":              session.ID,
			"principal":               result.Principal,
			"plugin":                  result.Plugin,
			"roles":                   result.Roles,
			"require_password_change": result.RequirePasswordChange,
		},
	})
}

// Logout handles POST /api/v1/auth/logout
// Revokes the caller's server-side session, which also invalidates every JWT
// referencing it.
func (h *AuthHandler) Logout(c *gin.Context) {
	sessionID := c.GetString("session_id")
	if sessionID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"status": "error",
			"error":  "Authentication required",
		})
		return
	}

	if err := h.manager.RevokeSession(c.Request.Context(), sessionID); err != nil {
		h.logger.Warn("Failed to revoke session on logout", "session_id", sessionID, "error", err)
	}
	c.SetCookie(SessionCookieName, "", -1, "/", "", false, true)

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Logged out",
	})
}

// Me handles GET /api/v1/auth/me
// The caller's identity: resolved principal, roles and session metadata.
func (h *AuthHandler) Me(c *gin.Context) {
	value, exists := c.Get("session")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{
			"status": "error",
			"error":  "Authentication required",
		})
		return
	}
	session := value.(*models.UserSession)

	// A dead directory should not lock its users out of their own session
	// info; the principal simply comes back unresolved.
	var principal *models.Principal
	if p, err := h.manager.GetPrincipal(c.Request.Context(), session.PrincipalID); err == nil {
		principal = p
	} else {
		h.logger.Warn("Failed to resolve caller principal", "principal", session.PrincipalID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"principal_id": session.PrincipalID,
			"principal":    principal,
			"plugin":       session.Plugin,
			"roles":        session.Roles,
			"session": gin.H{
				"id":            session.ID,
				"created_at":    session.CreatedAt,
				"last_activity": session.LastActivity,
				"ip_address":    session.IPAddress,
				"user_agent":    session.UserAgent,
			},
		},
	})
}

// ChangePasswordRequest rotates the caller's local-account password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// ChangePassword handles POST /api/v1/auth/change-password
// Only built-in accounts carry a password here; directory users change
// theirs against the directory.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid request body",
		})
		return
	}

	principalID := c.GetString("principal_id")
	login, ok := localLogin(principalID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Password change is only available for built-in accounts",
		})
		return
	}

	if err := h.manager.ChangePassword(c.Request.Context(), login, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, security.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  "Current password is incorrect",
			})
			return
		}
		if strings.Contains(err.Error(), "at least") {
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}
		h.logger.Error("Failed to change password", "login", login, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to change password",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Password changed",
	})
}

// localLogin cuts the login out of a built-in principal ID.
func localLogin(principalID string) (string, bool) {
	prefix, login, ok := strings.Cut(principalID, ":")
	if !ok || prefix != security.LocalPluginName || login == "" {
		return "", false
	}
	return login, true
}
