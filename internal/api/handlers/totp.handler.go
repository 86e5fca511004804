package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/ldap-admin/internal/security"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

// TOTPHandler serves the second-factor enrollment flow for the caller's own
// built-in account. Directory users never reach these routes usefully: their
// second factor belongs to the directory, not to this service.
type TOTPHandler struct {
	manager *security.Manager
	logger  logger.Logger
}

func NewTOTPHandler(manager *security.Manager, logger logger.Logger) *TOTPHandler {
	return &TOTPHandler{manager: manager, logger: logger}
}

// TOTPCodeRequest carries the one-time code proving authenticator
// possession.
type TOTPCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// Setup handles POST /api/v1/auth/totp/setup
// Generates a fresh secret plus backup codes. Enforcement stays off until
// Verify confirms a code from the enrolled authenticator.
func (h *TOTPHandler) Setup(c *gin.Context) {
	login, ok := h.callerLogin(c)
	if !ok {
		return
	}

	setup, err := h.manager.SetupTOTP(c.Request.Context(), login)
	if err != nil {
		h.logger.Error("TOTP setup failed", "login", login, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to set up TOTP",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   setup,
	})
}

// Verify handles POST /api/v1/auth/totp/verify
// Confirms the pending secret and switches enforcement on.
func (h *TOTPHandler) Verify(c *gin.Context) {
	login, ok := h.callerLogin(c)
	if !ok {
		return
	}

	var req TOTPCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid request body",
		})
		return
	}

	if err := h.manager.ConfirmTOTP(c.Request.Context(), login, req.Code); err != nil {
		h.respondTOTPError(c, err, login, "Failed to enable TOTP")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "TOTP enabled",
	})
}

// Disable handles POST /api/v1/auth/totp/disable
// Requires a current code or an unused backup code.
func (h *TOTPHandler) Disable(c *gin.Context) {
	login, ok := h.callerLogin(c)
	if !ok {
		return
	}

	var req TOTPCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid request body",
		})
		return
	}

	if err := h.manager.DisableTOTP(c.Request.Context(), login, req.Code); err != nil {
		h.respondTOTPError(c, err, login, "Failed to disable TOTP")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "TOTP disabled",
	})
}

// RegenerateBackupCodes handles POST /api/v1/auth/totp/backup-codes
// Replaces the backup codes after proving a current TOTP code; the old
// codes stop working immediately.
func (h *TOTPHandler) RegenerateBackupCodes(c *gin.Context) {
	login, ok := h.callerLogin(c)
	if !ok {
		return
	}

	var req TOTPCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid request body",
		})
		return
	}

	codes, err := h.manager.RegenerateBackupCodes(c.Request.Context(), login, req.Code)
	if err != nil {
		h.respondTOTPError(c, err, login, "Failed to regenerate backup codes")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"backup_codes": codes,
		},
	})
}

// callerLogin resolves the caller's built-in login or writes the refusal.
func (h *TOTPHandler) callerLogin(c *gin.Context) (string, bool) {
	principalID := c.GetString("principal_id")
	login, ok := localLogin(principalID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "TOTP is only available for built-in accounts",
		})
		return "", false
	}
	return login, true
}

func (h *TOTPHandler) respondTOTPError(c *gin.Context, err error, login, message string) {
	switch {
	case errors.Is(err, security.ErrInvalidTOTPCode):
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid one-time code",
		})
	case strings.Contains(err.Error(), "not found"):
		c.JSON(http.StatusNotFound, gin.H{
			"status": "error",
			"error":  "Account not found",
		})
	case strings.Contains(err.Error(), "no pending") || strings.Contains(err.Error(), "not enabled"):
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		h.logger.Error(message, "login", login, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  message,
		})
	}
}
