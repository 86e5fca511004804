package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/store"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

// AccountsHandler administers the service-owned credential records: the
// bootstrap administrator and any operator accounts created beside it.
type AccountsHandler struct {
	store  *store.Store
	logger logger.Logger
}

func NewAccountsHandler(st *store.Store, logger logger.Logger) *AccountsHandler {
	return &AccountsHandler{
		store:  st,
		logger: logger,
	}
}

// CreateAccountRequest is the payload for creating a local account.
type CreateAccountRequest struct {
	Login                 string   `json:"login" binding:"required"`
	FullName              string   `json:"full_name"`
	Email                 string   `json:"email"`
	Password              string   `json:"password" binding:"required"`
	Roles                 []string `json:"roles"`
	RequirePasswordChange bool     `json:"require_password_change"`
}

// UpdateAccountRequest updates a local account; absent fields keep their
// stored values.
type UpdateAccountRequest struct {
	FullName              *string  `json:"full_name,omitempty"`
	Email                 *string  `json:"email,omitempty"`
	Password              *string  `json:"password,omitempty"`
	Roles                 []string `json:"roles,omitempty"`
	Active                *bool    `json:"active,omitempty"`
	RequirePasswordChange *bool    `json:"require_password_change,omitempty"`
}

// ListAccounts handles GET /api/v1/security/accounts
func (h *AccountsHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.store.ListLocalAccounts(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list local accounts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to list accounts",
		})
		return
	}

	redacted := make([]*models.LocalAccount, 0, len(accounts))
	for _, a := range accounts {
		redacted = append(redacted, a.Redacted())
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"accounts": redacted,
			"total":    len(redacted),
		},
	})
}

// CreateAccount handles POST /api/v1/security/accounts
func (h *AccountsHandler) CreateAccount(c *gin.Context) {
	correlationID := fmt.Sprintf("account-create-%d", time.Now().UnixNano())

	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid request body",
		})
		return
	}

	login := strings.TrimSpace(req.Login)
	if login == "" || strings.Contains(login, ":") {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid login: must be non-empty and contain no colon",
		})
		return
	}
	if len(req.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Password must be at least 8 characters",
		})
		return
	}

	if _, err := h.store.GetLocalAccount(c.Request.Context(), login); err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"status": "error",
			"error":  fmt.Sprintf("Account %q already exists", login),
		})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("Failed to hash password", "error", err, "correlation_id", correlationID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to process password",
		})
		return
	}

	account := &models.LocalAccount{
		Login:                 login,
		FullName:              strings.TrimSpace(req.FullName),
		Email:                 strings.TrimSpace(req.Email),
		PasswordHash:          string(hash),
		Roles:                 req.Roles,
		Active:                true,
		RequirePasswordChange: req.RequirePasswordChange,
	}

	if err := h.store.SaveLocalAccount(c.Request.Context(), account); err != nil {
		h.logger.Error("Failed to create local account", "error", err, "login", login, "correlation_id", correlationID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to create account",
		})
		return
	}

	h.logger.Info("Local account created", "login", login, "correlation_id", correlationID)
	c.JSON(http.StatusCreated, gin.H{
		"status": "success",
		"data":   account.Redacted(),
	})
}

// GetAccount handles GET /api/v1/security/accounts/{login}
func (h *AccountsHandler) GetAccount(c *gin.Context) {
	login := c.Param("login")

	account, err := h.store.GetLocalAccount(c.Request.Context(), login)
	if err != nil {
		h.handleAccountError(c, err, login, "Failed to get account")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   account.Redacted(),
	})
}

// UpdateAccount handles PUT /api/v1/security/accounts/{login}
func (h *AccountsHandler) UpdateAccount(c *gin.Context) {
	correlationID := fmt.Sprintf("account-update-%d", time.Now().UnixNano())
	login := c.Param("login")

	var req UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid request body",
		})
		return
	}

	account, err := h.store.GetLocalAccount(c.Request.Context(), login)
	if err != nil {
		h.handleAccountError(c, err, login, "Failed to get account")
		return
	}

	if req.FullName != nil {
		account.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Email != nil {
		account.Email = strings.TrimSpace(*req.Email)
	}
	if req.Password != nil {
		if len(*req.Password) < 8 {
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "error",
				"error":  "Password must be at least 8 characters",
			})
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			h.logger.Error("Failed to hash password", "error", err, "correlation_id", correlationID)
			c.JSON(http.StatusInternalServerError, gin.H{
				"status": "error",
				"error":  "Failed to process password",
			})
			return
		}
		now := time.Now().UTC()
		account.PasswordHash = string(hash)
		account.PasswordChangedAt = &now
	}
	if req.Roles != nil {
		account.Roles = req.Roles
	}
	if req.Active != nil {
		account.Active = *req.Active
	}
	if req.RequirePasswordChange != nil {
		account.RequirePasswordChange = *req.RequirePasswordChange
	}

	if err := h.store.SaveLocalAccount(c.Request.Context(), account); err != nil {
		h.logger.Error("Failed to update local account", "error", err, "login", login, "correlation_id", correlationID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to update account",
		})
		return
	}

	h.logger.Info("Local account updated", "login", login, "correlation_id", correlationID)
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   account.Redacted(),
	})
}

// DeleteAccount handles DELETE /api/v1/security/accounts/{login}
// Callers cannot delete the account they are logged in with.
func (h *AccountsHandler) DeleteAccount(c *gin.Context) {
	login := c.Param("login")

	if caller, ok := localLogin(c.GetString("principal_id")); ok && caller == login {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Cannot delete the account of the current session",
		})
		return
	}

	if err := h.store.DeleteLocalAccount(c.Request.Context(), login); err != nil {
		h.handleAccountError(c, err, login, "Failed to delete account")
		return
	}

	h.logger.Info("Local account deleted", "login", login)
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("Account %q deleted", login),
	})
}

func (h *AccountsHandler) handleAccountError(c *gin.Context, err error, login, message string) {
	if strings.Contains(err.Error(), "not found") {
		c.JSON(http.StatusNotFound, gin.H{
			"status": "error",
			"error":  fmt.Sprintf("Account %q not found", login),
		})
		return
	}
	h.logger.Error(message, "error", err, "login", login)
	c.JSON(http.StatusInternalServerError, gin.H{
		"status": "error",
		"error":  message,
	})
}
