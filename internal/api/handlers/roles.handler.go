package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/security"
	"github.com/authgrid/ldap-admin/internal/store"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

// RolesHandler administers the role-to-permission assignments consulted by
// the RBAC middleware. Mutations go through the security manager so the
// cached policy for the role is invalidated in the same call.
type RolesHandler struct {
	manager *security.Manager
	logger  logger.Logger
}

func NewRolesHandler(manager *security.Manager, log logger.Logger) *RolesHandler {
	return &RolesHandler{
		manager: manager,
		logger:  log,
	}
}

type CreateRoleRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// UpdateRoleRequest carries only the fields to change. A nil Permissions
// slice leaves the stored set untouched; an empty one clears it.
type UpdateRoleRequest struct {
	Description *string  `json:"description"`
	Permissions []string `json:"permissions"`
}

// ListRoles handles GET /api/v1/security/roles
func (h *RolesHandler) ListRoles(c *gin.Context) {
	roles, err := h.manager.ListRoles(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list roles", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to list roles",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"roles": roles,
			"total": len(roles),
		},
	})
}

// CreateRole handles POST /api/v1/security/roles
func (h *RolesHandler) CreateRole(c *gin.Context) {
	var req CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid role payload: " + err.Error(),
		})
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Role name is required",
		})
		return
	}

	if _, err := h.manager.GetRole(c.Request.Context(), name); err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"status": "error",
			"error":  "Role already exists: " + name,
		})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("Failed to check role", "role", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to create role",
		})
		return
	}

	role := &models.Role{
		Name:        name,
		Description: req.Description,
		Permissions: req.Permissions,
	}
	if err := h.manager.SaveRole(c.Request.Context(), role); err != nil {
		h.logger.Error("Failed to save role", "role", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to create role",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "success",
		"data": gin.H{
			"role": role,
		},
	})
}

// GetRole handles GET /api/v1/security/roles/:name
func (h *RolesHandler) GetRole(c *gin.Context) {
	name := c.Param("name")

	role, err := h.manager.GetRole(c.Request.Context(), name)
	if err != nil {
		h.handleRoleError(c, err, name, "Failed to load role")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"role": role,
		},
	})
}

// UpdateRole handles PUT /api/v1/security/roles/:name
func (h *RolesHandler) UpdateRole(c *gin.Context) {
	name := c.Param("name")

	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid role payload: " + err.Error(),
		})
		return
	}

	role, err := h.manager.GetRole(c.Request.Context(), name)
	if err != nil {
		h.handleRoleError(c, err, name, "Failed to load role")
		return
	}

	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.Permissions != nil {
		role.Permissions = req.Permissions
	}

	if err := h.manager.SaveRole(c.Request.Context(), role); err != nil {
		h.logger.Error("Failed to save role", "role", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to update role",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"role": role,
		},
	})
}

// DeleteRole handles DELETE /api/v1/security/roles/:name
func (h *RolesHandler) DeleteRole(c *gin.Context) {
	name := c.Param("name")

	if err := h.manager.DeleteRole(c.Request.Context(), name); err != nil {
		if strings.Contains(err.Error(), "cannot be deleted") {
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}
		h.handleRoleError(c, err, name, "Failed to delete role")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"message": "Role deleted: " + name,
		},
	})
}

func (h *RolesHandler) handleRoleError(c *gin.Context, err error, name, message string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"status": "error",
			"error":  "Role not found: " + name,
		})
		return
	}
	h.logger.Error(message, "role", name, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"status": "error",
		"error":  message,
	})
}
