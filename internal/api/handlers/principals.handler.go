package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/ldap-admin/internal/security"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

// PrincipalsHandler serves principal search and resolution across every
// enabled plugin plus the built-in accounts.
type PrincipalsHandler struct {
	manager *security.Manager
	logger  logger.Logger
}

func NewPrincipalsHandler(manager *security.Manager, logger logger.Logger) *PrincipalsHandler {
	return &PrincipalsHandler{manager: manager, logger: logger}
}

// Search handles GET /api/v1/security/principals?query=
// Users and groups matching the query across every enabled plugin. A blank
// query returns an empty set, and a dead directory is skipped, not fatal.
func (h *PrincipalsHandler) Search(c *gin.Context) {
	query := c.Query("query")

	principals, err := h.manager.FindPrincipals(c.Request.Context(), query)
	if err != nil {
		h.logger.Error("Principal search failed", "query", query, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Principal search failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"principals": principals,
			"total":      len(principals),
		},
	})
}

// Get handles GET /api/v1/security/principals/{id}
// Resolves one principal ID (prefix:login or prefix:group_prefix:uid).
func (h *PrincipalsHandler) Get(c *gin.Context) {
	id := c.Param("id")

	principal, err := h.manager.GetPrincipal(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, security.ErrPrincipalNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"status": "error",
				"error":  "Principal not found",
			})
			return
		}
		h.logger.Error("Principal resolution failed", "principal", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"status": "error",
			"error":  "Principal resolution failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   principal,
	})
}

// Groups handles GET /api/v1/security/principals/{id}/groups
// The groups a user principal belongs to, per the plugin's membership mode.
func (h *PrincipalsHandler) Groups(c *gin.Context) {
	id := c.Param("id")

	groups, err := h.manager.PrincipalGroups(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, security.ErrPrincipalNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"status": "error",
				"error":  "Principal not found",
			})
			return
		}
		h.logger.Error("Group resolution failed", "principal", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"status": "error",
			"error":  "Group resolution failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"groups": groups,
			"total":  len(groups),
		},
	})
}
