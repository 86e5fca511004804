package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/ldap-admin/internal/security"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

// RequirePermission gates a route group behind a single permission. Role
// definitions live in the store and are cached by the manager, so the
// check stays cheap on the hot path.
func RequirePermission(manager *security.Manager, log logger.Logger, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principalID := c.GetString("principal_id")
		roles := rolesFromContext(c)

		if principalID == "" {
			log.Warn("Permission check failed: missing principal context",
				"permission", permission, "path", c.Request.URL.Path)
			c.JSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  "Authentication required",
			})
			c.Abort()
			return
		}

		if !manager.HasPermission(c.Request.Context(), roles, permission) {
			log.Warn("Permission check failed: access denied",
				"principal", principalID,
				"roles", roles,
				"permission", permission,
				"path", c.Request.URL.Path,
			)
			c.JSON(http.StatusForbidden, gin.H{
				"status":              "error",
				"error":               "Access denied",
				"required_permission": permission,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func rolesFromContext(c *gin.Context) []string {
	value, exists := c.Get("user_roles")
	if !exists {
		return nil
	}
	roles, ok := value.([]string)
	if !ok {
		return nil
	}
	return roles
}
