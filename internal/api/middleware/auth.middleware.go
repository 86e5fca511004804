// internal/api/middleware/auth.middleware.go
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/security"
)

// AuthMiddleware authenticates every request against the session manager.
// Tokens are either JWTs issued at login (carrying the session ID in the
// "sid" claim) or raw session IDs presented by the UI.
func AuthMiddleware(manager *security.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip auth for public endpoints
		if isPublicEndpoint(c.Request.URL.Path) {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  "Authentication required",
			})
			c.Abort()
			return
		}

		session, err := resolveSession(c, token, manager)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  "Invalid authentication token",
			})
			c.Abort()
			return
		}

		// Sliding expiry: every authenticated request refreshes the session.
		session.IPAddress = c.ClientIP()
		session.UserAgent = c.Request.UserAgent()
		manager.TouchSession(c.Request.Context(), session)

		c.Set("session", session)
		c.Set("principal_id", session.PrincipalID)
		c.Set("user_roles", session.Roles)
		c.Set("session_id", session.ID)

		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")

		c.Next()
	}
}

// extractToken gets the authentication token from various sources
func extractToken(c *gin.Context) string {
	// Authorization header first (Bearer token)
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}

	// X-Session-Token header (for the admin UI)
	if sessionToken := c.GetHeader("X-Session-Token"); sessionToken != "" {
		return sessionToken
	}

	// Cookie fallback for browser sessions
	if cookie, err := c.Cookie("ldap_admin_session"); err == nil {
		return cookie
	}

	// Query parameter (for WebSocket upgrades)
	if queryToken := c.Query("token"); queryToken != "" {
		return queryToken
	}

	return ""
}

// resolveSession accepts either a signed JWT or a raw session ID and loads
// the backing session from the store. Revoked sessions fail both paths.
func resolveSession(c *gin.Context, token string, manager *security.Manager) (*models.UserSession, error) {
	ctx := c.Request.Context()

	if sid, jwtErr := manager.SessionIDFromToken(token); jwtErr == nil {
		return manager.Session(ctx, sid)
	}

	// Not a JWT; treat the token as a bare session ID.
	return manager.Session(ctx, token)
}

// isPublicEndpoint checks if an endpoint requires authentication
func isPublicEndpoint(path string) bool {
	// Root only redirects to the Swagger UI, which is itself public.
	if path == "/" {
		return true
	}

	publicPaths := []string{
		"/health",
		"/ready",
		"/metrics",
		"/api/openapi.yaml",
		"/api/openapi.json",
		"/swagger/",
		"/api/v1/health",
		"/api/v1/ready",
		"/api/v1/auth/login",
	}

	for _, publicPath := range publicPaths {
		if strings.HasPrefix(path, publicPath) {
			return true
		}
	}

	return false
}
