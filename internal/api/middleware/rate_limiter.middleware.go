package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/ldap-admin/internal/config"
	"github.com/authgrid/ldap-admin/pkg/cache"
)

// Anonymous principal ID for unauthenticated requests
const AnonymousPrincipalID = "anonymous"

// RateLimiter implements per-principal rate limiting backed by Valkey.
// Counters live in 1-minute windows so a restarted node picks up the
// shared budget instead of resetting it. The limits come from a provider
// so a config reload applies without restarting the server.
func RateLimiter(valkeyCache cache.ValkeyCache, limits func() config.RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := limits()
		if !cfg.Enabled {
			c.Next()
			return
		}

		maxRequests := int64(cfg.RequestsPerMinute)
		if maxRequests <= 0 {
			maxRequests = 600
		}

		// Runs after auth so the counter keys on the resolved principal.
		// Unauthenticated traffic buckets per client address.
		principalID := c.GetString("principal_id")
		if principalID == "" {
			principalID = AnonymousPrincipalID + ":" + c.ClientIP()
		}

		window := time.Now().Unix() / 60 // 1-minute windows
		key := fmt.Sprintf("rate_limit:%s:%d", principalID, window)

		countBytes, err := valkeyCache.Get(c.Request.Context(), key)
		var currentCount int64 = 0

		if err == nil {
			if count, err := strconv.ParseInt(string(countBytes), 10, 64); err == nil {
				currentCount = count
			}
		}

		if currentCount >= maxRequests {
			c.Header("X-Rate-Limit-Limit", strconv.FormatInt(maxRequests, 10))
			c.Header("X-Rate-Limit-Remaining", "0")
			c.Header("X-Rate-Limit-Reset", strconv.FormatInt((window+1)*60, 10))

			c.JSON(http.StatusTooManyRequests, gin.H{
				"status":      "error",
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}

		newCount := currentCount + 1
		valkeyCache.Set(c.Request.Context(), key, newCount, 2*time.Minute)

		c.Header("X-Rate-Limit-Limit", strconv.FormatInt(maxRequests, 10))
		c.Header("X-Rate-Limit-Remaining", strconv.FormatInt(maxRequests-newCount, 10))
		c.Header("X-Rate-Limit-Reset", strconv.FormatInt((window+1)*60, 10))

		c.Next()
	}
}
