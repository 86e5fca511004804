// internal/api/middleware/request_logger.middleware.go
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/authgrid/ldap-admin/pkg/logger"
)

// Unknown identifiers for logging when context is not available
const (
	UnknownSessionID = "unknown"
)

// RequestLogger logs HTTP requests with structured fields.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		sessionID := UnknownSessionID
		principalID := ""

		if param.Keys != nil {
			if sid, exists := param.Keys["session_id"]; exists {
				if sidStr, ok := sid.(string); ok {
					sessionID = sidStr
				}
			}
			if pid, exists := param.Keys["principal_id"]; exists {
				if pidStr, ok := pid.(string); ok {
					principalID = pidStr
				}
			}
		}

		fields := []interface{}{
			"method", param.Method,
			"path", param.Path,
			"status", param.StatusCode,
			"latency", param.Latency,
			"client_ip", param.ClientIP,
			"user_agent", param.Request.UserAgent(),
			"session_id", sessionID,
			"request_id", param.Request.Header.Get("X-Request-ID"),
			"content_length", param.Request.ContentLength,
		}
		if principalID != "" {
			fields = append(fields, "principal", principalID)
		}
		if param.ErrorMessage != "" {
			fields = append(fields, "error", param.ErrorMessage)
		}

		switch {
		case param.StatusCode >= 500:
			log.Error("HTTP Request", fields...)
		case param.StatusCode >= 400:
			log.Warn("HTTP Request", fields...)
		default:
			log.Info("HTTP Request", fields...)
		}

		return ""
	})
}
