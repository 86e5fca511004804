package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/ldap-admin/internal/security"
	"github.com/authgrid/ldap-admin/pkg/cache"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

const (
	serviceName    = "ldap-admin"
	serviceVersion = "v1.0.0"
)

type HealthHandler struct {
	manager *security.Manager
	cache   cache.ValkeyCache
	logger  logger.Logger
}

func NewHealthHandler(manager *security.Manager, c cache.ValkeyCache, log logger.Logger) *HealthHandler {
	return &HealthHandler{
		manager: manager,
		cache:   c,
		logger:  log,
	}
}

// GET /health - Quick health check
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"version":   serviceVersion,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GET /ready - Readiness check. Sessions, plugin documents and rate-limit
// counters all live in Valkey, so readiness is Valkey availability. Remote
// directories are deliberately excluded: a dead LDAP server degrades one
// plugin, it does not make the admin service unable to serve.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK
	resp := gin.H{
		"service":   serviceName,
		"version":   serviceVersion,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	if err := h.cache.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
		resp["error"] = err.Error()
	}

	resp["status"] = status
	c.JSON(httpStatus, resp)
}

// GET /api/v1/security/status - per-backend connectivity report. Probes
// Valkey and every enabled plugin's directory with a bind round-trip, so
// it is admin-gated rather than exposed as a liveness probe.
func (h *HealthHandler) DirectoryStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	checks := make(map[string]interface{})
	overall := "healthy"

	if err := h.cache.HealthCheck(ctx); err != nil {
		checks["valkey"] = map[string]interface{}{"status": "unhealthy", "error": err.Error()}
		overall = "unhealthy"
	} else {
		checks["valkey"] = map[string]interface{}{"status": "healthy"}
	}

	plugins, err := h.manager.ListPlugins(ctx)
	if err != nil {
		h.logger.Error("Failed to list plugins for status report", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to list plugins",
		})
		return
	}

	for _, p := range plugins {
		key := "plugin:" + p.Prefix
		if !p.Enabled {
			checks[key] = map[string]interface{}{"status": "disabled"}
			continue
		}
		if err := h.manager.TestPlugin(ctx, p.Prefix); err != nil {
			checks[key] = map[string]interface{}{"status": "unhealthy", "error": err.Error()}
			if overall == "healthy" {
				overall = "degraded"
			}
			continue
		}
		checks[key] = map[string]interface{}{"status": "healthy"}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    overall,
		"service":   serviceName,
		"version":   serviceVersion,
		"checks":    checks,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
