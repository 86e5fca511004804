// Package monitoring provides Prometheus metrics for the ldap-admin API.
//
// Usage:
//
//  1. Setup metrics in your main function:
//     router := gin.New()
//     monitoring.SetupPrometheusMetrics(router)
//
//  2. Add HTTP metrics middleware:
//     router.Use(monitoring.HTTPMetricsMiddleware())
//
//  3. Record custom metrics in your handlers:
//
//	// Directory operations
//	start := time.Now()
//	// ... your LDAP code ...
//	monitoring.RecordDirectoryOperation("corp", "search", time.Since(start), true)
//
//	// Cache operations
//	monitoring.RecordCacheOperation("get", "hit")
//
//	// Authentication attempts
//	monitoring.RecordAuthAttempt("corp", "success")
//
// Available Metrics:
//
//   - ldap_admin_http_requests_total{method, endpoint, status_code}
//   - ldap_admin_http_request_duration_seconds{method, endpoint}
//   - ldap_admin_directory_operations_total{plugin, operation, status}
//   - ldap_admin_directory_operation_duration_seconds{plugin, operation}
//   - ldap_admin_cache_operations_total{operation, result}
//   - ldap_admin_auth_attempts_total{plugin, result}
//   - ldap_admin_active_sessions
//   - ldap_admin_websocket_clients
//   - ldap_admin_errors_total{type, component}
//   - ldap_admin_build_info{version, component, go_version}
package monitoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ldap_admin_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ldap_admin_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	directoryOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ldap_admin_directory_operations_total",
			Help: "Total number of LDAP directory operations",
		},
		[]string{"plugin", "operation", "status"},
	)

	directoryOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ldap_admin_directory_operation_duration_seconds",
			Help:    "LDAP directory operation duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"plugin", "operation"},
	)

	cacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ldap_admin_cache_operations_total",
			Help: "Total number of cache operations",
		},
		[]string{"operation", "result"}, // result: hit, miss, success, error
	)

	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ldap_admin_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"plugin", "result"}, // result: success, failure
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ldap_admin_active_sessions",
			Help: "Number of active admin sessions",
		},
	)

	websocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ldap_admin_websocket_clients",
			Help: "Number of connected event-stream clients",
		},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ldap_admin_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"}, // type: http, directory, cache, auth
	)
)

// SetupPrometheusMetrics registers the collectors and exposes /metrics.
func SetupPrometheusMetrics(router gin.IRoutes) {
	_ = prometheus.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ldap_admin_build_info",
		Help: "Build information for ldap-admin",
		ConstLabels: prometheus.Labels{
			"version":    "v1.0.0",
			"component":  "ldap-admin",
			"go_version": "1.24",
		},
	}, func() float64 { return 1 }))

	// Re-registration is possible when tests build several routers; ignore.
	_ = prometheus.Register(httpRequestsTotal)
	_ = prometheus.Register(httpRequestDuration)
	_ = prometheus.Register(directoryOperationsTotal)
	_ = prometheus.Register(directoryOperationDuration)
	_ = prometheus.Register(cacheOperationsTotal)
	_ = prometheus.Register(authAttemptsTotal)
	_ = prometheus.Register(activeSessions)
	_ = prometheus.Register(websocketClients)
	_ = prometheus.Register(errorsTotal)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// HTTPMetricsMiddleware collects HTTP request metrics.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		endpoint := normalizeEndpoint(c.FullPath(), c.Request.URL.Path)

		c.Next()

		statusCode := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration)

		if c.Writer.Status() >= 400 {
			errorsTotal.WithLabelValues("http", endpoint).Inc()
		}
	}
}

// RecordDirectoryOperation records an LDAP operation against one plugin.
func RecordDirectoryOperation(plugin, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
		errorsTotal.WithLabelValues("directory", plugin).Inc()
	}

	directoryOperationsTotal.WithLabelValues(plugin, operation, status).Inc()
	directoryOperationDuration.WithLabelValues(plugin, operation).Observe(duration.Seconds())
}

// RecordCacheOperation records cache operation metrics.
func RecordCacheOperation(operation, result string) {
	cacheOperationsTotal.WithLabelValues(operation, result).Inc()
	if result == "error" {
		errorsTotal.WithLabelValues("cache", operation).Inc()
	}
}

// RecordAuthAttempt records one authentication attempt. The plugin label is
// the plugin prefix, or "local" for built-in accounts.
func RecordAuthAttempt(plugin, result string) {
	authAttemptsTotal.WithLabelValues(plugin, result).Inc()
	if result == "failure" {
		errorsTotal.WithLabelValues("auth", plugin).Inc()
	}
}

// SetActiveSessions updates the session gauge.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// WebsocketClientConnected / Disconnected track event-stream clients.
func WebsocketClientConnected()    { websocketClients.Inc() }
func WebsocketClientDisconnected() { websocketClients.Dec() }

// normalizeEndpoint prefers the gin route template (which already carries
// :name style parameters); raw paths fall back to numeric-segment masking.
func normalizeEndpoint(routePath, rawPath string) string {
	if routePath != "" {
		return routePath
	}

	parts := strings.Split(rawPath, "/")
	for i, part := range parts {
		if isNumeric(part) && i > 0 {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
