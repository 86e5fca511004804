package middleware

import (
	"net/http"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/ldap-admin/pkg/logger"
)

type capturedLog struct {
	level  string
	msg    string
	fields map[string]interface{}
}

type capturingLogger struct {
	mu      sync.Mutex
	entries []capturedLog
}

func (l *capturingLogger) record(level, msg string, fields []interface{}) {
	m := make(map[string]interface{}, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok {
			m[k] = fields[i+1]
		}
	}
	l.mu.Lock()
	l.entries = append(l.entries, capturedLog{level: level, msg: msg, fields: m})
	l.mu.Unlock()
}

func (l *capturingLogger) Info(msg string, fields ...interface{})  { l.record("info", msg, fields) }
func (l *capturingLogger) Error(msg string, fields ...interface{}) { l.record("error", msg, fields) }
func (l *capturingLogger) Warn(msg string, fields ...interface{})  { l.record("warn", msg, fields) }
func (l *capturingLogger) Debug(msg string, fields ...interface{}) { l.record("debug", msg, fields) }
func (l *capturingLogger) Fatal(msg string, fields ...interface{}) { l.record("fatal", msg, fields) }
func (l *capturingLogger) With(fields ...interface{}) logger.Logger { return l }

func (l *capturingLogger) last(t *testing.T) capturedLog {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.NotEmpty(t, l.entries)
	return l.entries[len(l.entries)-1]
}

func TestRequestLoggerRecordsBasicFields(t *testing.T) {
	log := &capturingLogger{}
	router := gin.New()
	router.Use(RequestLogger(log))
	router.GET("/resource", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})

	performRequest(router, http.MethodGet, "/resource")

	entry := log.last(t)
	assert.Equal(t, "info", entry.level)
	assert.Equal(t, "HTTP Request", entry.msg)
	assert.Equal(t, http.MethodGet, entry.fields["method"])
	assert.Equal(t, "/resource", entry.fields["path"])
	assert.Equal(t, http.StatusOK, entry.fields["status"])
	assert.Equal(t, UnknownSessionID, entry.fields["session_id"])
}

func TestRequestLoggerElevatesLevelByStatus(t *testing.T) {
	log := &capturingLogger{}
	router := gin.New()
	router.Use(RequestLogger(log))
	router.GET("/missing", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error"})
	})
	router.GET("/broken", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
	})

	performRequest(router, http.MethodGet, "/missing")
	assert.Equal(t, "warn", log.last(t).level)

	performRequest(router, http.MethodGet, "/broken")
	assert.Equal(t, "error", log.last(t).level)
}

func TestRequestLoggerIncludesSessionContext(t *testing.T) {
	log := &capturingLogger{}
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("session_id", "sess-123")
		c.Set("principal_id", "local:admin")
	})
	router.Use(RequestLogger(log))
	router.GET("/resource", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})

	performRequest(router, http.MethodGet, "/resource")

	entry := log.last(t)
	assert.Equal(t, "sess-123", entry.fields["session_id"])
	assert.Equal(t, "local:admin", entry.fields["principal"])
}
