package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/ldap-admin/internal/config"
	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/security"
	"github.com/authgrid/ldap-admin/internal/store"
	"github.com/authgrid/ldap-admin/pkg/cache"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestManager(t *testing.T) (*security.Manager, *store.Store, cache.ValkeyCache) {
	t.Helper()
	log := logger.New("error")
	c := cache.NewNoopValkeyCache(log)
	st := store.New(c, log)
	m := security.NewManager(st, c, log, security.Options{
		Auth: config.AuthConfig{
			JWT: config.JWTConfig{Secret: "test-secret-key", ExpiryMinutes: 30},
		},
	})
	t.Cleanup(m.Close)
	return m, st, c
}

func seedRole(t *testing.T, st *store.Store, name string, permissions ...string) {
	t.Helper()
	require.NoError(t, st.SaveRole(context.Background(), &models.Role{
		Name:        name,
		Permissions: permissions,
	}))
}

// seedSession opens a session for a fabricated principal and returns it with
// a signed bearer token.
func seedSession(t *testing.T, m *security.Manager, roles ...string) (*models.UserSession, string) {
	t.Helper()
	result := &security.AuthResult{
		Principal: &models.Principal{ID: "local:admin", Type: models.PrincipalUser, Title: "Administrator"},
		Plugin:    "local",
		Roles:     roles,
	}
	session, err := m.CreateSession(context.Background(), result, "127.0.0.1", "go-test")
	require.NoError(t, err)
	token, _, err := m.IssueToken(session)
	require.NoError(t, err)
	return session, token
}

func performRequest(router *gin.Engine, method, path string, configure ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for _, fn := range configure {
		fn(req)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func withBearer(token string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
