package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/authgrid/ldap-admin/internal/config"
	"github.com/authgrid/ldap-admin/internal/directory"
	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/security"
	"github.com/authgrid/ldap-admin/internal/store"
	"github.com/authgrid/ldap-admin/pkg/cache"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// pluginDirectory scripts one plugin's directory server: a search handler
// plus the password accepted for user binds. Service binds always succeed.
type pluginDirectory struct {
	search       func(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	userPassword string
}

// fakeDirectories dials a scripted directory per plugin prefix. Plugins
// without a script behave like an unreachable server.
type fakeDirectories struct {
	mu      sync.Mutex
	plugins map[string]*pluginDirectory
}

func newFakeDirectories() *fakeDirectories {
	return &fakeDirectories{plugins: make(map[string]*pluginDirectory)}
}

func (d *fakeDirectories) add(prefix string, dir *pluginDirectory) *pluginDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plugins[prefix] = dir
	return dir
}

func (d *fakeDirectories) Dial(ctx context.Context, plugin *models.LDAPPlugin) (directory.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dir, ok := d.plugins[plugin.Prefix]
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", plugin.ServerURI)
	}
	return &scriptedConn{dir: dir, serviceDN: plugin.BindDN}, nil
}

type scriptedConn struct {
	dir       *pluginDirectory
	serviceDN string
	closed    bool
}

func (c *scriptedConn) Bind(username, password string) error {
	if username == c.serviceDN {
		return nil
	}
	if c.dir.userPassword != "" && password == c.dir.userPassword {
		return nil
	}
	return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
}

func (c *scriptedConn) UnauthenticatedBind(username string) error { return nil }

func (c *scriptedConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	return c.doSearch(req)
}

func (c *scriptedConn) SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error) {
	return c.doSearch(req)
}

func (c *scriptedConn) doSearch(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	if c.dir.search == nil {
		return &ldap.SearchResult{}, nil
	}
	return c.dir.search(req)
}

func (c *scriptedConn) IsClosing() bool { return c.closed }

func (c *scriptedConn) Close() error {
	c.closed = true
	return nil
}

// testEnv carries a full backend over the in-memory cache so handler tests
// run the real manager and store code paths.
type testEnv struct {
	manager *security.Manager
	store   *store.Store
	cache   cache.ValkeyCache
	dirs    *fakeDirectories
	logger  logger.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.New("error")
	c := cache.NewNoopValkeyCache(log)
	st := store.New(c, log)
	dirs := newFakeDirectories()
	m := security.NewManager(st, c, log, security.Options{
		Auth: config.AuthConfig{
			JWT:  config.JWTConfig{Secret: "test-secret-key", ExpiryMinutes: 30},
			TOTP: config.TOTPConfig{Issuer: "ldap-admin-test"},
		},
		Dialer: dirs,
	})
	t.Cleanup(m.Close)
	return &testEnv{manager: m, store: st, cache: c, dirs: dirs, logger: log}
}

func (e *testEnv) seedAccount(t *testing.T, login, password string, roles ...string) *models.LocalAccount {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	account := &models.LocalAccount{
		Login:        login,
		FullName:     "Test Operator",
		Email:        login + "@example.com",
		PasswordHash: string(hash),
		Roles:        roles,
		Active:       true,
	}
	require.NoError(t, e.store.SaveLocalAccount(context.Background(), account))
	return account
}

func (e *testEnv) seedPlugin(t *testing.T, prefix string) *models.LDAPPlugin {
	t.Helper()
	p := testPlugin(prefix)
	require.NoError(t, e.manager.CreatePlugin(context.Background(), p))
	return p
}

func testPlugin(prefix string) *models.LDAPPlugin {
	p := models.NewLDAPPlugin()
	p.Prefix = prefix
	p.Title = "Corporate directory"
	p.ServerURI = "ldap://ldap.example.com:389"
	p.BindDN = "cn=admin,dc=example,dc=com"
	p.BindPassword = "hunter2"
	p.BaseDN = "dc=example,dc=com"
	return p
}

// sessionCtx injects the context values the auth middleware would set.
func sessionCtx(session *models.UserSession) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("session", session)
		c.Set("session_id", session.ID)
		c.Set("principal_id", session.PrincipalID)
		c.Set("user_roles", session.Roles)
	}
}

func localSession(t *testing.T, e *testEnv, login string, roles ...string) *models.UserSession {
	t.Helper()
	result := &security.AuthResult{
		Principal: &models.Principal{ID: "local:" + login, Type: models.PrincipalUser, Title: login},
		Plugin:    security.LocalPluginName,
		Roles:     roles,
	}
	session, err := e.manager.CreateSession(context.Background(), result, "127.0.0.1", "go-test")
	require.NoError(t, err)
	return session
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func envelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func dataField(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	data, ok := envelope(t, w)["data"].(map[string]interface{})
	require.True(t, ok, "body: %s", w.Body.String())
	return data
}
