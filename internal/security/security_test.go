package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/authgrid/ldap-admin/internal/config"
	"github.com/authgrid/ldap-admin/internal/directory"
	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/store"
	"github.com/authgrid/ldap-admin/pkg/cache"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

// pluginDirectory scripts one plugin's directory server: a search handler
// plus the password accepted for user binds. Service binds always succeed.
type pluginDirectory struct {
	search       func(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	userPassword string

	mu       sync.Mutex
	requests []*ldap.SearchRequest
}

func (d *pluginDirectory) record(req *ldap.SearchRequest) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
}

func (d *pluginDirectory) lastRequest(t *testing.T) *ldap.SearchRequest {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.requests)
	return d.requests[len(d.requests)-1]
}

// fakeDirectories dials a scripted directory per plugin prefix. Plugins
// without a script behave like an unreachable server.
type fakeDirectories struct {
	mu      sync.Mutex
	plugins map[string]*pluginDirectory
	dials   map[string]int
}

func newFakeDirectories() *fakeDirectories {
	return &fakeDirectories{
		plugins: make(map[string]*pluginDirectory),
		dials:   make(map[string]int),
	}
}

func (d *fakeDirectories) add(prefix string, dir *pluginDirectory) *pluginDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plugins[prefix] = dir
	return dir
}

func (d *fakeDirectories) dialCount(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[prefix]
}

func (d *fakeDirectories) Dial(ctx context.Context, plugin *models.LDAPPlugin) (directory.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dir, ok := d.plugins[plugin.Prefix]
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", plugin.ServerURI)
	}
	d.dials[plugin.Prefix]++
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
	c.dir.record(req)
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

// capturedEvents collects published security events for assertions.
type capturedEvents struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (c *capturedEvents) Publish(e *models.SecurityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capturedEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func (c *capturedEvents) has(eventType string) bool {
	for _, t := range c.types() {
		if t == eventType {
			return true
		}
	}
	return false
}

func newTestManagerOpts(t *testing.T, opts Options) (*Manager, *store.Store, cache.ValkeyCache) {
	t.Helper()
	log := logger.New("error")
	c := cache.NewNoopValkeyCache(log)
	st := store.New(c, log)
	if opts.Auth.JWT.Secret == "" {
		opts.Auth.JWT.Secret = "test-secret-key"
	}
	return NewManager(st, c, log, opts), st, c
}

func newTestManager(t *testing.T, dialer directory.Dialer) (*Manager, *store.Store, *capturedEvents) {
	t.Helper()
	events := &capturedEvents{}
	m, st, _ := newTestManagerOpts(t, Options{
		Auth: config.AuthConfig{
			JWT:  config.JWTConfig{Secret: "test-secret-key", ExpiryMinutes: 30},
			TOTP: config.TOTPConfig{Issuer: "ldap-admin-test"},
		},
		Events: events,
		Dialer: dialer,
	})
	return m, st, events
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

func seedLocalAccount(t *testing.T, st *store.Store, login, password string, roles ...string) *models.LocalAccount {
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
	require.NoError(t, st.SaveLocalAccount(context.Background(), account))
	return account
}

func entriesResult(entries ...*ldap.Entry) *ldap.SearchResult {
	return &ldap.SearchResult{Entries: entries}
}

func userLDAPEntry(dn string) *ldap.Entry {
	return ldap.NewEntry(dn, map[string][]string{
		"uid":       {"jsmith"},
		"cn":        {"John Smith"},
		"sn":        {"Smith"},
		"givenName": {"John"},
		"mail":      {"jsmith@example.com"},
	})
}

func groupLDAPEntry(dn, cn string) *ldap.Entry {
	return ldap.NewEntry(dn, map[string][]string{
		"cn":           {cn},
		"objectClass":  {"groupOfUniqueNames"},
		"uniqueMember": {"uid=jsmith,dc=example,dc=com"},
	})
}
