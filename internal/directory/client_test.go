package directory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

type bindCall struct {
	username string
	password string
}

type fakeConn struct {
	mu          sync.Mutex
	binds       []bindCall
	unauthBinds int
	requests    []*ldap.SearchRequest
	closed      bool

	bindFn   func(username, password string) error
	searchFn func(req *ldap.SearchRequest) (*ldap.SearchResult, error)
}

func (f *fakeConn) Bind(username, password string) error {
	f.mu.Lock()
	f.binds = append(f.binds, bindCall{username, password})
	f.mu.Unlock()
	if f.bindFn != nil {
		return f.bindFn(username, password)
	}
	return nil
}

func (f *fakeConn) UnauthenticatedBind(username string) error {
	f.mu.Lock()
	f.unauthBinds++
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	return f.doSearch(req)
}

func (f *fakeConn) SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error) {
	return f.doSearch(req)
}

func (f *fakeConn) doSearch(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.searchFn != nil {
		return f.searchFn(req)
	}
	return &ldap.SearchResult{}, nil
}

func (f *fakeConn) IsClosing() bool { return f.closed }

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

// fakeDialer hands out one fakeConn per Dial call, building them on demand.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	build func() *fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, plugin *models.LDAPPlugin) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.build()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func testPlugin() *models.LDAPPlugin {
	p := models.NewLDAPPlugin()
	p.Prefix = "corp"
	p.Title = "Corporate LDAP"
	p.ServerURI = "ldap://ldap.example.com:389"
	p.BindDN = "cn=admin,dc=example,dc=com"
	p.BindPassword = "hunter2"
	p.BaseDN = "dc=example,dc=com"
	return p
}

func testClient(t *testing.T, plugin *models.LDAPPlugin, dialer Dialer, retries int) *Client {
	t.Helper()
	return NewClient(plugin, Options{
		Dialer:     dialer,
		Logger:     logger.New("error"),
		MaxRetries: retries,
	})
}

func userEntry(dn string) *ldap.Entry {
	return ldap.NewEntry(dn, map[string][]string{
		"uid":  {"jsmith"},
		"cn":   {"John Smith"},
		"mail": {"jsmith@example.com"},
	})
}

func TestSearch_BindsServiceAccountAndQueries(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeConn {
		return &fakeConn{searchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			return &ldap.SearchResult{Entries: []*ldap.Entry{userEntry("uid=jsmith,dc=example,dc=com")}}, nil
		}}
	}}
	client := testClient(t, testPlugin(), dialer, 0)

	entries, err := client.Search(context.Background(), Query{
		BaseDN: "dc=example,dc=com",
		Scope:  models.ScopeSubtree,
		Filter: "(uid=jsmith)",
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "uid=jsmith,dc=example,dc=com", entries[0].DN)
	assert.Equal(t, []string{"jsmith"}, entries[0].Attributes["uid"])

	conn := dialer.conns[0]
	require.Len(t, conn.binds, 1)
	assert.Equal(t, "cn=admin,dc=example,dc=com", conn.binds[0].username)
	assert.Equal(t, "hunter2", conn.binds[0].password)

	require.Len(t, conn.requests, 1)
	assert.Equal(t, "dc=example,dc=com", conn.requests[0].BaseDN)
	assert.Equal(t, ldap.ScopeWholeSubtree, conn.requests[0].Scope)
	assert.Equal(t, "(uid=jsmith)", conn.requests[0].Filter)
}

func TestSearch_AnonymousBindMode(t *testing.T) {
	plugin := testPlugin()
	plugin.BindMode = models.BindAnonymous
	dialer := &fakeDialer{build: func() *fakeConn { return &fakeConn{} }}
	client := testClient(t, plugin, dialer, 0)

	_, err := client.Search(context.Background(), Query{BaseDN: plugin.BaseDN, Scope: models.ScopeSubtree, Filter: "(uid=x)"})
	require.NoError(t, err)

	conn := dialer.conns[0]
	assert.Equal(t, 1, conn.unauthBinds)
	assert.Empty(t, conn.binds)
}

func TestSearch_ReusesConnection(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeConn { return &fakeConn{} }}
	client := testClient(t, testPlugin(), dialer, 0)
	ctx := context.Background()

	_, err := client.Search(ctx, Query{BaseDN: "dc=example,dc=com", Scope: models.ScopeSubtree, Filter: "(a=1)"})
	require.NoError(t, err)
	_, err = client.Search(ctx, Query{BaseDN: "dc=example,dc=com", Scope: models.ScopeSubtree, Filter: "(a=2)"})
	require.NoError(t, err)

	assert.Equal(t, 1, dialer.dials())
	assert.Len(t, dialer.conns[0].binds, 1)
}

func TestSearch_RetriesTransientErrorOnFreshConnection(t *testing.T) {
	attempts := 0
	dialer := &fakeDialer{build: func() *fakeConn {
		return &fakeConn{searchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			attempts++
			if attempts == 1 {
				return nil, ldap.NewError(ldap.LDAPResultBusy, errors.New("server busy"))
			}
			return &ldap.SearchResult{Entries: []*ldap.Entry{userEntry("uid=jsmith,dc=example,dc=com")}}, nil
		}}
	}}
	client := testClient(t, testPlugin(), dialer, 2)

	entries, err := client.Search(context.Background(), Query{BaseDN: "dc=example,dc=com", Scope: models.ScopeSubtree, Filter: "(uid=jsmith)"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 2, dialer.dials())
	assert.True(t, dialer.conns[0].closed)
}

func TestSearch_NonRetryableErrorFailsFast(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeConn {
		return &fakeConn{searchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
		}}
	}}
	client := testClient(t, testPlugin(), dialer, 3)

	_, err := client.Search(context.Background(), Query{BaseDN: "dc=example,dc=com", Scope: models.ScopeSubtree, Filter: "(uid=x)"})
	require.Error(t, err)
	assert.Equal(t, 1, dialer.dials())
}

func TestLookup_ReturnsEntryWithAllAttributes(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeConn {
		return &fakeConn{searchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			return &ldap.SearchResult{Entries: []*ldap.Entry{userEntry(req.BaseDN)}}, nil
		}}
	}}
	client := testClient(t, testPlugin(), dialer, 0)

	entry, err := client.Lookup(context.Background(), "uid=jsmith,dc=example,dc=com")
	require.NoError(t, err)
	assert.Equal(t, "uid=jsmith,dc=example,dc=com", entry.DN)
	assert.Equal(t, []string{"John Smith"}, entry.Attributes["cn"])

	req := dialer.conns[0].requests[0]
	assert.Equal(t, ldap.ScopeBaseObject, req.Scope)
	assert.Equal(t, "(objectclass=*)", req.Filter)
	assert.Equal(t, []string{"*"}, req.Attributes)
}

func TestLookup_EmptyResultOnZeroMatches(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeConn { return &fakeConn{} }}
	client := testClient(t, testPlugin(), dialer, 0)

	entry, err := client.Lookup(context.Background(), "uid=ghost,dc=example,dc=com")
	require.NoError(t, err)
	assert.Equal(t, "uid=ghost,dc=example,dc=com", entry.DN)
	assert.Empty(t, entry.Attributes)
}

func TestLookup_EmptyResultOnAmbiguousMatches(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeConn {
		return &fakeConn{searchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			return &ldap.SearchResult{Entries: []*ldap.Entry{
				userEntry("uid=a,dc=example,dc=com"),
				userEntry("uid=b,dc=example,dc=com"),
			}}, nil
		}}
	}}
	client := testClient(t, testPlugin(), dialer, 0)

	entry, err := client.Lookup(context.Background(), "uid=dup,dc=example,dc=com")
	require.NoError(t, err)
	assert.Empty(t, entry.Attributes)
}

func TestAuthenticate_BindsUserOnFreshConnection(t *testing.T) {
	userDN := "uid=jsmith,dc=example,dc=com"
	dialer := &fakeDialer{build: func() *fakeConn {
		return &fakeConn{searchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			return &ldap.SearchResult{Entries: []*ldap.Entry{userEntry(userDN)}}, nil
		}}
	}}
	client := testClient(t, testPlugin(), dialer, 0)

	entry, err := client.Authenticate(context.Background(), "jsmith", "secret")
	require.NoError(t, err)
	assert.Equal(t, userDN, entry.DN)

	// first conn: service account, second conn: user bind
	require.Equal(t, 2, dialer.dials())
	userConn := dialer.conns[1]
	require.NotEmpty(t, userConn.binds)
	assert.Equal(t, bindCall{userDN, "secret"}, userConn.binds[0])
	assert.True(t, userConn.closed)
}

func TestAuthenticate_EscapesLoginInFilter(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeConn { return &fakeConn{} }}
	client := testClient(t, testPlugin(), dialer, 0)

	_, err := client.Authenticate(context.Background(), "smith)(uid=*", "pw")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	req := dialer.conns[0].requests[0]
	assert.Equal(t, `(uid=smith\29\28uid=\2a)`, req.Filter)
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	userDN := "uid=jsmith,dc=example,dc=com"
	dialer := &fakeDialer{build: func() *fakeConn {
		return &fakeConn{
			searchFn: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
				return &ldap.SearchResult{Entries: []*ldap.Entry{userEntry(userDN)}}, nil
			},
			bindFn: func(username, password string) error {
				if username == userDN {
					return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
				}
				return nil
			},
		}
	}}
	client := testClient(t, testPlugin(), dialer, 0)

	_, err := client.Authenticate(context.Background(), "jsmith", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_EmptyPasswordRejectedWithoutDialing(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeConn { return &fakeConn{} }}
	client := testClient(t, testPlugin(), dialer, 0)

	_, err := client.Authenticate(context.Background(), "jsmith", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 0, dialer.dials())
}

func TestAuthenticate_UnknownLogin(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeConn { return &fakeConn{} }}
	client := testClient(t, testPlugin(), dialer, 0)

	_, err := client.Authenticate(context.Background(), "nobody", "pw")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestTestConnection_ReadsRootDSE(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeConn { return &fakeConn{} }}
	client := testClient(t, testPlugin(), dialer, 0)

	require.NoError(t, client.TestConnection(context.Background()))

	conn := dialer.conns[0]
	require.Len(t, conn.requests, 1)
	assert.Equal(t, "", conn.requests[0].BaseDN)
	assert.Equal(t, ldap.ScopeBaseObject, conn.requests[0].Scope)
	assert.True(t, conn.closed)
}

func TestReconnect_DropsCachedConnection(t *testing.T) {
	dialer := &fakeDialer{build: func() *fakeConn { return &fakeConn{} }}
	client := testClient(t, testPlugin(), dialer, 0)
	ctx := context.Background()

	_, err := client.Search(ctx, Query{BaseDN: "dc=example,dc=com", Scope: models.ScopeSubtree, Filter: "(a=1)"})
	require.NoError(t, err)

	client.Reconnect()
	assert.True(t, dialer.conns[0].closed)

	_, err = client.Search(ctx, Query{BaseDN: "dc=example,dc=com", Scope: models.ScopeSubtree, Filter: "(a=2)"})
	require.NoError(t, err)
	assert.Equal(t, 2, dialer.dials())
}
