package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/monitoring"
	"github.com/authgrid/ldap-admin/internal/tracing"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultPageSize       = 999
	initialRetryBackoff   = 250 * time.Millisecond
)

// Query is one directory search: a base, a scope name, a ready-built filter
// and the attribute selection (nil means all user attributes). A SizeLimit
// of 0 switches to paged retrieval.
type Query struct {
	BaseDN     string
	Scope      string
	Filter     string
	Attributes []string
	SizeLimit  int
}

// Options configures a Client. Zero values fall back to production defaults;
// tests typically install a fake Dialer.
type Options struct {
	Dialer         Dialer
	TLSConfig      func() *tls.Config
	Logger         logger.Logger
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	PageSize       uint32
	MaxRetries     int
}

// Client executes queries against the directory of a single plugin. It keeps
// one service-bound connection, lazily dialed and re-dialed after transport
// errors or an explicit Reconnect.
type Client struct {
	plugin     *models.LDAPPlugin
	dialer     Dialer
	logger     logger.Logger
	pageSize   uint32
	maxRetries int

	mu   sync.Mutex
	conn Conn
}

func NewClient(plugin *models.LDAPPlugin, opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.PageSize == 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("info")
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &netDialer{
			tlsConfig:      opts.TLSConfig,
			connectTimeout: opts.ConnectTimeout,
			requestTimeout: opts.RequestTimeout,
		}
	}
	return &Client{
		plugin:     plugin,
		dialer:     dialer,
		logger:     opts.Logger,
		pageSize:   opts.PageSize,
		maxRetries: opts.MaxRetries,
	}
}

// Plugin returns the configuration this client was built from.
func (c *Client) Plugin() *models.LDAPPlugin { return c.plugin }

// connection returns the cached service connection, dialing and binding on
// first use.
func (c *Client) connection(ctx context.Context) (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosing() {
		return c.conn, nil
	}
	conn, err := c.dialAndBind(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

// invalidate drops a connection after a transport error so the next call
// re-dials.
func (c *Client) invalidate(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// Reconnect closes the cached connection; the next operation dials fresh.
// Called when the CA bundle changes.
func (c *Client) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close releases the cached connection.
func (c *Client) Close() { c.Reconnect() }

func (c *Client) dialAndBind(ctx context.Context) (Conn, error) {
	conn, err := c.dialer.Dial(ctx, c.plugin)
	if err != nil {
		return nil, err
	}
	if err := c.bindServiceAccount(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) bindServiceAccount(ctx context.Context, conn Conn) error {
	start := time.Now()
	var span trace.Span
	if dt := tracing.GetGlobalTracer(); dt != nil {
		_, span = dt.StartBindSpan(ctx, c.plugin.Prefix, c.plugin.BindDN)
		defer span.End()
	}

	var err error
	switch c.plugin.BindMode {
	case models.BindAnonymous:
		err = conn.UnauthenticatedBind("")
	default:
		err = conn.Bind(c.plugin.BindDN, c.plugin.BindPassword)
	}

	monitoring.RecordDirectoryOperation(c.plugin.Prefix, "bind", time.Since(start), err == nil)
	if err != nil {
		if span != nil {
			tracing.GetGlobalTracer().RecordError(span, err)
		}
		return fmt.Errorf("service bind failed: %w", err)
	}
	return nil
}

// Search executes a query, retrying transient failures on a fresh connection
// with capped exponential backoff.
func (c *Client) Search(ctx context.Context, q Query) ([]*models.DirectoryEntry, error) {
	start := time.Now()
	var span trace.Span
	if dt := tracing.GetGlobalTracer(); dt != nil {
		ctx, span = dt.StartSearchSpan(ctx, c.plugin.Prefix, q.BaseDN, q.Filter, q.Scope)
		defer span.End()
	}

	entries, err := c.search(ctx, q)

	monitoring.RecordDirectoryOperation(c.plugin.Prefix, "search", time.Since(start), err == nil)
	if span != nil {
		tracing.GetGlobalTracer().RecordSearchMetrics(span, time.Since(start), int64(len(entries)), err == nil)
	}
	return entries, err
}

func (c *Client) search(ctx context.Context, q Query) ([]*models.DirectoryEntry, error) {
	var lastErr error
	backoff := initialRetryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying directory search",
				"plugin", c.plugin.Prefix, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		conn, err := c.connection(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		req := ldap.NewSearchRequest(
			q.BaseDN,
			scopeValue(q.Scope),
			ldap.NeverDerefAliases,
			q.SizeLimit,
			0,
			false,
			q.Filter,
			q.Attributes,
			nil,
		)

		var result *ldap.SearchResult
		if q.SizeLimit > 0 {
			result, err = conn.Search(req)
		} else {
			result, err = conn.SearchWithPaging(req, c.pageSize)
		}
		if err == nil {
			entries := make([]*models.DirectoryEntry, 0, len(result.Entries))
			for _, e := range result.Entries {
				entries = append(entries, entryFromLDAP(e))
			}
			return entries, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
		c.invalidate(conn)
	}

	return nil, fmt.Errorf("search failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// Lookup fetches one entry by DN with all of its attributes, for the entry
// inspector. Zero matches and ambiguous matches both yield an entry with an
// empty attribute set rather than an error.
func (c *Client) Lookup(ctx context.Context, dn string) (*models.DirectoryEntry, error) {
	start := time.Now()
	var span trace.Span
	if dt := tracing.GetGlobalTracer(); dt != nil {
		ctx, span = dt.StartLookupSpan(ctx, c.plugin.Prefix, dn)
		defer span.End()
	}

	entries, err := c.search(ctx, Query{
		BaseDN:     dn,
		Scope:      models.ScopeBase,
		Filter:     "(objectclass=*)",
		Attributes: []string{"*"},
	})

	monitoring.RecordDirectoryOperation(c.plugin.Prefix, "lookup", time.Since(start), err == nil)
	if span != nil {
		tracing.GetGlobalTracer().RecordSearchMetrics(span, time.Since(start), int64(len(entries)), err == nil)
	}
	if err != nil {
		return nil, err
	}
	if len(entries) != 1 {
		return &models.DirectoryEntry{DN: dn, Attributes: map[string][]string{}}, nil
	}
	return entries[0], nil
}

// FindByLogin resolves a login name to its unique entry via the plugin's
// login_query.
func (c *Client) FindByLogin(ctx context.Context, login string) (*models.DirectoryEntry, error) {
	filter := FormatQuery(c.plugin.LoginQuery, map[string]string{"login": login})
	// Size limit 2: one match is the answer, a second proves ambiguity
	// without enumerating the rest.
	entries, err := c.Search(ctx, Query{
		BaseDN:    c.plugin.BaseDN,
		Scope:     c.plugin.SearchScope,
		Filter:    filter,
		SizeLimit: 2,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) != 1 {
		return nil, ErrEntryNotFound
	}
	return entries[0], nil
}

// Authenticate verifies a login/password pair: resolve the entry, bind as it
// on a fresh connection, then re-fetch the entry. Returns
// ErrInvalidCredentials on password failure and ErrEntryNotFound when the
// login matches no unique entry.
func (c *Client) Authenticate(ctx context.Context, login, password string) (*models.DirectoryEntry, error) {
	// An empty password would turn the user bind into an unauthenticated
	// bind, which directories report as success.
	if password == "" {
		return nil, ErrInvalidCredentials
	}

	start := time.Now()
	var span trace.Span
	if dt := tracing.GetGlobalTracer(); dt != nil {
		ctx, span = dt.StartAuthenticationSpan(ctx, c.plugin.Prefix, login)
		defer span.End()
	}

	entry, err := c.authenticate(ctx, login, password)
	monitoring.RecordDirectoryOperation(c.plugin.Prefix, "authenticate", time.Since(start), err == nil)
	if span != nil && err != nil {
		tracing.GetGlobalTracer().RecordError(span, err)
	}
	return entry, err
}

func (c *Client) authenticate(ctx context.Context, login, password string) (*models.DirectoryEntry, error) {
	entry, err := c.FindByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	conn, err := c.dialer.Dial(ctx, c.plugin)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if err := conn.Bind(entry.DN, password); err != nil {
		if IsInvalidCredentials(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	// Re-fetch as the bound user so attribute visibility matches the
	// user's own rights.
	req := ldap.NewSearchRequest(
		entry.DN,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0, 0, false,
		"(objectclass=*)",
		nil,
		nil,
	)
	result, err := conn.Search(req)
	if err != nil || len(result.Entries) != 1 {
		// The bind succeeded; the service-conn view of the entry is good
		// enough when the self read fails.
		return entry, nil
	}
	return entryFromLDAP(result.Entries[0]), nil
}

// TestConnection dials and binds fresh, then reads the root DSE, proving
// both credentials and search service. Backs the admin test endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	conn, err := c.dialAndBind(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	req := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 5, false,
		"(objectclass=*)",
		[]string{"namingContexts"},
		nil,
	)
	if _, err := conn.Search(req); err != nil {
		return fmt.Errorf("root DSE search failed: %w", err)
	}
	return nil
}

// IsHealthy reports whether the directory currently accepts the service
// credentials.
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.TestConnection(ctx) == nil
}
