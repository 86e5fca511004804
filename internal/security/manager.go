package security

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/authgrid/ldap-admin/internal/config"
	"github.com/authgrid/ldap-admin/internal/directory"
	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/store"
	"github.com/authgrid/ldap-admin/pkg/cache"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

// LocalPluginName identifies the built-in local-account authenticator in
// sessions and principal IDs. The prefix is reserved; no LDAP plugin may
// claim it.
const LocalPluginName = "local"

var (
	// ErrPluginExists is returned by CreatePlugin when the prefix is taken.
	ErrPluginExists = errors.New("plugin already exists")

	// ErrPrincipalNotFound is returned when no authenticator can resolve a
	// principal ID.
	ErrPrincipalNotFound = errors.New("principal not found")
)

// EventSink receives security events as they happen. The websocket hub
// implements it; a nil sink drops events.
type EventSink interface {
	Publish(event *models.SecurityEvent)
}

// Options configures a Manager beyond its storage dependencies. Zero values
// are usable in tests: no events, no TLS material, library-default timeouts.
type Options struct {
	Auth      config.AuthConfig
	Directory config.DirectoryConfig
	TLSConfig func() *tls.Config
	Events    EventSink
	Dialer    directory.Dialer
}

// Manager is the service core. It keeps one directory client per plugin,
// lazily built and discarded whenever that plugin's configuration changes,
// and fans principal operations out across the enabled plugins.
type Manager struct {
	store  *store.Store
	cache  cache.ValkeyCache
	logger logger.Logger
	opts   Options

	mu      sync.Mutex
	clients map[string]*directory.Client
}

func NewManager(st *store.Store, c cache.ValkeyCache, log logger.Logger, opts Options) *Manager {
	return &Manager{
		store:   st,
		cache:   c,
		logger:  log,
		opts:    opts,
		clients: make(map[string]*directory.Client),
	}
}

// CreatePlugin validates and persists a new plugin configuration.
func (m *Manager) CreatePlugin(ctx context.Context, p *models.LDAPPlugin) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Prefix == LocalPluginName {
		return fmt.Errorf("plugin prefix %q is reserved for built-in accounts", LocalPluginName)
	}
	if _, err := m.store.GetPlugin(ctx, p.Prefix); err == nil {
		return fmt.Errorf("%w: %s", ErrPluginExists, p.Prefix)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := m.store.SavePlugin(ctx, p); err != nil {
		return err
	}
	m.logger.Info("Security plugin created", "plugin", p.Prefix, "title", p.Title)
	m.publish(models.EventPluginCreated, p.Prefix, "", fmt.Sprintf("plugin %q created", p.Prefix))
	return nil
}

// UpdatePlugin persists changes to an existing plugin. The prefix is the
// plugin's identity and cannot change. An empty bind password keeps the
// stored one: the API never echoes passwords back, so edit forms submit the
// field blank unless the operator typed a new value.
func (m *Manager) UpdatePlugin(ctx context.Context, p *models.LDAPPlugin) error {
	current, err := m.store.GetPlugin(ctx, p.Prefix)
	if err != nil {
		return err
	}
	if p.BindPassword == "" {
		p.BindPassword = current.BindPassword
	}
	p.CreatedAt = current.CreatedAt
	if err := p.Validate(); err != nil {
		return err
	}
	if err := m.store.SavePlugin(ctx, p); err != nil {
		return err
	}
	m.dropClient(p.Prefix)
	m.logger.Info("Security plugin updated", "plugin", p.Prefix)
	m.publish(models.EventPluginUpdated, p.Prefix, "", fmt.Sprintf("plugin %q updated", p.Prefix))
	return nil
}

// DeletePlugin removes a plugin configuration and its directory connection.
func (m *Manager) DeletePlugin(ctx context.Context, name string) error {
	if err := m.store.DeletePlugin(ctx, name); err != nil {
		return err
	}
	m.dropClient(name)
	m.logger.Info("Security plugin deleted", "plugin", name)
	m.publish(models.EventPluginDeleted, name, "", fmt.Sprintf("plugin %q deleted", name))
	return nil
}

// GetPlugin loads one plugin configuration, bind password included; callers
// serving API responses must redact.
func (m *Manager) GetPlugin(ctx context.Context, name string) (*models.LDAPPlugin, error) {
	return m.store.GetPlugin(ctx, name)
}

// ListPlugins loads every plugin configuration, enabled or not.
func (m *Manager) ListPlugins(ctx context.Context) ([]*models.LDAPPlugin, error) {
	return m.store.ListPlugins(ctx)
}

// enabledPlugins returns the enabled plugins in creation order, which is
// the order authentication walks them.
func (m *Manager) enabledPlugins(ctx context.Context) ([]*models.LDAPPlugin, error) {
	all, err := m.store.ListPlugins(ctx)
	if err != nil {
		return nil, err
	}
	enabled := make([]*models.LDAPPlugin, 0, len(all))
	for _, p := range all {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].CreatedAt.Before(enabled[j].CreatedAt)
	})
	return enabled, nil
}

// client returns the directory client for a plugin, building and caching it
// on first use.
func (m *Manager) client(ctx context.Context, name string) (*directory.Client, error) {
	m.mu.Lock()
	if c, ok := m.clients[name]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	p, err := m.store.GetPlugin(ctx, name)
	if err != nil {
		return nil, err
	}
	c := m.buildClient(p)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.clients[name]; ok {
		c.Close()
		return existing, nil
	}
	m.clients[name] = c
	return c, nil
}

func (m *Manager) buildClient(p *models.LDAPPlugin) *directory.Client {
	return directory.NewClient(p, directory.Options{
		Dialer:         m.opts.Dialer,
		TLSConfig:      m.opts.TLSConfig,
		Logger:         m.logger,
		ConnectTimeout: time.Duration(m.opts.Directory.ConnectTimeout) * time.Second,
		RequestTimeout: time.Duration(m.opts.Directory.RequestTimeout) * time.Second,
		PageSize:       uint32(m.opts.Directory.PageSize),
		MaxRetries:     m.opts.Directory.MaxRetries,
	})
}

// dropClient discards the cached client after a configuration change so the
// next operation builds one from the new configuration.
func (m *Manager) dropClient(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[name]; ok {
		c.Close()
		delete(m.clients, name)
	}
}

// ReconnectAll drops every cached directory connection so the next
// operation dials with fresh TLS material. Wired to the CA bundle watcher.
func (m *Manager) ReconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.clients {
		c.Reconnect()
		m.logger.Info("Directory connection reset", "plugin", name)
	}
}

// Close releases every directory connection.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		c.Close()
	}
	m.clients = make(map[string]*directory.Client)
}

// SearchDirectory runs the admin users search of one plugin. Exact criteria
// use users_select_query, free-text ones users_search_query. An empty query
// returns no entries without touching the directory.
func (m *Manager) SearchDirectory(ctx context.Context, name string, criteria models.SearchCriteria) ([]*models.DirectoryEntry, error) {
	query := strings.TrimSpace(criteria.Query)
	if query == "" {
		return []*models.DirectoryEntry{}, nil
	}
	p, err := m.store.GetPlugin(ctx, name)
	if err != nil {
		return nil, err
	}
	client, err := m.client(ctx, name)
	if err != nil {
		return nil, err
	}

	template := p.UsersSearchQuery
	if criteria.Exact {
		template = p.UsersSelectQuery
	}
	// The results table shows uid, cn and mail; requesting just those keeps
	// result sets small even on wide entries.
	attrs := []string{"cn", "mail"}
	if p.UIDAttribute != "" && p.UIDAttribute != "dn" {
		attrs = append(attrs, p.UIDAttribute)
	}
	return client.Search(ctx, directory.Query{
		BaseDN:     p.BaseDN,
		Scope:      p.SearchScope,
		Filter:     directory.FormatQuery(template, map[string]string{"query": query}),
		Attributes: attrs,
	})
}

// LookupEntry fetches one entry with every attribute readable by the
// service account, for the entry inspector. Missing and ambiguous DNs come
// back as an entry with no attributes, not an error.
func (m *Manager) LookupEntry(ctx context.Context, name, dn string) (*models.DirectoryEntry, error) {
	if _, err := m.store.GetPlugin(ctx, name); err != nil {
		return nil, err
	}
	client, err := m.client(ctx, name)
	if err != nil {
		return nil, err
	}
	return client.Lookup(ctx, dn)
}

// TestPlugin dials, binds and reads the root DSE with the stored
// configuration. Works on disabled plugins too, so operators can verify a
// configuration before switching it on.
func (m *Manager) TestPlugin(ctx context.Context, name string) error {
	client, err := m.client(ctx, name)
	if err != nil {
		return err
	}
	return client.TestConnection(ctx)
}

func (m *Manager) publish(eventType, plugin, principal, message string) {
	if m.opts.Events == nil {
		return
	}
	m.opts.Events.Publish(&models.SecurityEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Plugin:    plugin,
		Principal: principal,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}
