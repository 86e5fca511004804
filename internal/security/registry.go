// Package security owns the authentication plugin configurations and every
// operation that crosses them: plugin CRUD, directory search on behalf of
// the admin console, principal resolution, local-account authentication
// with TOTP, server-side sessions and RBAC policy lookups.
package security

import (
	"sort"
	"sync"

	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/views"
)

// PluginType describes one kind of authentication plugin the service can
// manage: the console descriptors for creating, editing and searching
// instances of it. Types register themselves at init time the way
// database/sql drivers do.
type PluginType interface {
	Name() string
	AddMenu() views.Menu
	AddForm() *views.Form
	PropertiesForm(p *models.LDAPPlugin) *views.Form
	SearchForm(p *models.LDAPPlugin) *views.Form
	SearchResultsTable(p *models.LDAPPlugin) *views.Table
}

var (
	typesMu sync.RWMutex
	types   = make(map[string]PluginType)
)

// RegisterPluginType makes a plugin type available under its name. It
// panics when t is nil or the name is already registered.
func RegisterPluginType(t PluginType) {
	typesMu.Lock()
	defer typesMu.Unlock()
	if t == nil {
		panic("security: RegisterPluginType with nil plugin type")
	}
	if _, dup := types[t.Name()]; dup {
		panic("security: RegisterPluginType called twice for type " + t.Name())
	}
	types[t.Name()] = t
}

// GetPluginType returns a registered plugin type by name.
func GetPluginType(name string) (PluginType, bool) {
	typesMu.RLock()
	defer typesMu.RUnlock()
	t, ok := types[name]
	return t, ok
}

// PluginTypeNames returns the registered type names, sorted.
func PluginTypeNames() []string {
	typesMu.RLock()
	defer typesMu.RUnlock()
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddMenus collects the "add plugin" menu entries of every registered type,
// weight-sorted for the console.
func AddMenus() []views.Menu {
	typesMu.RLock()
	defer typesMu.RUnlock()
	menus := make([]views.Menu, 0, len(types))
	for _, t := range types {
		menus = append(menus, t.AddMenu())
	}
	views.SortMenus(menus)
	return menus
}
