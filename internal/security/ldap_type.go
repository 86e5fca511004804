package security

import (
	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/views"
)

// TypeLDAP is the name the LDAP plugin type registers under.
const TypeLDAP = "ldap"

func init() {
	RegisterPluginType(ldapType{})
}

// ldapType binds the LDAP console descriptors into the type registry.
type ldapType struct{}

func (ldapType) Name() string         { return TypeLDAP }
func (ldapType) AddMenu() views.Menu  { return views.LDAPAddMenu() }
func (ldapType) AddForm() *views.Form { return views.LDAPAddForm() }

func (ldapType) PropertiesForm(p *models.LDAPPlugin) *views.Form {
	return views.LDAPPropertiesForm(p)
}

func (ldapType) SearchForm(p *models.LDAPPlugin) *views.Form {
	return views.LDAPSearchForm(p)
}

func (ldapType) SearchResultsTable(p *models.LDAPPlugin) *views.Table {
	return views.LDAPSearchResultsTable(p)
}
