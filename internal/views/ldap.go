package views

import (
	"fmt"
	"strings"

	"github.com/authgrid/ldap-admin/internal/models"
)

// View names served to the console. These match the pagelet names the legacy
// admin skin routed on.
const (
	AddFormName       = "add-ldap-plugin.html"
	AddMenuName       = "add-ldap-plugin.menu"
	PropertiesName    = "properties.html"
	SearchFormName    = "search.html"
	SearchResultsName = "search-results.html"
	EntryFormName     = "ldap-properties.html"
	EntryTableName    = "entry-properties"
	PluginsTableName  = "security-plugins.html"
)

var (
	scopeChoices = []Choice{
		{Value: models.ScopeBase, Label: "Base object"},
		{Value: models.ScopeOneLevel, Label: "One level"},
		{Value: models.ScopeSubtree, Label: "Subtree"},
	}
	bindModeChoices = []Choice{
		{Value: models.BindAnonymous, Label: "Anonymous"},
		{Value: models.BindSimple, Label: "Simple"},
	}
	queryModeChoices = []Choice{
		{Value: models.GroupQueryModeGroup, Label: "Search groups container"},
		{Value: models.GroupQueryModeMember, Label: "Read user entry attribute"},
	}
	mailModeChoices = []Choice{
		{Value: models.GroupMailNone, Label: "No group mail"},
		{Value: models.GroupMailInternal, Label: "Group mail attribute"},
		{Value: models.GroupMailRedirect, Label: "Rewritten mail address"},
	}
)

// LDAPAddMenu is the "add LDAP directory" entry on the security-plugins
// table's context-addings menu.
func LDAPAddMenu() Menu {
	return Menu{
		Name:       AddMenuName,
		Label:      "Add LDAP directory...",
		Href:       AddFormName,
		Weight:     40,
		Permission: models.PermissionManageSecurity,
	}
}

// LDAPAddForm builds the add-form descriptor. Defaults come from a fresh
// plugin so the form and the model can never disagree on them.
func LDAPAddForm() *Form {
	p := models.NewLDAPPlugin()
	f := &Form{
		Name:    AddFormName,
		Title:   "Add LDAP directory",
		Submit:  "security/plugins",
		Fields:  basePluginFields(p, false),
		Tabs:    pluginTabs(p),
		BackURL: PluginsTableName,
	}
	f.SortTabs()
	return f
}

// LDAPPropertiesForm builds the edit-form descriptor with the plugin's
// current values filled in. The bind password is write-only and always
// renders empty; the prefix is read-only because issued principal IDs embed
// it.
func LDAPPropertiesForm(p *models.LDAPPlugin) *Form {
	f := &Form{
		Name:    PropertiesName,
		Title:   p.Title,
		Legend:  "LDAP directory properties",
		Submit:  fmt.Sprintf("security/plugins/%s", p.Prefix),
		Fields:  basePluginFields(p, true),
		Tabs:    pluginTabs(p),
		BackURL: PluginsTableName,
	}
	f.SortTabs()
	return f
}

// LDAPSearchForm builds the directory search form for one plugin.
func LDAPSearchForm(p *models.LDAPPlugin) *Form {
	return &Form{
		Name:    SearchFormName,
		Title:   "LDAP directory search form",
		Submit:  fmt.Sprintf("security/plugins/%s/search", p.Prefix),
		BackURL: PluginsTableName,
		Fields: []Field{
			{Name: "query", Title: "Search query", Type: FieldText, Required: true},
		},
	}
}

// LDAPSearchResultsTable builds the search-results table descriptor. The UID
// column reads the plugin's configured uid attribute; cn and mail are fixed
// attribute names. Rows open the entry inspector in a modal.
func LDAPSearchResultsTable(p *models.LDAPPlugin) *Table {
	t := &Table{
		Name:      SearchResultsName,
		Label:     "Search results",
		BatchSize: 999,
		RowLink:   EntryFormName + "?dn={dn}",
		RowModal:  true,
		Columns: []Column{
			{Name: "uid", Header: "UID", Weight: 10, Attribute: p.UIDAttribute},
			{Name: "cn", Header: "Common name", Weight: 20, Attribute: "cn"},
			{Name: "mail", Header: "Mail address", Weight: 30, Attribute: "mail"},
		},
	}
	t.SortColumns()
	return t
}

// PluginsTable builds the security-plugins overview table descriptor. Rows
// link to the plugin's properties form.
func PluginsTable() *Table {
	t := &Table{
		Name:      PluginsTableName,
		Label:     "Security plug-ins",
		BatchSize: 999,
		RowLink:   PropertiesName + "?plugin={prefix}",
		Columns: []Column{
			{Name: "title", Header: "Title", Weight: 10},
			{Name: "prefix", Header: "Prefix", Weight: 20},
			{Name: "enabled", Header: "Enabled", Weight: 30},
		},
	}
	t.SortColumns()
	return t
}

// LDAPEntryForm builds the entry inspector's modal display form.
func LDAPEntryForm() *Form {
	return &Form{
		Name:       EntryFormName,
		ModalClass: "modal-xl",
		Legend:     "LDAP entry attributes",
	}
}

// LDAPEntryTable builds the attribute/value table inside the entry inspector.
func LDAPEntryTable() *Table {
	t := &Table{
		Name:      EntryTableName,
		BatchSize: 999,
		Columns: []Column{
			{Name: "attribute", Header: "Attribute", Weight: 10},
			{Name: "values", Header: "Value", Weight: 20},
		},
	}
	t.SortColumns()
	return t
}

// EntryTitle renders the inspector's second title line. An empty DN means
// the lookup came back empty or ambiguous.
func EntryTitle(dn string) string {
	if dn == "" {
		dn = "unknown"
	}
	return fmt.Sprintf("DN: %s", dn)
}

func basePluginFields(p *models.LDAPPlugin, edit bool) []Field {
	return []Field{
		{Name: "prefix", Title: "Plug-in prefix", Type: FieldText, Required: true, ReadOnly: edit, Default: p.Prefix},
		{Name: "title", Title: "Plug-in title", Type: FieldText, Required: true, Default: p.Title},
		{Name: "enabled", Title: "Enabled plug-in?", Type: FieldCheckbox, Widget: WidgetSingleCheckbox, Default: boolDefault(p.Enabled)},
	}
}

func pluginTabs(p *models.LDAPPlugin) []Tab {
	return []Tab{
		connectionTab(p),
		usersSchemaTab(p),
		groupsSchemaTab(p),
		searchSettingsTab(p),
	}
}

func connectionTab(p *models.LDAPPlugin) Tab {
	return Tab{
		Name:   "connection",
		Title:  "Connection",
		Weight: 1,
		Fields: []Field{
			{Name: "server_uri", Title: "LDAP server URI", Type: FieldText, Required: true, Default: p.ServerURI},
			{Name: "start_tls", Title: "Use STARTTLS?", Type: FieldCheckbox, Widget: WidgetSingleCheckbox, Default: boolDefault(p.StartTLS)},
			{Name: "bind_dn", Title: "Bind DN", Type: FieldText, Default: p.BindDN},
			{Name: "bind_password", Title: "Bind password", Type: FieldPassword},
			{Name: "bind_mode", Title: "Bind mode", Type: FieldChoice, Values: bindModeChoices, Default: p.BindMode},
		},
	}
}

func usersSchemaTab(p *models.LDAPPlugin) Tab {
	return Tab{
		Name:   "users-schema",
		Title:  "Users schema",
		Weight: 10,
		Fields: []Field{
			{Name: "base_dn", Title: "Users base DN", Type: FieldText, Required: true, Default: p.BaseDN},
			{Name: "search_scope", Title: "Search scope", Type: FieldChoice, Values: scopeChoices, Default: p.SearchScope},
			{Name: "login_attribute", Title: "Login attribute", Type: FieldText, Default: p.LoginAttribute},
			{Name: "login_query", Title: "Login query", Type: FieldText, Default: p.LoginQuery},
			{Name: "uid_attribute", Title: "UID attribute", Type: FieldText, Default: p.UIDAttribute},
			{Name: "uid_query", Title: "UID query", Type: FieldText, Default: p.UIDQuery},
			{Name: "title_format", Title: "Title format", Type: FieldText, Default: p.TitleFormat},
			{Name: "mail_attribute", Title: "Mail attribute", Type: FieldText, Default: p.MailAttribute},
			{Name: "user_extra_attributes", Title: "Extra attributes", Type: FieldList, Default: strings.Join(p.UserExtraAttributes, ",")},
		},
	}
}

func groupsSchemaTab(p *models.LDAPPlugin) Tab {
	return Tab{
		Name:   "groups-schema",
		Title:  "Groups schema",
		Weight: 20,
		Fields: []Field{
			{Name: "groups_base_dn", Title: "Groups base DN", Type: FieldText, Default: p.GroupsBaseDN},
			{Name: "groups_search_scope", Title: "Groups search scope", Type: FieldChoice, Values: scopeChoices, Default: p.GroupsSearchScope},
			{Name: "group_prefix", Title: "Groups prefix", Type: FieldText, Default: p.GroupPrefix},
			{Name: "group_uid_attribute", Title: "Group UID attribute", Type: FieldText, Default: p.GroupUIDAttribute},
			{Name: "group_title_format", Title: "Group title format", Type: FieldText, Default: p.GroupTitleFormat},
			{Name: "group_members_query_mode", Title: "Members query mode", Type: FieldChoice, Values: queryModeChoices, Default: p.GroupMembersQueryMode},
			{Name: "groups_query", Title: "Groups query", Type: FieldText, Default: p.GroupsQuery},
			{Name: "group_members_attribute", Title: "Group members attribute", Type: FieldText, Default: p.GroupMembersAttribute},
			{Name: "user_groups_attribute", Title: "User groups attribute", Type: FieldText, Default: p.UserGroupsAttribute},
			{Name: "group_mail_mode", Title: "Group mail mode", Type: FieldChoice, Values: mailModeChoices, Default: p.GroupMailMode},
			{Name: "group_replace_expression", Title: "Mail replace expression", Type: FieldText, Default: p.GroupReplaceExpression},
			{Name: "group_mail_attribute", Title: "Group mail attribute", Type: FieldText, Default: p.GroupMailAttribute},
			{Name: "group_extra_attributes", Title: "Extra attributes", Type: FieldList, Default: strings.Join(p.GroupExtraAttributes, ",")},
		},
	}
}

func searchSettingsTab(p *models.LDAPPlugin) Tab {
	return Tab{
		Name:   "search-settings",
		Title:  "Search settings",
		Weight: 30,
		Fields: []Field{
			{Name: "users_select_query", Title: "Users select query", Type: FieldText, Default: p.UsersSelectQuery},
			{Name: "users_search_query", Title: "Users search query", Type: FieldText, Default: p.UsersSearchQuery},
			{Name: "groups_select_query", Title: "Groups select query", Type: FieldText, Default: p.GroupsSelectQuery},
			{Name: "groups_search_query", Title: "Groups search query", Type: FieldText, Default: p.GroupsSearchQuery},
		},
	}
}

func boolDefault(b bool) string {
	if b {
		return "true"
	}
	return ""
}
