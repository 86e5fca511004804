package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/creasty/defaults"
)

// Search scopes accepted by directory queries.
const (
	ScopeBase     = "base"
	ScopeOneLevel = "onelevel"
	ScopeSubtree  = "subtree"
)

// Service-account bind modes.
const (
	BindAnonymous = "anonymous"
	BindSimple    = "simple"
)

// Group membership resolution modes: query the groups tree for entries
// holding the user as member, or read membership off the user entry itself.
const (
	GroupQueryModeGroup  = "group"
	GroupQueryModeMember = "member"
)

// Group mail modes.
const (
	GroupMailNone     = "none"
	GroupMailInternal = "internal"
	GroupMailRedirect = "redirect"
)

// LDAPPlugin is the persisted configuration of one LDAP authentication
// plugin. The field groups mirror the four tabs of the admin forms:
// connection, users schema, groups schema and search settings.
type LDAPPlugin struct {
	Prefix  string `json:"prefix" yaml:"prefix"`
	Title   string `json:"title" yaml:"title"`
	Enabled bool   `json:"enabled" yaml:"enabled" default:"true"`

	// Connection
	ServerURI    string `json:"server_uri" yaml:"server_uri"`
	StartTLS     bool   `json:"start_tls" yaml:"start_tls"`
	BindDN       string `json:"bind_dn" yaml:"bind_dn"`
	BindPassword string `json:"bind_password,omitempty" yaml:"bind_password"`
	BindMode     string `json:"bind_mode" yaml:"bind_mode" default:"simple"`

	// Users schema
	BaseDN              string   `json:"base_dn" yaml:"base_dn"`
	SearchScope         string   `json:"search_scope" yaml:"search_scope" default:"subtree"`
	LoginAttribute      string   `json:"login_attribute" yaml:"login_attribute" default:"uid"`
	LoginQuery          string   `json:"login_query" yaml:"login_query" default:"(uid={login})"`
	UIDAttribute        string   `json:"uid_attribute" yaml:"uid_attribute" default:"dn"`
	UIDQuery            string   `json:"uid_query" yaml:"uid_query" default:"(uid={login})"`
	TitleFormat         string   `json:"title_format" yaml:"title_format" default:"{cn[0]}"`
	MailAttribute       string   `json:"mail_attribute" yaml:"mail_attribute" default:"mail"`
	UserExtraAttributes []string `json:"user_extra_attributes" yaml:"user_extra_attributes"`

	// Groups schema
	GroupsBaseDN           string   `json:"groups_base_dn" yaml:"groups_base_dn"`
	GroupsSearchScope      string   `json:"groups_search_scope" yaml:"groups_search_scope" default:"subtree"`
	GroupPrefix            string   `json:"group_prefix" yaml:"group_prefix" default:"group"`
	GroupUIDAttribute      string   `json:"group_uid_attribute" yaml:"group_uid_attribute" default:"dn"`
	GroupTitleFormat       string   `json:"group_title_format" yaml:"group_title_format" default:"{cn[0]}"`
	GroupMembersQueryMode  string   `json:"group_members_query_mode" yaml:"group_members_query_mode" default:"group"`
	GroupsQuery            string   `json:"groups_query" yaml:"groups_query" default:"(&(objectclass=groupOfUniqueNames)(uniqueMember={dn}))"`
	GroupMembersAttribute  string   `json:"group_members_attribute" yaml:"group_members_attribute" default:"uniqueMember"`
	UserGroupsAttribute    string   `json:"user_groups_attribute" yaml:"user_groups_attribute" default:"memberOf"`
	GroupMailMode          string   `json:"group_mail_mode" yaml:"group_mail_mode" default:"none"`
	GroupReplaceExpression string   `json:"group_replace_expression" yaml:"group_replace_expression" default:"dc=example,dc=com|example.com"`
	GroupMailAttribute     string   `json:"group_mail_attribute" yaml:"group_mail_attribute" default:"mail"`
	GroupExtraAttributes   []string `json:"group_extra_attributes" yaml:"group_extra_attributes"`

	// Search settings
	UsersSelectQuery  string `json:"users_select_query" yaml:"users_select_query" default:"(uid={query}*)"`
	UsersSearchQuery  string `json:"users_search_query" yaml:"users_search_query" default:"(|(givenName={query}*)(sn={query}*))"`
	GroupsSelectQuery string `json:"groups_select_query" yaml:"groups_select_query" default:"(cn={query}*)"`
	GroupsSearchQuery string `json:"groups_search_query" yaml:"groups_search_query" default:"(cn={query}*)"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// NewLDAPPlugin returns a plugin with all schema defaults applied. Callers
// bind request payloads over the returned struct so that absent fields keep
// their defaults and present fields win.
func NewLDAPPlugin() *LDAPPlugin {
	p := &LDAPPlugin{}
	if err := defaults.Set(p); err != nil {
		// only possible with a broken struct tag
		panic(err)
	}
	return p
}

func validScope(s string) bool {
	switch s {
	case ScopeBase, ScopeOneLevel, ScopeSubtree:
		return true
	}
	return false
}

func validPrefix(p string) bool {
	if p == "" {
		return false
	}
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// Validate checks the configuration for internal consistency. It does not
// touch the network; connection problems surface on first use or through
// the test-connection endpoint.
func (p *LDAPPlugin) Validate() error {
	if !validPrefix(p.Prefix) {
		return fmt.Errorf("invalid plugin prefix %q: lowercase letters, digits, '.', '-' and '_' only", p.Prefix)
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("plugin title is required")
	}

	u, err := url.Parse(p.ServerURI)
	if err != nil {
		return fmt.Errorf("invalid server URI %q: %w", p.ServerURI, err)
	}
	switch u.Scheme {
	case "ldap", "ldaps", "ldapi":
	default:
		return fmt.Errorf("invalid server URI scheme %q: must be ldap, ldaps or ldapi", u.Scheme)
	}
	if u.Scheme == "ldaps" && p.StartTLS {
		return fmt.Errorf("start_tls cannot be combined with an ldaps:// URI")
	}

	switch p.BindMode {
	case BindAnonymous:
	case BindSimple:
		if strings.TrimSpace(p.BindDN) == "" {
			return fmt.Errorf("bind_mode %q requires a bind_dn", BindSimple)
		}
	default:
		return fmt.Errorf("invalid bind_mode %q", p.BindMode)
	}

	if !validScope(p.SearchScope) {
		return fmt.Errorf("invalid search_scope %q", p.SearchScope)
	}
	if !validScope(p.GroupsSearchScope) {
		return fmt.Errorf("invalid groups_search_scope %q", p.GroupsSearchScope)
	}

	switch p.GroupMembersQueryMode {
	case GroupQueryModeGroup, GroupQueryModeMember:
	default:
		return fmt.Errorf("invalid group_members_query_mode %q", p.GroupMembersQueryMode)
	}

	switch p.GroupMailMode {
	case GroupMailNone, GroupMailInternal:
	case GroupMailRedirect:
		if !strings.Contains(p.GroupReplaceExpression, "|") {
			return fmt.Errorf("group_mail_mode %q requires a group_replace_expression of the form pattern|replacement", GroupMailRedirect)
		}
	default:
		return fmt.Errorf("invalid group_mail_mode %q", p.GroupMailMode)
	}

	for name, q := range map[string]string{
		"login_query":         p.LoginQuery,
		"uid_query":           p.UIDQuery,
		"users_select_query":  p.UsersSelectQuery,
		"users_search_query":  p.UsersSearchQuery,
		"groups_select_query": p.GroupsSelectQuery,
		"groups_search_query": p.GroupsSearchQuery,
	} {
		if q == "" {
			continue
		}
		if strings.Count(q, "(") != strings.Count(q, ")") {
			return fmt.Errorf("unbalanced parentheses in %s", name)
		}
	}
	if p.GroupsQuery != "" && strings.Count(p.GroupsQuery, "(") != strings.Count(p.GroupsQuery, ")") {
		return fmt.Errorf("unbalanced parentheses in groups_query")
	}

	return nil
}

// Redacted returns a copy safe for API responses: the service bind password
// is write-only and never echoed back.
func (p *LDAPPlugin) Redacted() *LDAPPlugin {
	c := *p
	c.BindPassword = ""
	return &c
}

// PrincipalID builds the ID issued for an authenticated user of this plugin.
func (p *LDAPPlugin) PrincipalID(login string) string {
	return fmt.Sprintf("%s:%s", p.Prefix, login)
}

// GroupPrincipalID builds the ID issued for a group resolved by this plugin.
func (p *LDAPPlugin) GroupPrincipalID(uid string) string {
	if p.GroupPrefix == "" {
		return fmt.Sprintf("%s:%s", p.Prefix, uid)
	}
	return fmt.Sprintf("%s:%s:%s", p.Prefix, p.GroupPrefix, uid)
}
