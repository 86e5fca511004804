package security

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/authgrid/ldap-admin/internal/directory"
	"github.com/authgrid/ldap-admin/internal/models"
)

// titlePlaceholder matches {attr} and {attr[n]} references in title format
// strings.
var titlePlaceholder = regexp.MustCompile(`\{([A-Za-z][A-Za-z0-9;_-]*)(?:\[(\d+)\])?\}`)

// RenderTitle expands a title format like "{cn[0]}" or "{sn}, {givenName}"
// against an entry. A reference picks one attribute value by index, or the
// first value when no index is given; references to absent attributes
// render empty. A format that renders to nothing at all falls back to the
// entry DN.
func RenderTitle(format string, entry *models.DirectoryEntry) string {
	if format == "" {
		return entry.DN
	}
	title := titlePlaceholder.ReplaceAllStringFunc(format, func(ref string) string {
		parts := titlePlaceholder.FindStringSubmatch(ref)
		values := entry.GetAttribute(parts[1])
		idx := 0
		if parts[2] != "" {
			idx, _ = strconv.Atoi(parts[2])
		}
		if idx < len(values) {
			return values[idx]
		}
		return ""
	})
	if title = strings.TrimSpace(title); title == "" {
		return entry.DN
	}
	return title
}

// principalLogin is the plugin-local identifier embedded in a user
// principal ID: the DN itself when uid_attribute is "dn", otherwise the
// entry's uid attribute value.
func principalLogin(p *models.LDAPPlugin, entry *models.DirectoryEntry) string {
	if p.UIDAttribute == "" || p.UIDAttribute == "dn" {
		return entry.DN
	}
	return entry.First(p.UIDAttribute)
}

// groupUID is the plugin-local identifier of a group entry.
func groupUID(p *models.LDAPPlugin, entry *models.DirectoryEntry) string {
	if p.GroupUIDAttribute == "" || p.GroupUIDAttribute == "dn" {
		return entry.DN
	}
	return entry.First(p.GroupUIDAttribute)
}

// userPrincipal builds the principal for a user entry.
func userPrincipal(p *models.LDAPPlugin, entry *models.DirectoryEntry) *models.Principal {
	pr := &models.Principal{
		ID:    p.PrincipalID(principalLogin(p, entry)),
		Type:  models.PrincipalUser,
		Title: RenderTitle(p.TitleFormat, entry),
		Mail:  entry.First(p.MailAttribute),
		DN:    entry.DN,
	}
	if len(p.UserExtraAttributes) > 0 {
		pr.Attributes = make(map[string][]string)
		for _, name := range p.UserExtraAttributes {
			if vs := entry.GetAttribute(name); len(vs) > 0 {
				pr.Attributes[name] = vs
			}
		}
	}
	return pr
}

// groupPrincipal builds the principal for a group entry, with the mail
// address dictated by the plugin's group mail mode.
func groupPrincipal(p *models.LDAPPlugin, entry *models.DirectoryEntry) *models.Principal {
	pr := &models.Principal{
		ID:    p.GroupPrincipalID(groupUID(p, entry)),
		Type:  models.PrincipalGroup,
		Title: RenderTitle(p.GroupTitleFormat, entry),
		Mail:  groupMail(p, entry),
		DN:    entry.DN,
	}
	if len(p.GroupExtraAttributes) > 0 {
		pr.Attributes = make(map[string][]string)
		for _, name := range p.GroupExtraAttributes {
			if vs := entry.GetAttribute(name); len(vs) > 0 {
				pr.Attributes[name] = vs
			}
		}
	}
	return pr
}

// GetPrincipal resolves a principal ID of the form prefix:login or
// prefix:group_prefix:uid against its plugin. Built-in accounts resolve
// under the reserved "local" prefix. Disabled plugins resolve nothing.
func (m *Manager) GetPrincipal(ctx context.Context, id string) (*models.Principal, error) {
	prefix, rest, ok := strings.Cut(id, ":")
	if !ok || prefix == "" || rest == "" {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, id)
	}

	if prefix == LocalPluginName {
		return m.localPrincipal(ctx, rest)
	}

	p, err := m.store.GetPlugin(ctx, prefix)
	if err != nil || !p.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, id)
	}
	client, err := m.client(ctx, prefix)
	if err != nil {
		return nil, err
	}

	if p.GroupPrefix != "" {
		if uid, found := strings.CutPrefix(rest, p.GroupPrefix+":"); found {
			entry, err := m.groupEntry(ctx, client, p, uid)
			if err != nil {
				return nil, err
			}
			return groupPrincipal(p, entry), nil
		}
	}

	entry, err := m.userEntry(ctx, client, p, rest)
	if err != nil {
		return nil, err
	}
	return userPrincipal(p, entry), nil
}

// userEntry finds the unique user entry behind a principal login. With
// uid_attribute "dn" the login part is the DN itself and resolves with a
// base-scoped lookup; otherwise the plugin's uid_query finds it.
func (m *Manager) userEntry(ctx context.Context, client *directory.Client, p *models.LDAPPlugin, login string) (*models.DirectoryEntry, error) {
	if p.UIDAttribute == "" || p.UIDAttribute == "dn" {
		entry, err := client.Lookup(ctx, login)
		if err != nil {
			return nil, err
		}
		if len(entry.Attributes) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, p.PrincipalID(login))
		}
		return entry, nil
	}

	entries, err := client.Search(ctx, directory.Query{
		BaseDN: p.BaseDN,
		Scope:  p.SearchScope,
		Filter: directory.FormatQuery(p.UIDQuery, map[string]string{"login": login}),
		// One match is the answer, a second proves ambiguity.
		SizeLimit: 2,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) != 1 {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, p.PrincipalID(login))
	}
	return entries[0], nil
}

// groupEntry finds the unique group entry behind a group uid, mirroring
// userEntry for the groups schema.
func (m *Manager) groupEntry(ctx context.Context, client *directory.Client, p *models.LDAPPlugin, uid string) (*models.DirectoryEntry, error) {
	if p.GroupUIDAttribute == "" || p.GroupUIDAttribute == "dn" {
		entry, err := client.Lookup(ctx, uid)
		if err != nil {
			return nil, err
		}
		if len(entry.Attributes) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, p.GroupPrincipalID(uid))
		}
		return entry, nil
	}

	entries, err := client.Search(ctx, directory.Query{
		BaseDN:    p.GroupsBaseDN,
		Scope:     p.GroupsSearchScope,
		Filter:    directory.FormatQuery(fmt.Sprintf("(%s={uid})", p.GroupUIDAttribute), map[string]string{"uid": uid}),
		SizeLimit: 2,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) != 1 {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, p.GroupPrincipalID(uid))
	}
	return entries[0], nil
}

// FindPrincipals searches users and groups across every enabled plugin with
// the *_search_query templates, plus local accounts matching by login or
// full name. A plugin whose directory fails is logged and skipped so one
// dead server cannot blank the whole result.
func (m *Manager) FindPrincipals(ctx context.Context, query string) ([]*models.Principal, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*models.Principal{}, nil
	}

	principals := []*models.Principal{}

	locals, err := m.store.ListLocalAccounts(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	for _, a := range locals {
		if strings.Contains(strings.ToLower(a.Login), needle) ||
			strings.Contains(strings.ToLower(a.FullName), needle) {
			principals = append(principals, localAccountPrincipal(a))
		}
	}

	plugins, err := m.enabledPlugins(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range plugins {
		found, err := m.findPluginPrincipals(ctx, p, query)
		if err != nil {
			m.logger.Warn("Principal search failed for plugin, skipping",
				"plugin", p.Prefix, "error", err)
			continue
		}
		principals = append(principals, found...)
	}
	return principals, nil
}

func (m *Manager) findPluginPrincipals(ctx context.Context, p *models.LDAPPlugin, query string) ([]*models.Principal, error) {
	client, err := m.client(ctx, p.Prefix)
	if err != nil {
		return nil, err
	}
	params := map[string]string{"query": query}

	var out []*models.Principal
	users, err := client.Search(ctx, directory.Query{
		BaseDN: p.BaseDN,
		Scope:  p.SearchScope,
		Filter: directory.FormatQuery(p.UsersSearchQuery, params),
	})
	if err != nil {
		return nil, err
	}
	for _, e := range users {
		out = append(out, userPrincipal(p, e))
	}

	if p.GroupsBaseDN == "" || p.GroupsSearchQuery == "" {
		return out, nil
	}
	groups, err := client.Search(ctx, directory.Query{
		BaseDN: p.GroupsBaseDN,
		Scope:  p.GroupsSearchScope,
		Filter: directory.FormatQuery(p.GroupsSearchQuery, params),
	})
	if err != nil {
		return nil, err
	}
	for _, e := range groups {
		out = append(out, groupPrincipal(p, e))
	}
	return out, nil
}

// PrincipalGroups resolves the groups a user principal belongs to per its
// plugin's groups schema. Local accounts and group principals have none.
func (m *Manager) PrincipalGroups(ctx context.Context, id string) ([]*models.Principal, error) {
	prefix, rest, ok := strings.Cut(id, ":")
	if !ok || prefix == "" || rest == "" {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, id)
	}
	if prefix == LocalPluginName {
		return []*models.Principal{}, nil
	}

	p, err := m.store.GetPlugin(ctx, prefix)
	if err != nil || !p.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, id)
	}
	if p.GroupPrefix != "" && strings.HasPrefix(rest, p.GroupPrefix+":") {
		return []*models.Principal{}, nil
	}

	client, err := m.client(ctx, prefix)
	if err != nil {
		return nil, err
	}
	entry, err := m.userEntry(ctx, client, p, rest)
	if err != nil {
		return nil, err
	}
	return m.userGroups(ctx, client, p, entry)
}
