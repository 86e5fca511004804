package security

import (
	"context"
	"regexp"
	"strings"

	"github.com/authgrid/ldap-admin/internal/directory"
	"github.com/authgrid/ldap-admin/internal/models"
)

// userGroups returns the group principals of a user entry, honoring the
// plugin's group_members_query_mode.
func (m *Manager) userGroups(ctx context.Context, client *directory.Client, p *models.LDAPPlugin, entry *models.DirectoryEntry) ([]*models.Principal, error) {
	if p.GroupMembersQueryMode == models.GroupQueryModeMember {
		return m.memberModeGroups(ctx, client, p, entry)
	}
	return m.groupModeGroups(ctx, client, p, entry)
}

// groupModeGroups searches the groups container for entries listing the
// user's DN as a member, via the plugin's groups_query template.
func (m *Manager) groupModeGroups(ctx context.Context, client *directory.Client, p *models.LDAPPlugin, entry *models.DirectoryEntry) ([]*models.Principal, error) {
	if p.GroupsBaseDN == "" || p.GroupsQuery == "" {
		return []*models.Principal{}, nil
	}
	found, err := client.Search(ctx, directory.Query{
		BaseDN: p.GroupsBaseDN,
		Scope:  p.GroupsSearchScope,
		Filter: directory.FormatQuery(p.GroupsQuery, map[string]string{"dn": entry.DN}),
	})
	if err != nil {
		return nil, err
	}
	groups := make([]*models.Principal, 0, len(found))
	for _, g := range found {
		groups = append(groups, groupPrincipal(p, g))
	}
	return groups, nil
}

// memberModeGroups reads group DNs off the user entry itself (memberOf
// style) and resolves each one. Dangling references are logged and skipped:
// directories routinely keep memberOf values pointing at deleted groups.
func (m *Manager) memberModeGroups(ctx context.Context, client *directory.Client, p *models.LDAPPlugin, entry *models.DirectoryEntry) ([]*models.Principal, error) {
	dns := entry.GetAttribute(p.UserGroupsAttribute)
	groups := make([]*models.Principal, 0, len(dns))
	for _, dn := range dns {
		g, err := client.Lookup(ctx, dn)
		if err != nil {
			return nil, err
		}
		if len(g.Attributes) == 0 {
			m.logger.Warn("Group referenced by user entry does not resolve",
				"plugin", p.Prefix, "group_dn", dn)
			continue
		}
		groups = append(groups, groupPrincipal(p, g))
	}
	return groups, nil
}

// groupMail applies the plugin's group mail mode to a group entry: nothing,
// the group's own mail attribute, or an address rewritten from the group's
// mail (falling back to its DN) through the pattern|replacement expression.
func groupMail(p *models.LDAPPlugin, entry *models.DirectoryEntry) string {
	switch p.GroupMailMode {
	case models.GroupMailInternal:
		return entry.First(p.GroupMailAttribute)
	case models.GroupMailRedirect:
		source := entry.First(p.GroupMailAttribute)
		if source == "" {
			source = entry.DN
		}
		pattern, replacement, ok := strings.Cut(p.GroupReplaceExpression, "|")
		if !ok {
			return ""
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return ""
		}
		return re.ReplaceAllString(source, replacement)
	default:
		return ""
	}
}
