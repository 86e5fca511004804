package directory

import (
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/authgrid/ldap-admin/internal/models"
)

// scopeValue maps a plugin scope name to the protocol constant. Validation
// happens on the model; anything unexpected falls back to subtree.
func scopeValue(scope string) int {
	switch scope {
	case models.ScopeBase:
		return ldap.ScopeBaseObject
	case models.ScopeOneLevel:
		return ldap.ScopeSingleLevel
	default:
		return ldap.ScopeWholeSubtree
	}
}

// FormatQuery fills the {login}, {dn} and {query} placeholders of a filter
// template. Values are filter-escaped (RFC 4515) before substitution so user
// input cannot alter the filter structure.
func FormatQuery(template string, params map[string]string) string {
	pairs := make([]string, 0, len(params)*2)
	for name, value := range params {
		pairs = append(pairs, "{"+name+"}", ldap.EscapeFilter(value))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// entryFromLDAP converts a wire entry into the model the rest of the service
// works with.
func entryFromLDAP(e *ldap.Entry) *models.DirectoryEntry {
	attrs := make(map[string][]string, len(e.Attributes))
	for _, a := range e.Attributes {
		attrs[a.Name] = a.Values
	}
	return &models.DirectoryEntry{DN: e.DN, Attributes: attrs}
}
