package models

// DirectoryEntry is one LDAP entry as returned by the directory layer: a
// distinguished name plus the attribute map. Binary attribute values are
// carried as raw strings; presentation-level decoding (photos, SIDs) happens
// in the views package.
type DirectoryEntry struct {
	DN         string              `json:"dn"`
	Attributes map[string][]string `json:"attributes"`
}

// GetAttribute returns the values of a named attribute, or nil. The special
// name "dn" resolves to the entry DN itself, matching the uid_attribute
// convention where "dn" selects the distinguished name.
func (e *DirectoryEntry) GetAttribute(name string) []string {
	if name == "dn" {
		return []string{e.DN}
	}
	return e.Attributes[name]
}

// First returns the first value of a named attribute, or "".
func (e *DirectoryEntry) First(name string) string {
	if vs := e.GetAttribute(name); len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// SearchCriteria carries an admin directory search. Exact selects the
// *_select_query templates instead of the broader *_search_query ones.
type SearchCriteria struct {
	Query string `json:"query" form:"query"`
	Exact bool   `json:"exact" form:"exact"`
}

// Principal is a resolved directory identity: a user or a group, with the
// display title rendered from the plugin's title format.
type Principal struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	Title      string              `json:"title"`
	Mail       string              `json:"mail,omitempty"`
	DN         string              `json:"dn,omitempty"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Principal types.
const (
	PrincipalUser  = "user"
	PrincipalGroup = "group"
)
