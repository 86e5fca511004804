package views

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/bwmarrin/go-objectsid"

	"github.com/authgrid/ldap-admin/internal/models"
)

// ValueSeparator joins multi-valued attributes for display. The console
// renders cell content as markup, so the separator is a line break.
const ValueSeparator = "<br /> "

// Attributes carrying a JPEG photo, replaced by an inline image tag.
var photoAttributes = map[string]bool{
	"jpegPhoto":      true,
	"thumbnailPhoto": true,
}

// Active Directory binary attributes decoded to their string forms so the
// inspector stays readable against AD servers.
const (
	attrObjectSid  = "objectSid"
	attrObjectGUID = "objectGUID"
)

// AttributeRow is one row of the entry inspector's attribute table.
type AttributeRow struct {
	Name  string `json:"attribute"`
	Value string `json:"value"`
}

// JoinValues renders an attribute value list for display.
func JoinValues(values []string) string {
	return strings.Join(values, ValueSeparator)
}

// FormatEntryAttributes applies the inspector display rules to an entry:
// photo attributes collapse to their first value rendered as an inline
// base64 image, objectSid/objectGUID decode to their string forms, and the
// result is sorted alphabetically by attribute name.
func FormatEntryAttributes(e *models.DirectoryEntry) []AttributeRow {
	rows := make([]AttributeRow, 0, len(e.Attributes))
	for name, values := range e.Attributes {
		rows = append(rows, AttributeRow{Name: name, Value: formatAttribute(name, values)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

func formatAttribute(name string, values []string) string {
	switch {
	case photoAttributes[name]:
		if len(values) == 0 {
			return ""
		}
		return fmt.Sprintf(`<img src="data:image/jpeg;base64,%s" />`,
			base64.StdEncoding.EncodeToString([]byte(values[0])))
	case name == attrObjectSid:
		return JoinValues(decodeAll(values, decodeSID))
	case name == attrObjectGUID:
		return JoinValues(decodeAll(values, decodeGUID))
	default:
		return JoinValues(values)
	}
}

func decodeAll(values []string, decode func([]byte) (string, bool)) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if s, ok := decode([]byte(v)); ok {
			out[i] = s
		} else {
			out[i] = v
		}
	}
	return out
}

// decodeSID renders a binary security identifier as S-1-5-21-... text.
func decodeSID(b []byte) (string, bool) {
	// SID layout: revision byte, sub-authority count, 6-byte authority,
	// then 4 bytes per sub-authority.
	if len(b) < 8 || len(b) != 8+int(b[1])*4 {
		return "", false
	}
	return objectsid.Decode(b).String(), true
}

// decodeGUID renders the 16-byte mixed-endian objectGUID in the standard
// 8-4-4-4-12 form. The first three groups are stored little-endian.
func decodeGUID(b []byte) (string, bool) {
	if len(b) != 16 {
		return "", false
	}
	ordered := []byte{
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
	}
	ordered = append(ordered, b[8:]...)

	h := hex.EncodeToString(ordered)
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32]), true
}

// SearchRow is one row of the search-results table. UID reads the plugin's
// configured uid attribute; cn and mail are fixed attribute names matching
// the table descriptor.
type SearchRow struct {
	DN   string `json:"dn"`
	UID  string `json:"uid"`
	CN   string `json:"cn"`
	Mail string `json:"mail"`
	Link string `json:"link"`
}

// SearchResultRows maps directory entries to table rows, joining
// multi-valued attributes with the display separator.
func SearchResultRows(p *models.LDAPPlugin, entries []*models.DirectoryEntry) []SearchRow {
	rows := make([]SearchRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, SearchRow{
			DN:   e.DN,
			UID:  JoinValues(e.GetAttribute(p.UIDAttribute)),
			CN:   JoinValues(e.GetAttribute("cn")),
			Mail: JoinValues(e.GetAttribute("mail")),
			Link: EntryFormName + "?dn=" + url.QueryEscape(e.DN),
		})
	}
	return rows
}

// PluginRow is one row of the security-plugins overview table.
type PluginRow struct {
	Prefix  string `json:"prefix"`
	Title   string `json:"title"`
	Enabled bool   `json:"enabled"`
	Link    string `json:"link"`
}

// PluginRows maps plugin configurations to overview table rows.
func PluginRows(plugins []*models.LDAPPlugin) []PluginRow {
	rows := make([]PluginRow, 0, len(plugins))
	for _, p := range plugins {
		rows = append(rows, PluginRow{
			Prefix:  p.Prefix,
			Title:   p.Title,
			Enabled: p.Enabled,
			Link:    PropertiesName + "?plugin=" + url.QueryEscape(p.Prefix),
		})
	}
	return rows
}
