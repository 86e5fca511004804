// Package views defines the JSON descriptors the admin console renders:
// forms with weighted tabs, tables with weighted columns, and context menus.
// The service ships no HTML; a generic console fetches these descriptors and
// the matching data endpoints. Descriptor names keep the legacy view names so
// console routes stay stable across versions.
package views

import "sort"

// Field widget types.
const (
	FieldText     = "text"
	FieldPassword = "password"
	FieldCheckbox = "checkbox"
	FieldChoice   = "choice"
	FieldList     = "list"
)

// WidgetSingleCheckbox renders a boolean as one labeled checkbox instead of
// the default yes/no radio pair.
const WidgetSingleCheckbox = "single-checkbox"

// Choice is one selectable value of a choice field.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field describes one form input.
type Field struct {
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	Type     string   `json:"type"`
	Widget   string   `json:"widget,omitempty"`
	Required bool     `json:"required,omitempty"`
	ReadOnly bool     `json:"read_only,omitempty"`
	Values   []Choice `json:"values,omitempty"`
	Default  string   `json:"default,omitempty"`
}

// Tab groups fields inside a form. Tabs render sorted by weight.
type Tab struct {
	Name   string  `json:"name"`
	Title  string  `json:"title"`
	Weight int     `json:"weight"`
	Fields []Field `json:"fields"`
}

// Form is a complete form descriptor. Fields holds inputs outside any tab
// (the base plugin fields); Tabs holds the weighted sub-forms.
type Form struct {
	Name       string  `json:"name"`
	Title      string  `json:"title"`
	Legend     string  `json:"legend,omitempty"`
	ModalClass string  `json:"modal_class,omitempty"`
	Submit     string  `json:"submit,omitempty"`
	BackURL    string  `json:"back_url,omitempty"`
	Fields     []Field `json:"fields,omitempty"`
	Tabs       []Tab   `json:"tabs,omitempty"`
}

// SortTabs orders tabs by weight. Registration order never matters; two tabs
// with equal weight keep their relative order.
func (f *Form) SortTabs() {
	sort.SliceStable(f.Tabs, func(i, j int) bool {
		return f.Tabs[i].Weight < f.Tabs[j].Weight
	})
}

// Column describes one table column. Attribute names the entry attribute the
// column reads; empty means the column is computed by the data endpoint.
type Column struct {
	Name      string `json:"name"`
	Header    string `json:"header"`
	Weight    int    `json:"weight"`
	Attribute string `json:"attribute,omitempty"`
}

// Table is a table descriptor. RowLink is a URL template the console expands
// per row ({dn} placeholders); RowModal opens the link in a modal.
type Table struct {
	Name      string   `json:"name"`
	Label     string   `json:"label,omitempty"`
	BatchSize int      `json:"batch_size"`
	RowLink   string   `json:"row_link,omitempty"`
	RowModal  bool     `json:"row_modal,omitempty"`
	Columns   []Column `json:"columns"`
}

// SortColumns orders columns by weight.
func (t *Table) SortColumns() {
	sort.SliceStable(t.Columns, func(i, j int) bool {
		return t.Columns[i].Weight < t.Columns[j].Weight
	})
}

// Menu is one context-menu entry (an "add plugin" action on the plugins
// table). Menus from every registered plugin type render sorted by weight.
type Menu struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Href       string `json:"href"`
	Weight     int    `json:"weight"`
	Permission string `json:"permission,omitempty"`
}

// SortMenus orders a menu slice by weight, keeping equal-weight order.
func SortMenus(menus []Menu) {
	sort.SliceStable(menus, func(i, j int) bool {
		return menus[i].Weight < menus[j].Weight
	})
}
