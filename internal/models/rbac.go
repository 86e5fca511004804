package models

import "time"

// Permission strings follow the resource.action convention used by the
// RBAC middleware. ManageSecurity gates every plugin administration route,
// including the directory search and entry inspector views.
const (
	PermissionManageSecurity = "security.manage"
	PermissionViewSecurity   = "security.view"
)

// Role names created by the bootstrap service.
const (
	RoleSecurityAdmin = "security-admin"
	RoleViewer        = "viewer"
)

// Role maps a name to a set of permissions.
type Role struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasPermission reports whether the role grants the permission, honoring
// the "resource.*" wildcard form.
func (r *Role) HasPermission(permission string) bool {
	for _, p := range r.Permissions {
		if p == permission || p == "*" {
			return true
		}
		if n := len(p); n > 2 && p[n-2:] == ".*" && len(permission) >= n-2 && permission[:n-2] == p[:n-2] {
			return true
		}
	}
	return false
}
