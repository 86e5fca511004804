package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/store"
)

const (
	policyKeyFormat = "security:policy:%s"
	policyCacheTTL  = 15 * time.Minute
)

// RolePermissions returns the permission set of a role, cached in Valkey so
// the per-request RBAC check stays off the store. Unknown roles grant
// nothing; the empty set is cached too, keeping repeated checks cheap.
func (m *Manager) RolePermissions(ctx context.Context, role string) ([]string, error) {
	key := fmt.Sprintf(policyKeyFormat, role)
	if data, err := m.cache.Get(ctx, key); err == nil {
		var perms []string
		if err := json.Unmarshal(data, &perms); err == nil {
			return perms, nil
		}
		m.logger.Warn("Corrupt policy cache entry, rebuilding", "role", role)
	}

	var perms []string
	r, err := m.store.GetRole(ctx, role)
	switch {
	case err == nil:
		perms = r.Permissions
	case errors.Is(err, store.ErrNotFound):
		perms = []string{}
	default:
		return nil, err
	}

	if data, err := json.Marshal(perms); err == nil {
		_ = m.cache.Set(ctx, key, string(data), policyCacheTTL)
	}
	return perms, nil
}

// HasPermission reports whether any of the roles grants the permission,
// honoring the "resource.*" wildcard. A role that cannot be loaded counts
// as granting nothing.
func (m *Manager) HasPermission(ctx context.Context, roles []string, permission string) bool {
	for _, role := range roles {
		perms, err := m.RolePermissions(ctx, role)
		if err != nil {
			m.logger.Warn("Role lookup failed during permission check", "role", role, "error", err)
			continue
		}
		r := models.Role{Name: role, Permissions: perms}
		if r.HasPermission(permission) {
			return true
		}
	}
	return false
}
