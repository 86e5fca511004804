package security

import (
	"context"
	"fmt"
	"strings"

	"github.com/authgrid/ldap-admin/internal/models"
)

// Role administration. Mutations invalidate the cached policy entry so
// permission checks see the change before the cache TTL would expire it.

// ListRoles returns every persisted role.
func (m *Manager) ListRoles(ctx context.Context) ([]*models.Role, error) {
	return m.store.ListRoles(ctx)
}

// GetRole loads one role by name.
func (m *Manager) GetRole(ctx context.Context, name string) (*models.Role, error) {
	return m.store.GetRole(ctx, name)
}

// SaveRole creates or replaces a role.
func (m *Manager) SaveRole(ctx context.Context, r *models.Role) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("role name is required")
	}
	if err := m.store.SaveRole(ctx, r); err != nil {
		return err
	}
	m.invalidatePolicy(ctx, r.Name)
	m.logger.Info("Role saved", "role", r.Name, "permissions", r.Permissions)
	return nil
}

// DeleteRole removes a role. The security-admin role is load-bearing: with
// it gone no session could administer the service until the next bootstrap,
// so it cannot be deleted.
func (m *Manager) DeleteRole(ctx context.Context, name string) error {
	if name == models.RoleSecurityAdmin {
		return fmt.Errorf("role %q is built in and cannot be deleted", name)
	}
	if err := m.store.DeleteRole(ctx, name); err != nil {
		return err
	}
	m.invalidatePolicy(ctx, name)
	m.logger.Info("Role deleted", "role", name)
	return nil
}

func (m *Manager) invalidatePolicy(ctx context.Context, role string) {
	if err := m.cache.Delete(ctx, fmt.Sprintf(policyKeyFormat, role)); err != nil {
		m.logger.Warn("Failed to invalidate policy cache", "role", role, "error", err)
	}
}
