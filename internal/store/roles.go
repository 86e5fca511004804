package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/authgrid/ldap-admin/internal/models"
)

// GetRole loads one role by name.
func (s *Store) GetRole(ctx context.Context, name string) (*models.Role, error) {
	var r models.Role
	if err := s.getDocument(ctx, fmt.Sprintf(roleKeyFormat, name), &r); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("role %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &r, nil
}

// SaveRole writes the role document and registers its name in the index.
func (s *Store) SaveRole(ctx context.Context, r *models.Role) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	if err := s.putDocument(ctx, fmt.Sprintf(roleKeyFormat, r.Name), r); err != nil {
		return err
	}
	return s.addToIndex(ctx, roleIndexKey, r.Name)
}

// DeleteRole removes the role document and drops it from the index.
func (s *Store) DeleteRole(ctx context.Context, name string) error {
	if _, err := s.GetRole(ctx, name); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, fmt.Sprintf(roleKeyFormat, name)); err != nil {
		return fmt.Errorf("failed to delete role %q: %w", name, err)
	}
	return s.removeFromIndex(ctx, roleIndexKey, name)
}

// RoleNames returns the sorted names of all stored roles.
func (s *Store) RoleNames(ctx context.Context) ([]string, error) {
	return s.readIndex(ctx, roleIndexKey)
}

// ListRoles loads every role named in the index, skipping dangling entries.
func (s *Store) ListRoles(ctx context.Context) ([]*models.Role, error) {
	names, err := s.RoleNames(ctx)
	if err != nil {
		return nil, err
	}

	roles := make([]*models.Role, 0, len(names))
	for _, name := range names {
		r, err := s.GetRole(ctx, name)
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("Role in index has no document, skipping", "role", name)
			continue
		}
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}
