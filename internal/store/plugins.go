package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/authgrid/ldap-admin/internal/models"
)

// GetPlugin loads one plugin definition by name (its prefix).
func (s *Store) GetPlugin(ctx context.Context, name string) (*models.LDAPPlugin, error) {
	var p models.LDAPPlugin
	if err := s.getDocument(ctx, fmt.Sprintf(pluginKeyFormat, name), &p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("plugin %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// SavePlugin writes the plugin document and registers its name in the index.
// The plugin prefix is the document key, so renaming means delete + create.
func (s *Store) SavePlugin(ctx context.Context, p *models.LDAPPlugin) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if err := s.putDocument(ctx, fmt.Sprintf(pluginKeyFormat, p.Prefix), p); err != nil {
		return err
	}
	return s.addToIndex(ctx, pluginIndexKey, p.Prefix)
}

// DeletePlugin removes the plugin document and drops it from the index.
func (s *Store) DeletePlugin(ctx context.Context, name string) error {
	if _, err := s.GetPlugin(ctx, name); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, fmt.Sprintf(pluginKeyFormat, name)); err != nil {
		return fmt.Errorf("failed to delete plugin %q: %w", name, err)
	}
	return s.removeFromIndex(ctx, pluginIndexKey, name)
}

// PluginNames returns the sorted names of all stored plugins.
func (s *Store) PluginNames(ctx context.Context) ([]string, error) {
	return s.readIndex(ctx, pluginIndexKey)
}

// ListPlugins loads every plugin named in the index. An index entry whose
// document is missing is logged and skipped rather than failing the listing;
// that state is reachable when a replica dies between the document write and
// the index update.
func (s *Store) ListPlugins(ctx context.Context) ([]*models.LDAPPlugin, error) {
	names, err := s.PluginNames(ctx)
	if err != nil {
		return nil, err
	}

	plugins := make([]*models.LDAPPlugin, 0, len(names))
	for _, name := range names {
		p, err := s.GetPlugin(ctx, name)
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("Plugin in index has no document, skipping", "plugin", name)
			continue
		}
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}
