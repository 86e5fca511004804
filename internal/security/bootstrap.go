package security

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/store"
)

const (
	bootstrapLockKey = "bootstrap"
	bootstrapLockTTL = 30 * time.Second
)

// Bootstrap brings the store to a usable baseline: the built-in roles, the
// administrator account and, when no plugin exists yet, the plugins
// declared in the configured seed file. It runs under a distributed lock so
// only one replica applies it; losing the race is not an error.
func (m *Manager) Bootstrap(ctx context.Context) error {
	ok, err := m.cache.AcquireLock(ctx, bootstrapLockKey, bootstrapLockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire bootstrap lock: %w", err)
	}
	if !ok {
		m.logger.Info("Bootstrap already running on another replica, skipping")
		return nil
	}
	defer func() {
		if err := m.cache.ReleaseLock(context.Background(), bootstrapLockKey); err != nil {
			m.logger.Warn("Failed to release bootstrap lock", "error", err)
		}
	}()

	if err := m.ensureRoles(ctx); err != nil {
		return err
	}
	if err := m.ensureAdminAccount(ctx); err != nil {
		return err
	}
	return m.seedPlugins(ctx)
}

// ensureRoles creates the built-in roles when absent. Existing roles are
// left alone; operators may have adjusted their permissions.
func (m *Manager) ensureRoles(ctx context.Context) error {
	builtin := []*models.Role{
		{
			Name:        models.RoleSecurityAdmin,
			Description: "Full control over security plugins, principals and sessions",
			Permissions: []string{"security.*"},
		},
		{
			Name:        models.RoleViewer,
			Description: "Read-only access to the security configuration",
			Permissions: []string{models.PermissionViewSecurity},
		},
	}
	for _, role := range builtin {
		if _, err := m.store.GetRole(ctx, role.Name); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := m.store.SaveRole(ctx, role); err != nil {
			return err
		}
		m.logger.Info("Built-in role created", "role", role.Name)
	}
	return nil
}

// ensureAdminAccount creates the bootstrap administrator when it is absent.
// Without a configured password the store is left untouched; a deployment
// can run on directory accounts alone.
func (m *Manager) ensureAdminAccount(ctx context.Context) error {
	cfg := m.opts.Auth.Bootstrap
	login := cfg.AdminLogin
	if login == "" {
		login = "admin"
	}
	if _, err := m.store.GetLocalAccount(ctx, login); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if cfg.AdminPassword == "" {
		m.logger.Warn("No bootstrap admin password configured and no admin account exists", "login", login)
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap password: %w", err)
	}
	account := &models.LocalAccount{
		Login:                 login,
		FullName:              "Administrator",
		PasswordHash:          string(hash),
		Roles:                 []string{models.RoleSecurityAdmin},
		Active:                true,
		RequirePasswordChange: cfg.RequirePasswordChange,
	}
	if err := m.store.SaveLocalAccount(ctx, account); err != nil {
		return err
	}
	m.logger.Info("Bootstrap administrator created", "login", login,
		"require_password_change", cfg.RequirePasswordChange)
	return nil
}

// seedPlugins creates the plugins declared in the seed file, but only when
// the store holds none at all: once populated, the store is authoritative.
func (m *Manager) seedPlugins(ctx context.Context) error {
	path := m.opts.Auth.PluginsFile
	if path == "" {
		return nil
	}
	names, err := m.store.PluginNames(ctx)
	if err != nil {
		return err
	}
	if len(names) > 0 {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Warn("Seed plugins file does not exist, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("failed to read seed plugins file %s: %w", path, err)
	}

	// Decoding node by node over a defaulted plugin keeps absent fields at
	// their schema defaults, same as the API create path.
	var doc struct {
		Plugins []yaml.Node `yaml:"plugins"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse seed plugins file %s: %w", path, err)
	}
	for _, node := range doc.Plugins {
		p := models.NewLDAPPlugin()
		if err := node.Decode(p); err != nil {
			return fmt.Errorf("failed to parse seed plugin: %w", err)
		}
		if err := m.CreatePlugin(ctx, p); err != nil {
			return fmt.Errorf("failed to seed plugin %q: %w", p.Prefix, err)
		}
	}
	if len(doc.Plugins) > 0 {
		m.logger.Info("Seed plugins created", "count", len(doc.Plugins), "path", path)
	}
	return nil
}
