package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/pkg/cache"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

func newTestStore(t *testing.T) (*Store, cache.ValkeyCache) {
	t.Helper()
	log := logger.New("error")
	c := cache.NewNoopValkeyCache(log)
	return New(c, log), c
}

func testPlugin(prefix string) *models.LDAPPlugin {
	p := models.NewLDAPPlugin()
	p.Prefix = prefix
	p.Title = "Corporate directory"
	p.ServerURI = "ldap://ldap.example.com:389"
	p.BindDN = "cn=admin,dc=example,dc=com"
	p.BindPassword = "hunter2"
	p.BaseDN = "dc=example,dc=com"
	return p
}

func TestPluginRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p := testPlugin("corp")
	require.NoError(t, s.SavePlugin(ctx, p))
	require.False(t, p.CreatedAt.IsZero())

	got, err := s.GetPlugin(ctx, "corp")
	require.NoError(t, err)
	assert.Equal(t, "corp", got.Prefix)
	assert.Equal(t, "Corporate directory", got.Title)
	assert.Equal(t, "hunter2", got.BindPassword)
	assert.Equal(t, "(uid={login})", got.LoginQuery)
	assert.True(t, got.CreatedAt.Equal(p.CreatedAt))

	names, err := s.PluginNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"corp"}, names)
}

func TestPluginUpdateKeepsCreatedAt(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p := testPlugin("corp")
	require.NoError(t, s.SavePlugin(ctx, p))
	created := p.CreatedAt

	time.Sleep(5 * time.Millisecond)
	p.Title = "Corporate directory (EU)"
	require.NoError(t, s.SavePlugin(ctx, p))

	got, err := s.GetPlugin(ctx, "corp")
	require.NoError(t, err)
	assert.Equal(t, "Corporate directory (EU)", got.Title)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.After(created))

	names, err := s.PluginNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"corp"}, names, "re-saving must not duplicate the index entry")
}

func TestPluginNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetPlugin(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	err = s.DeletePlugin(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeletePluginRemovesFromIndex(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePlugin(ctx, testPlugin("corp")))
	require.NoError(t, s.SavePlugin(ctx, testPlugin("lab")))

	require.NoError(t, s.DeletePlugin(ctx, "corp"))

	_, err := s.GetPlugin(ctx, "corp")
	require.ErrorIs(t, err, ErrNotFound)

	names, err := s.PluginNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lab"}, names)
}

func TestPluginNamesSorted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, prefix := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.SavePlugin(ctx, testPlugin(prefix)))
	}

	names, err := s.PluginNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestListPluginsSkipsDanglingIndexEntry(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePlugin(ctx, testPlugin("corp")))
	require.NoError(t, s.SavePlugin(ctx, testPlugin("lab")))

	// Simulate a replica dying between index update and document write.
	require.NoError(t, c.Delete(ctx, fmt.Sprintf(pluginKeyFormat, "lab")))

	plugins, err := s.ListPlugins(ctx)
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, "corp", plugins[0].Prefix)
}

func TestLocalAccountRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a := &models.LocalAccount{
		Login:        "admin",
		FullName:     "Administrator",
		PasswordHash: "$2a$10$abcdefghijklmnopqrstuv",
		Roles:        []string{models.RoleSecurityAdmin},
		Active:       true,
		TOTPEnabled:  true,
		TOTPSecret:   "JBSWY3DPEHPK3PXP",
		BackupCodes:  []string{"11111111", "22222222"},
	}
	require.NoError(t, s.SaveLocalAccount(ctx, a))

	got, err := s.GetLocalAccount(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, a.PasswordHash, got.PasswordHash, "store must round-trip credential material")
	assert.Equal(t, a.TOTPSecret, got.TOTPSecret)
	assert.Equal(t, a.BackupCodes, got.BackupCodes)

	red := got.Redacted()
	assert.Empty(t, red.PasswordHash)
	assert.Empty(t, red.TOTPSecret)
	assert.Nil(t, red.BackupCodes)

	logins, err := s.LocalAccountLogins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, logins)

	require.NoError(t, s.DeleteLocalAccount(ctx, "admin"))
	_, err = s.GetLocalAccount(ctx, "admin")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRoleRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	r := &models.Role{
		Name:        models.RoleSecurityAdmin,
		Description: "Full security administration",
		Permissions: []string{"security.*"},
	}
	require.NoError(t, s.SaveRole(ctx, r))

	got, err := s.GetRole(ctx, models.RoleSecurityAdmin)
	require.NoError(t, err)
	assert.True(t, got.HasPermission(models.PermissionManageSecurity))
	assert.False(t, got.HasPermission("metrics.write"))

	roles, err := s.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)

	require.NoError(t, s.DeleteRole(ctx, models.RoleSecurityAdmin))
	_, err = s.GetRole(ctx, models.RoleSecurityAdmin)
	require.ErrorIs(t, err, ErrNotFound)

	names, err := s.RoleNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestIndexSurvivesCorruptDocument(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePlugin(ctx, testPlugin("corp")))
	require.NoError(t, c.Set(ctx, pluginIndexKey, "{not json", cache.NoExpiration))

	names, err := s.PluginNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "corrupt index reads as empty instead of failing")

	// The next write rebuilds a valid index.
	require.NoError(t, s.SavePlugin(ctx, testPlugin("lab")))
	names, err = s.PluginNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lab"}, names)
}

func TestWithIndexLockTimesOut(t *testing.T) {
	s, c := newTestStore(t)
	ctx := context.Background()

	held, err := c.AcquireLock(ctx, pluginIndexKey, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	err = s.SavePlugin(ctx, testPlugin("corp"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out waiting for lock")

	require.NoError(t, c.ReleaseLock(ctx, pluginIndexKey))
	require.NoError(t, s.SavePlugin(ctx, testPlugin("corp")))
}
