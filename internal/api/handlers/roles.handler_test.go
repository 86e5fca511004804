package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/ldap-admin/internal/models"
)

func rolesTestRouter(e *testEnv) *gin.Engine {
	router := gin.New()
	h := NewRolesHandler(e.manager, e.logger)
	router.GET("/api/v1/security/roles", h.ListRoles)
	router.POST("/api/v1/security/roles", h.CreateRole)
	router.GET("/api/v1/security/roles/:name", h.GetRole)
	router.PUT("/api/v1/security/roles/:name", h.UpdateRole)
	router.DELETE("/api/v1/security/roles/:name", h.DeleteRole)
	return router
}

func seedRole(t *testing.T, e *testEnv, name string, perms ...string) *models.Role {
	t.Helper()
	role := &models.Role{Name: name, Description: name + " role", Permissions: perms}
	require.NoError(t, e.manager.SaveRole(context.Background(), role))
	return role
}

func TestListRoles(t *testing.T) {
	e := newTestEnv(t)
	seedRole(t, e, "auditor", models.PermissionViewSecurity)
	seedRole(t, e, "operator", models.PermissionManageSecurity)
	router := rolesTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/roles", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataField(t, w)
	assert.EqualValues(t, 2, data["total"])
	assert.Contains(t, w.Body.String(), "auditor")
	assert.Contains(t, w.Body.String(), "operator")
}

func TestCreateRole(t *testing.T) {
	e := newTestEnv(t)
	router := rolesTestRouter(e)

	w := doJSON(router, http.MethodPost, "/api/v1/security/roles", map[string]interface{}{
		"name":        "auditor",
		"description": "Read-only console access",
		"permissions": []string{models.PermissionViewSecurity},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	stored, err := e.manager.GetRole(context.Background(), "auditor")
	require.NoError(t, err)
	assert.Equal(t, []string{models.PermissionViewSecurity}, stored.Permissions)
	assert.Equal(t, "Read-only console access", stored.Description)
}

func TestCreateRoleRequiresName(t *testing.T) {
	e := newTestEnv(t)
	router := rolesTestRouter(e)

	w := doJSON(router, http.MethodPost, "/api/v1/security/roles", map[string]interface{}{
		"description": "nameless",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRoleDuplicateName(t *testing.T) {
	e := newTestEnv(t)
	seedRole(t, e, "auditor", models.PermissionViewSecurity)
	router := rolesTestRouter(e)

	w := doJSON(router, http.MethodPost, "/api/v1/security/roles", map[string]interface{}{
		"name": "auditor",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "Role already exists")
}

func TestGetRole(t *testing.T) {
	e := newTestEnv(t)
	seedRole(t, e, "auditor", models.PermissionViewSecurity)
	router := rolesTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/roles/auditor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	role := dataField(t, w)["role"].(map[string]interface{})
	assert.Equal(t, "auditor", role["name"])
}

func TestGetUnknownRoleIs404(t *testing.T) {
	e := newTestEnv(t)
	router := rolesTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/roles/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Role not found")
}

func TestUpdateRoleReplacesPermissions(t *testing.T) {
	e := newTestEnv(t)
	seedRole(t, e, "auditor", models.PermissionViewSecurity)
	router := rolesTestRouter(e)

	w := doJSON(router, http.MethodPut, "/api/v1/security/roles/auditor", map[string]interface{}{
		"permissions": []string{models.PermissionViewSecurity, models.PermissionManageSecurity},
	})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := e.manager.GetRole(context.Background(), "auditor")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{models.PermissionViewSecurity, models.PermissionManageSecurity}, stored.Permissions)
}

func TestUpdateRoleKeepsPermissionsWhenAbsent(t *testing.T) {
	e := newTestEnv(t)
	seedRole(t, e, "auditor", models.PermissionViewSecurity)
	router := rolesTestRouter(e)

	w := doJSON(router, http.MethodPut, "/api/v1/security/roles/auditor", map[string]interface{}{
		"description": "Updated description",
	})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := e.manager.GetRole(context.Background(), "auditor")
	require.NoError(t, err)
	assert.Equal(t, "Updated description", stored.Description)
	assert.Equal(t, []string{models.PermissionViewSecurity}, stored.Permissions)
}

func TestUpdateUnknownRoleIs404(t *testing.T) {
	e := newTestEnv(t)
	router := rolesTestRouter(e)

	w := doJSON(router, http.MethodPut, "/api/v1/security/roles/ghost", map[string]interface{}{
		"description": "nothing",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteRole(t *testing.T) {
	e := newTestEnv(t)
	seedRole(t, e, "auditor", models.PermissionViewSecurity)
	router := rolesTestRouter(e)

	w := doJSON(router, http.MethodDelete, "/api/v1/security/roles/auditor", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := e.manager.GetRole(context.Background(), "auditor")
	assert.Error(t, err)
}

func TestDeleteBuiltInRoleRefused(t *testing.T) {
	e := newTestEnv(t)
	seedRole(t, e, models.RoleSecurityAdmin, "security.*")
	router := rolesTestRouter(e)

	w := doJSON(router, http.MethodDelete, "/api/v1/security/roles/"+models.RoleSecurityAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "cannot be deleted")

	_, err := e.manager.GetRole(context.Background(), models.RoleSecurityAdmin)
	assert.NoError(t, err)
}

func TestDeleteUnknownRoleIs404(t *testing.T) {
	e := newTestEnv(t)
	router := rolesTestRouter(e)

	w := doJSON(router, http.MethodDelete, "/api/v1/security/roles/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
