package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/authgrid/ldap-admin/internal/models"
)

func accountsTestRouter(e *testEnv, session *models.UserSession) *gin.Engine {
	router := gin.New()
	if session != nil {
		router.Use(sessionCtx(session))
	}
	h := NewAccountsHandler(e.store, e.logger)
	router.GET("/api/v1/security/accounts", h.ListAccounts)
	router.POST("/api/v1/security/accounts", h.CreateAccount)
	router.GET("/api/v1/security/accounts/:login", h.GetAccount)
	router.PUT("/api/v1/security/accounts/:login", h.UpdateAccount)
	router.DELETE("/api/v1/security/accounts/:login", h.DeleteAccount)
	return router
}

func TestListAccountsRedactsSecrets(t *testing.T) {
	e := newTestEnv(t)
	account := e.seedAccount(t, "admin", "s3cretpass", models.RoleSecurityAdmin)
	account.TOTPSecret = "JBSWY3DPEHPK3PXP"
	account.BackupCodes = []string{"11111111"}
	require.NoError(t, e.store.SaveLocalAccount(context.Background(), account))
	router := accountsTestRouter(e, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/security/accounts", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataField(t, w)
	assert.EqualValues(t, 1, data["total"])
	body := w.Body.String()
	assert.Contains(t, body, `"admin"`)
	assert.NotContains(t, body, "JBSWY3DPEHPK3PXP")
	assert.NotContains(t, body, "11111111")
	assert.NotContains(t, body, "$2a$")
}

func TestCreateAccount(t *testing.T) {
	e := newTestEnv(t)
	router := accountsTestRouter(e, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/security/accounts", map[string]interface{}{
		"login":     "operator",
		"full_name": "Night Operator",
		"email":     "ops@example.com",
		"password":  "changeme123",
		"roles":     []string{models.RoleViewer},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	data := dataField(t, w)
	assert.Equal(t, "operator", data["login"])
	assert.Equal(t, true, data["active"])
	assert.NotContains(t, w.Body.String(), "changeme123")

	stored, err := e.store.GetLocalAccount(context.Background(), "operator")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("changeme123")))
	assert.Equal(t, []string{models.RoleViewer}, stored.Roles)
}

func TestCreateAccountRejectsColonLogin(t *testing.T) {
	e := newTestEnv(t)
	router := accountsTestRouter(e, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/security/accounts", map[string]interface{}{
		"login":    "corp:jsmith",
		"password": "changeme123",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "no colon")
}

func TestCreateAccountRejectsShortPassword(t *testing.T) {
	e := newTestEnv(t)
	router := accountsTestRouter(e, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/security/accounts", map[string]interface{}{
		"login":    "operator",
		"password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "at least 8 characters")
}

func TestCreateAccountDuplicateLogin(t *testing.T) {
	e := newTestEnv(t)
	e.seedAccount(t, "operator", "s3cretpass")
	router := accountsTestRouter(e, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/security/accounts", map[string]interface{}{
		"login":    "operator",
		"password": "changeme123",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already exists")
}

func TestGetAccount(t *testing.T) {
	e := newTestEnv(t)
	e.seedAccount(t, "operator", "s3cretpass", models.RoleViewer)
	router := accountsTestRouter(e, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/security/accounts/operator", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataField(t, w)
	assert.Equal(t, "operator", data["login"])
	assert.NotContains(t, w.Body.String(), "password_hash")
}

func TestGetUnknownAccountIs404(t *testing.T) {
	e := newTestEnv(t)
	router := accountsTestRouter(e, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/security/accounts/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `Account \"ghost\" not found`)
}

func TestUpdateAccountPartialFields(t *testing.T) {
	e := newTestEnv(t)
	e.seedAccount(t, "operator", "s3cretpass", models.RoleViewer)
	router := accountsTestRouter(e, nil)

	w := doJSON(router, http.MethodPut, "/api/v1/security/accounts/operator", map[string]interface{}{
		"full_name": "Renamed Operator",
		"active":    false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := e.store.GetLocalAccount(context.Background(), "operator")
	require.NoError(t, err)
	assert.Equal(t, "Renamed Operator", stored.FullName)
	assert.False(t, stored.Active)
	// untouched fields keep their stored values
	assert.Equal(t, []string{models.RoleViewer}, stored.Roles)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("s3cretpass")))
}

func TestUpdateAccountRotatesPassword(t *testing.T) {
	e := newTestEnv(t)
	e.seedAccount(t, "operator", "s3cretpass")
	router := accountsTestRouter(e, nil)

	w := doJSON(router, http.MethodPut, "/api/v1/security/accounts/operator", map[string]interface{}{
		"password": "freshpass456",
	})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := e.store.GetLocalAccount(context.Background(), "operator")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("freshpass456")))
	assert.NotNil(t, stored.PasswordChangedAt)
}

func TestUpdateAccountRejectsShortPassword(t *testing.T) {
	e := newTestEnv(t)
	e.seedAccount(t, "operator", "s3cretpass")
	router := accountsTestRouter(e, nil)

	w := doJSON(router, http.MethodPut, "/api/v1/security/accounts/operator", map[string]interface{}{
		"password": "tiny",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateUnknownAccountIs404(t *testing.T) {
	e := newTestEnv(t)
	router := accountsTestRouter(e, nil)

	w := doJSON(router, http.MethodPut, "/api/v1/security/accounts/ghost", map[string]interface{}{
		"full_name": "Nobody",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteAccount(t *testing.T) {
	e := newTestEnv(t)
	e.seedAccount(t, "operator", "s3cretpass")
	session := localSession(t, e, "admin", models.RoleSecurityAdmin)
	router := accountsTestRouter(e, session)

	w := doJSON(router, http.MethodDelete, "/api/v1/security/accounts/operator", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deleted")

	_, err := e.store.GetLocalAccount(context.Background(), "operator")
	assert.Error(t, err)
}

func TestDeleteOwnAccountRefused(t *testing.T) {
	e := newTestEnv(t)
	e.seedAccount(t, "admin", "s3cretpass", models.RoleSecurityAdmin)
	session := localSession(t, e, "admin", models.RoleSecurityAdmin)
	router := accountsTestRouter(e, session)

	w := doJSON(router, http.MethodDelete, "/api/v1/security/accounts/admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "current session")

	_, err := e.store.GetLocalAccount(context.Background(), "admin")
	assert.NoError(t, err)
}

func TestDeleteUnknownAccountIs404(t *testing.T) {
	e := newTestEnv(t)
	session := localSession(t, e, "admin", models.RoleSecurityAdmin)
	router := accountsTestRouter(e, session)

	w := doJSON(router, http.MethodDelete, "/api/v1/security/accounts/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
