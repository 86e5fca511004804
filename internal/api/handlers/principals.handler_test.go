package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/ldap-admin/internal/models"
)

func principalsTestRouter(e *testEnv) *gin.Engine {
	router := gin.New()
	h := NewPrincipalsHandler(e.manager, e.logger)
	router.GET("/api/v1/security/principals", h.Search)
	router.GET("/api/v1/security/principals/:id", h.Get)
	router.GET("/api/v1/security/principals/:id/groups", h.Groups)
	return router
}

// seedCorpPlugin installs a "corp" plugin whose principals carry uid-based
// IDs (corp:jsmith, corp:group:admins) instead of DN-based ones, plus a
// scripted directory holding one user and one group.
func seedCorpPlugin(t *testing.T, e *testEnv) {
	t.Helper()
	p := testPlugin("corp")
	p.UIDAttribute = "uid"
	p.GroupsBaseDN = "ou=groups,dc=example,dc=com"
	p.GroupUIDAttribute = "cn"
	require.NoError(t, e.manager.CreatePlugin(context.Background(), p))

	jsmith := ldap.NewEntry("uid=jsmith,ou=people,dc=example,dc=com", map[string][]string{
		"uid":       {"jsmith"},
		"cn":        {"John Smith"},
		"givenName": {"John"},
		"sn":        {"Smith"},
		"mail":      {"jsmith@example.com"},
	})
	admins := ldap.NewEntry("cn=admins,ou=groups,dc=example,dc=com", map[string][]string{
		"cn": {"admins"},
	})

	e.dirs.add("corp", &pluginDirectory{
		search: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
			if req.BaseDN == p.GroupsBaseDN {
				if strings.Contains(req.Filter, "cn=admins") || strings.Contains(req.Filter, "uniqueMember=") {
					return &ldap.SearchResult{Entries: []*ldap.Entry{admins}}, nil
				}
				return &ldap.SearchResult{}, nil
			}
			if strings.Contains(req.Filter, "uid=jsmith") || strings.Contains(req.Filter, "givenName=smi") {
				return &ldap.SearchResult{Entries: []*ldap.Entry{jsmith}}, nil
			}
			return &ldap.SearchResult{}, nil
		},
	})
}

func TestPrincipalSearchFindsDirectoryUsers(t *testing.T) {
	e := newTestEnv(t)
	e.seedAccount(t, "jdoe", "s3cretpass", models.RoleViewer)
	seedCorpPlugin(t, e)
	router := principalsTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/principals?query=smi", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataField(t, w)
	assert.EqualValues(t, 1, data["total"])
	principals := data["principals"].([]interface{})
	found := principals[0].(map[string]interface{})
	assert.Equal(t, "corp:jsmith", found["id"])
	assert.Equal(t, "John Smith", found["title"])
	assert.Equal(t, models.PrincipalUser, found["type"])
}

func TestPrincipalSearchFindsLocalAccounts(t *testing.T) {
	e := newTestEnv(t)
	account := e.seedAccount(t, "jdoe", "s3cretpass", models.RoleViewer)
	account.FullName = "Jane Doe"
	require.NoError(t, e.store.SaveLocalAccount(context.Background(), account))
	seedCorpPlugin(t, e)
	router := principalsTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/principals?query=jane", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataField(t, w)
	assert.EqualValues(t, 1, data["total"])
	found := data["principals"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "local:jdoe", found["id"])
	assert.Equal(t, "Jane Doe", found["title"])
}

func TestPrincipalSearchBlankQuery(t *testing.T) {
	e := newTestEnv(t)
	seedCorpPlugin(t, e)
	router := principalsTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/principals?query=", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, dataField(t, w)["total"])
}

func TestPrincipalSearchSkipsDeadDirectory(t *testing.T) {
	e := newTestEnv(t)
	seedCorpPlugin(t, e)
	// enabled plugin with no reachable server: skipped, not fatal
	e.seedPlugin(t, "branch")
	router := principalsTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/principals?query=smi", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, dataField(t, w)["total"])
}

func TestGetPrincipalResolvesUser(t *testing.T) {
	e := newTestEnv(t)
	seedCorpPlugin(t, e)
	router := principalsTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/principals/corp:jsmith", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataField(t, w)
	assert.Equal(t, "corp:jsmith", data["id"])
	assert.Equal(t, "John Smith", data["title"])
	assert.Equal(t, "jsmith@example.com", data["mail"])
	assert.Equal(t, "uid=jsmith,ou=people,dc=example,dc=com", data["dn"])
}

func TestGetPrincipalResolvesGroup(t *testing.T) {
	e := newTestEnv(t)
	seedCorpPlugin(t, e)
	router := principalsTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/principals/corp:group:admins", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataField(t, w)
	assert.Equal(t, "corp:group:admins", data["id"])
	assert.Equal(t, models.PrincipalGroup, data["type"])
	assert.Equal(t, "admins", data["title"])
}

func TestGetPrincipalResolvesLocalAccount(t *testing.T) {
	e := newTestEnv(t)
	e.seedAccount(t, "jdoe", "s3cretpass", models.RoleViewer)
	router := principalsTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/principals/local:jdoe", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "local:jdoe", dataField(t, w)["id"])
}

func TestGetUnknownPrincipalIs404(t *testing.T) {
	e := newTestEnv(t)
	seedCorpPlugin(t, e)
	router := principalsTestRouter(e)

	for _, id := range []string{"corp:ghost", "local:ghost", "malformed"} {
		w := doJSON(router, http.MethodGet, "/api/v1/security/principals/"+id, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, "id %s", id)
		assert.Contains(t, w.Body.String(), "Principal not found")
	}
}

func TestGetPrincipalDisabledPluginIs404(t *testing.T) {
	e := newTestEnv(t)
	p := testPlugin("off")
	p.Enabled = false
	require.NoError(t, e.manager.CreatePlugin(context.Background(), p))
	router := principalsTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/principals/off:someone", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrincipalGroupsResolvesMembership(t *testing.T) {
	e := newTestEnv(t)
	seedCorpPlugin(t, e)
	router := principalsTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/principals/corp:jsmith/groups", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataField(t, w)
	assert.EqualValues(t, 1, data["total"])
	group := data["groups"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "corp:group:admins", group["id"])
	assert.Equal(t, models.PrincipalGroup, group["type"])
}

func TestPrincipalGroupsForLocalAccountIsEmpty(t *testing.T) {
	e := newTestEnv(t)
	e.seedAccount(t, "jdoe", "s3cretpass", models.RoleViewer)
	router := principalsTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/principals/local:jdoe/groups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, dataField(t, w)["total"])
}

func TestPrincipalGroupsUnknownUserIs404(t *testing.T) {
	e := newTestEnv(t)
	seedCorpPlugin(t, e)
	router := principalsTestRouter(e)

	w := doJSON(router, http.MethodGet, "/api/v1/security/principals/corp:ghost/groups", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
