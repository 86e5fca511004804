package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/ldap-admin/internal/discovery"
	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/security"
	"github.com/authgrid/ldap-admin/internal/views"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

// ServerDiscoverer finds directory servers advertised in DNS.
type ServerDiscoverer interface {
	Discover(ctx context.Context, domain string) ([]discovery.Server, error)
}

// PluginsHandler serves the security-plugins console: plugin CRUD, the form
// and table descriptors the console renders, directory search and the entry
// inspector.
type PluginsHandler struct {
	manager    *security.Manager
	discoverer ServerDiscoverer
	logger     logger.Logger
}

func NewPluginsHandler(manager *security.Manager, logger logger.Logger) *PluginsHandler {
	return &PluginsHandler{
		manager:    manager,
		discoverer: discovery.New(logger),
		logger:     logger,
	}
}

// ListPlugins handles GET /api/v1/security/plugins
// Overview table: descriptor plus one row per configured plugin.
func (h *PluginsHandler) ListPlugins(c *gin.Context) {
	plugins, err := h.manager.ListPlugins(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list security plugins", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to list security plugins",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"table": views.PluginsTable(),
			"rows":  views.PluginRows(plugins),
		},
	})
}

// ListMenus handles GET /api/v1/security/plugins/menus
// Context-addings menu: one entry per registered plugin type.
func (h *PluginsHandler) ListMenus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"menus": security.AddMenus(),
		},
	})
}

// CreatePlugin handles POST /api/v1/security/plugins
// The payload is the add-form submission; absent fields keep their schema
// defaults.
func (h *PluginsHandler) CreatePlugin(c *gin.Context) {
	correlationID := fmt.Sprintf("plugin-create-%d", time.Now().UnixNano())

	plugin := models.NewLDAPPlugin()
	if err := c.ShouldBindJSON(plugin); err != nil {
		h.logger.Error("Invalid plugin payload", "error", err, "correlation_id", correlationID)
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid request body",
		})
		return
	}

	if err := plugin.Validate(); err != nil {
		h.logger.Warn("Plugin validation failed", "error", err, "correlation_id", correlationID)
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	if err := h.manager.CreatePlugin(c.Request.Context(), plugin); err != nil {
		h.logger.Error("Failed to create plugin", "error", err, "plugin", plugin.Prefix, "correlation_id", correlationID)
		switch {
		case errors.Is(err, security.ErrPluginExists):
			c.JSON(http.StatusConflict, gin.H{
				"status": "error",
				"error":  fmt.Sprintf("Plugin %q already exists", plugin.Prefix),
			})
		case strings.Contains(err.Error(), "reserved"):
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "error",
				"error":  err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"status": "error",
				"error":  "Failed to create plugin",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "success",
		"data":   plugin.Redacted(),
	})
}

// GetPlugin handles GET /api/v1/security/plugins/{name}
func (h *PluginsHandler) GetPlugin(c *gin.Context) {
	name := c.Param("name")

	plugin, err := h.manager.GetPlugin(c.Request.Context(), name)
	if err != nil {
		h.handlePluginError(c, err, name, "Failed to get plugin")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   plugin.Redacted(),
	})
}

// UpdatePlugin handles PUT /api/v1/security/plugins/{name}
// Edit forms submit the complete field set; an empty bind password keeps the
// stored one.
func (h *PluginsHandler) UpdatePlugin(c *gin.Context) {
	correlationID := fmt.Sprintf("plugin-update-%d", time.Now().UnixNano())
	name := c.Param("name")

	plugin := models.NewLDAPPlugin()
	if err := c.ShouldBindJSON(plugin); err != nil {
		h.logger.Error("Invalid plugin payload", "error", err, "correlation_id", correlationID)
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid request body",
		})
		return
	}

	// The prefix is the plugin's identity; the URL wins over the payload.
	plugin.Prefix = name

	if err := h.manager.UpdatePlugin(c.Request.Context(), plugin); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, gin.H{
				"status": "error",
				"error":  fmt.Sprintf("Plugin %q not found", name),
			})
			return
		}
		if strings.Contains(err.Error(), "invalid") || strings.Contains(err.Error(), "required") ||
			strings.Contains(err.Error(), "unbalanced") || strings.Contains(err.Error(), "cannot be combined") {
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}
		h.logger.Error("Failed to update plugin", "error", err, "plugin", name, "correlation_id", correlationID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Failed to update plugin",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   plugin.Redacted(),
	})
}

// DeletePlugin handles DELETE /api/v1/security/plugins/{name}
func (h *PluginsHandler) DeletePlugin(c *gin.Context) {
	name := c.Param("name")

	if err := h.manager.DeletePlugin(c.Request.Context(), name); err != nil {
		h.handlePluginError(c, err, name, "Failed to delete plugin")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("Plugin %q deleted", name),
	})
}

// AddForm handles GET /api/v1/security/plugins/forms/add
// The form descriptor for the requested plugin type, defaulting to LDAP.
func (h *PluginsHandler) AddForm(c *gin.Context) {
	typeName := c.DefaultQuery("type", security.TypeLDAP)

	pluginType, ok := security.GetPluginType(typeName)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"status": "error",
			"error":  fmt.Sprintf("Unknown plugin type %q", typeName),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"form": pluginType.AddForm(),
		},
	})
}

// PropertiesForm handles GET /api/v1/security/plugins/{name}/forms/properties
func (h *PluginsHandler) PropertiesForm(c *gin.Context) {
	name := c.Param("name")

	plugin, err := h.manager.GetPlugin(c.Request.Context(), name)
	if err != nil {
		h.handlePluginError(c, err, name, "Failed to load plugin")
		return
	}

	pluginType, _ := security.GetPluginType(security.TypeLDAP)
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"form": pluginType.PropertiesForm(plugin),
		},
	})
}

// SearchForm handles GET /api/v1/security/plugins/{name}/forms/search
func (h *PluginsHandler) SearchForm(c *gin.Context) {
	name := c.Param("name")

	plugin, err := h.manager.GetPlugin(c.Request.Context(), name)
	if err != nil {
		h.handlePluginError(c, err, name, "Failed to load plugin")
		return
	}

	pluginType, _ := security.GetPluginType(security.TypeLDAP)
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"form": pluginType.SearchForm(plugin),
		},
	})
}

// Search handles GET /api/v1/security/plugins/{name}/search?query=&exact=
// Runs the plugin's user search and returns the results-table descriptor
// with its rows. A blank query returns an empty result set, not an error.
func (h *PluginsHandler) Search(c *gin.Context) {
	correlationID := fmt.Sprintf("plugin-search-%d", time.Now().UnixNano())
	name := c.Param("name")

	var criteria models.SearchCriteria
	if err := c.ShouldBindQuery(&criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid search criteria",
		})
		return
	}

	plugin, err := h.manager.GetPlugin(c.Request.Context(), name)
	if err != nil {
		h.handlePluginError(c, err, name, "Failed to load plugin")
		return
	}

	entries, err := h.manager.SearchDirectory(c.Request.Context(), name, criteria)
	if err != nil {
		h.logger.Error("Directory search failed", "error", err, "plugin", name,
			"query", criteria.Query, "correlation_id", correlationID)
		c.JSON(http.StatusBadGateway, gin.H{
			"status": "error",
			"error":  "Directory search failed",
		})
		return
	}

	pluginType, _ := security.GetPluginType(security.TypeLDAP)
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"table": pluginType.SearchResultsTable(plugin),
			"rows":  views.SearchResultRows(plugin, entries),
		},
	})
}

// Entry handles GET /api/v1/security/plugins/{name}/entry?dn=
// The entry inspector: every attribute of one entry, display-formatted. A
// missing or ambiguous DN yields an empty attribute set, not an error.
func (h *PluginsHandler) Entry(c *gin.Context) {
	correlationID := fmt.Sprintf("plugin-entry-%d", time.Now().UnixNano())
	name := c.Param("name")

	dn := c.Query("dn")
	if dn == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Query parameter dn is required",
		})
		return
	}

	entry, err := h.manager.LookupEntry(c.Request.Context(), name, dn)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, gin.H{
				"status": "error",
				"error":  fmt.Sprintf("Plugin %q not found", name),
			})
			return
		}
		h.logger.Error("Entry lookup failed", "error", err, "plugin", name,
			"dn", dn, "correlation_id", correlationID)
		c.JSON(http.StatusBadGateway, gin.H{
			"status": "error",
			"error":  "Entry lookup failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"form":  views.LDAPEntryForm(),
			"table": views.LDAPEntryTable(),
			"title": views.EntryTitle(entry.DN),
			"dn":    entry.DN,
			"rows":  views.FormatEntryAttributes(entry),
		},
	})
}

// DiscoverServers handles GET /api/v1/security/plugins/discover
// Resolves the _ldap._tcp and _ldaps._tcp SRV records of a domain so the
// add form can suggest server URIs.
func (h *PluginsHandler) DiscoverServers(c *gin.Context) {
	domain := strings.TrimSpace(c.Query("domain"))
	if domain == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Query parameter 'domain' is required",
		})
		return
	}

	servers, err := h.discoverer.Discover(c.Request.Context(), domain)
	if err != nil {
		h.logger.Warn("Directory server discovery failed", "domain", domain, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"status": "error",
			"error":  "No directory servers discovered",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"domain":  domain,
			"servers": servers,
			"count":   len(servers),
		},
	})
}

// TestConnection handles POST /api/v1/security/plugins/{name}/test
// Dials and binds with the stored configuration; works on disabled plugins.
func (h *PluginsHandler) TestConnection(c *gin.Context) {
	correlationID := fmt.Sprintf("plugin-test-%d", time.Now().UnixNano())
	name := c.Param("name")

	if err := h.manager.TestPlugin(c.Request.Context(), name); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, gin.H{
				"status": "error",
				"error":  fmt.Sprintf("Plugin %q not found", name),
			})
			return
		}
		h.logger.Warn("Plugin connection test failed", "error", err, "plugin", name,
			"correlation_id", correlationID)
		c.JSON(http.StatusBadGateway, gin.H{
			"status": "error",
			"error":  "Connection test failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"plugin": name,
			"result": "ok",
		},
	})
}

// handlePluginError maps manager errors onto the API taxonomy: "not found"
// is a 404, anything else a 500 with the detail logged, not leaked.
func (h *PluginsHandler) handlePluginError(c *gin.Context, err error, name, message string) {
	if strings.Contains(err.Error(), "not found") {
		c.JSON(http.StatusNotFound, gin.H{
			"status": "error",
			"error":  fmt.Sprintf("Plugin %q not found", name),
		})
		return
	}
	h.logger.Error(message, "error", err, "plugin", name)
	c.JSON(http.StatusInternalServerError, gin.H{
		"status": "error",
		"error":  message,
	})
}
