package api

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/authgrid/ldap-admin/internal/api/handlers"
	"github.com/authgrid/ldap-admin/internal/api/middleware"
	"github.com/authgrid/ldap-admin/internal/api/websocket"
	"github.com/authgrid/ldap-admin/internal/config"
	"github.com/authgrid/ldap-admin/internal/models"
	"github.com/authgrid/ldap-admin/internal/monitoring"
	"github.com/authgrid/ldap-admin/internal/security"
	"github.com/authgrid/ldap-admin/internal/store"
	"github.com/authgrid/ldap-admin/pkg/cache"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

type Server struct {
	config     *config.Config
	logger     logger.Logger
	cache      cache.ValkeyCache
	store      *store.Store
	manager    *security.Manager
	hub        *websocket.Hub
	router     *gin.Engine
	httpServer *http.Server

	// rateLimit holds the active limiter settings; the config watcher
	// swaps it via ApplyConfig without a restart.
	rateLimit atomic.Pointer[config.RateLimitConfig]
}

func NewServer(
	cfg *config.Config,
	log logger.Logger,
	valkeyCache cache.ValkeyCache,
	st *store.Store,
	manager *security.Manager,
	hub *websocket.Hub,
) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	server := &Server{
		config:  cfg,
		logger:  log,
		cache:   valkeyCache,
		store:   st,
		manager: manager,
		hub:     hub,
		router:  router,
	}
	server.rateLimit.Store(&cfg.RateLimit)

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// ApplyConfig picks up the reloadable parts of a freshly parsed config.
// Only rate limits are applied here; log level changes go through the
// logger itself.
func (s *Server) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	limits := cfg.RateLimit
	s.rateLimit.Store(&limits)
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// CORS for the admin console
	s.router.Use(middleware.CORSMiddleware(s.config.CORS))

	// Request logging
	s.router.Use(middleware.RequestLogger(s.logger))

	// Prometheus request metrics
	s.router.Use(monitoring.HTTPMetricsMiddleware())

	// Session authentication (public endpoints are allowlisted inside)
	s.router.Use(middleware.AuthMiddleware(s.manager))

	// Rate limiting keys on the principal resolved by the auth middleware,
	// so it runs after it
	s.router.Use(middleware.RateLimiter(s.cache, func() config.RateLimitConfig {
		return *s.rateLimit.Load()
	}))

	// OpenAPI specification endpoints
	s.router.StaticFile("/api/openapi.yaml", "api/openapi.yaml")
	s.router.GET("/api/openapi.json", handlers.GetOpenAPISpec)

	// Swagger UI via gin-swagger (serves Swagger UI using external openapi.yaml)
	// Visit /swagger/index.html
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/api/openapi.yaml")))

	// Prometheus metrics endpoint
	monitoring.SetupPrometheusMetrics(s.router)
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.manager, s.cache, s.logger)

	// Public health endpoints
	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)

	// Root redirect to Swagger UI for convenience
	s.router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/swagger/index.html")
	})

	authHandler := handlers.NewAuthHandler(s.manager, s.logger)
	sessionHandler := handlers.NewSessionHandler(s.manager, s.logger)
	totpHandler := handlers.NewTOTPHandler(s.manager, s.logger)
	pluginsHandler := handlers.NewPluginsHandler(s.manager, s.logger)
	principalsHandler := handlers.NewPrincipalsHandler(s.manager, s.logger)
	accountsHandler := handlers.NewAccountsHandler(s.store, s.logger)
	rolesHandler := handlers.NewRolesHandler(s.manager, s.logger)

	v1 := s.router.Group("/api/v1")

	// Back-compat: expose health under /api/v1 as well
	v1.GET("/health", healthHandler.HealthCheck)
	v1.GET("/ready", healthHandler.ReadinessCheck)

	// Authentication; any valid session manages its own credentials
	auth := v1.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/me", authHandler.Me)
	auth.POST("/change-password", authHandler.ChangePassword)

	totp := auth.Group("/totp")
	totp.POST("/setup", totpHandler.Setup)
	totp.POST("/verify", totpHandler.Verify)
	totp.POST("/disable", totpHandler.Disable)
	totp.POST("/backup-codes", totpHandler.RegenerateBackupCodes)

	// Session administration: listing and revoking any session
	sessions := v1.Group("/auth/sessions")
	sessions.Use(middleware.RequirePermission(s.manager, s.logger, models.PermissionManageSecurity))
	sessions.GET("", sessionHandler.ListActiveSessions)
	sessions.DELETE("/:id", sessionHandler.RevokeSession)

	// Read-only console views: plugin tables and form descriptors
	view := v1.Group("/security")
	view.Use(middleware.RequirePermission(s.manager, s.logger, models.PermissionViewSecurity))
	view.GET("/plugins", pluginsHandler.ListPlugins)
	view.GET("/plugins/menus", pluginsHandler.ListMenus)
	view.GET("/plugins/forms/add", pluginsHandler.AddForm)
	view.GET("/plugins/:name", pluginsHandler.GetPlugin)
	view.GET("/plugins/:name/forms/properties", pluginsHandler.PropertiesForm)
	view.GET("/plugins/:name/forms/search", pluginsHandler.SearchForm)

	// Administration: plugin mutations plus everything that reaches a live
	// directory with the service credentials
	admin := v1.Group("/security")
	admin.Use(middleware.RequirePermission(s.manager, s.logger, models.PermissionManageSecurity))
	admin.POST("/plugins", pluginsHandler.CreatePlugin)
	admin.GET("/plugins/discover", pluginsHandler.DiscoverServers)
	admin.PUT("/plugins/:name", pluginsHandler.UpdatePlugin)
	admin.DELETE("/plugins/:name", pluginsHandler.DeletePlugin)
	admin.GET("/plugins/:name/search", pluginsHandler.Search)
	admin.GET("/plugins/:name/entry", pluginsHandler.Entry)
	admin.POST("/plugins/:name/test", pluginsHandler.TestConnection)

	admin.GET("/principals", principalsHandler.Search)
	admin.GET("/principals/:id", principalsHandler.Get)
	admin.GET("/principals/:id/groups", principalsHandler.Groups)

	admin.GET("/accounts", accountsHandler.ListAccounts)
	admin.POST("/accounts", accountsHandler.CreateAccount)
	admin.GET("/accounts/:login", accountsHandler.GetAccount)
	admin.PUT("/accounts/:login", accountsHandler.UpdateAccount)
	admin.DELETE("/accounts/:login", accountsHandler.DeleteAccount)

	admin.GET("/roles", rolesHandler.ListRoles)
	admin.POST("/roles", rolesHandler.CreateRole)
	admin.GET("/roles/:name", rolesHandler.GetRole)
	admin.PUT("/roles/:name", rolesHandler.UpdateRole)
	admin.DELETE("/roles/:name", rolesHandler.DeleteRole)

	admin.GET("/status", healthHandler.DirectoryStatus)

	// Security events stream (plugin changes, logins, revocations)
	ws := s.router.Group("/ws/v1/security")
	ws.Use(middleware.RequirePermission(s.manager, s.logger, models.PermissionViewSecurity))
	ws.GET("/events", s.hub.ServeEvents)
}

func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("LDAP admin REST API server starting", "port", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("Shutting down LDAP admin service gracefully")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// Handler returns the underlying Gin engine so tests (or embedders) can mount it.
func (s *Server) Handler() http.Handler {
	return s.router
}
