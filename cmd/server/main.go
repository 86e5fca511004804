package main

import (
	"context"
	"crypto/tls"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/authgrid/ldap-admin/internal/api"
	"github.com/authgrid/ldap-admin/internal/api/websocket"
	"github.com/authgrid/ldap-admin/internal/config"
	"github.com/authgrid/ldap-admin/internal/security"
	"github.com/authgrid/ldap-admin/internal/security/cabundle"
	"github.com/authgrid/ldap-admin/internal/store"
	"github.com/authgrid/ldap-admin/internal/tracing"
	"github.com/authgrid/ldap-admin/pkg/cache"
	"github.com/authgrid/ldap-admin/pkg/logger"
)

const version = "v1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel)
	logger.Info("Starting LDAP admin service", "version", version, "environment", cfg.Environment)

	// Optional OpenTelemetry tracing
	if cfg.Monitoring.TracingEnabled {
		tp, err := tracing.NewTracerProvider(config.ServiceName, version, cfg.Monitoring.OTLPEndpoint)
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
		} else {
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Tracer shutdown failed", "error", err)
				}
			}()
			logger.Info("OpenTelemetry tracing enabled", "endpoint", cfg.Monitoring.OTLPEndpoint)
		}
	}

	// Valkey-backed persistence with an in-memory fallback while the
	// backend is unreachable
	fallback := cache.NewNoopValkeyCache(logger)
	ttl := time.Duration(cfg.Cache.TTL) * time.Second
	var valkeyCache cache.ValkeyCache
	if cfg.Cache.Mode == "cluster" {
		valkeyCache = cache.NewAutoSwapForCluster(cfg.Cache.Nodes, ttl, logger, fallback)
	} else {
		valkeyCache = cache.NewAutoSwapForSingle(cfg.Cache.Nodes[0], cfg.Cache.DB, cfg.Cache.Password, ttl, logger, fallback)
	}
	logger.Info("Valkey cache initialized", "mode", cfg.Cache.Mode, "nodes", len(cfg.Cache.Nodes))

	st := store.New(valkeyCache, logger)

	// CA bundle for LDAPS connections; a bundle change forces every plugin
	// to reconnect so new trust anchors take effect
	var manager *security.Manager
	bundle, err := cabundle.NewManager(cfg.TLS.CABundlePath, logger, func() {
		if manager != nil {
			manager.ReconnectAll()
		}
	})
	if err != nil {
		logger.Fatal("Failed to load CA bundle", "path", cfg.TLS.CABundlePath, "error", err)
	}
	defer bundle.Close()

	// Security event stream for admin consoles
	hub := websocket.NewHub(cfg.WebSocket, cfg.CORS.AllowedOrigins, logger)

	manager = security.NewManager(st, valkeyCache, logger, security.Options{
		Auth:      cfg.Auth,
		Directory: cfg.Directory,
		TLSConfig: func() *tls.Config {
			return bundle.TLSConfig(cfg.TLS.InsecureSkipVerify)
		},
		Events: hub,
	})
	defer manager.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	// Seed built-in roles, the bootstrap admin and configured plugins
	bootCtx, bootCancel := context.WithTimeout(ctx, 30*time.Second)
	err = manager.Bootstrap(bootCtx)
	bootCancel()
	if err != nil {
		logger.Fatal("Bootstrap failed", "error", err)
	}

	go hub.Run(ctx)

	// Initialize API server
	apiServer := api.NewServer(cfg, logger, valkeyCache, st, manager, hub)

	// Hot reload for log level and rate limits
	if path := config.FindConfigFile(); path != "" {
		watcher := config.NewWatcher(path, cfg, logger)
		watcher.Register(func(updated *config.Config) {
			if ls, ok := logger.(interface{ SetLevel(level string) }); ok {
				ls.SetLevel(updated.LogLevel)
			}
			apiServer.ApplyConfig(updated)
			logger.Info("Configuration reloaded", "log_level", updated.LogLevel)
		})
		go func() {
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("Configuration watcher stopped", "error", err)
			}
		}()
	} else {
		logger.Info("No config file found, hot reload disabled")
	}

	// Start server
	if err := apiServer.Start(ctx); err != nil {
		logger.Fatal("Server failed to start", "error", err)
	}

	logger.Info("LDAP admin service shutdown complete")
}
