package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from various sources with priority order:
// 1. Environment variables
// 2. Configuration file (config.yaml)
// 3. Default values
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/ldap-admin/")
	v.AddConfigPath("./configs/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("LDAP_ADMIN")

	setDefaults(v)

	// Config file is optional; env vars and defaults carry a bare deployment.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	overrideWithEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := loadSecrets(&config); err != nil {
		return nil, err
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("environment", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")

	// Directory client defaults
	v.SetDefault("directory.connect_timeout", 10)
	v.SetDefault("directory.request_timeout", 30)
	v.SetDefault("directory.page_size", 999)
	v.SetDefault("directory.max_retries", 3)

	// Cache defaults (Valkey)
	v.SetDefault("cache.mode", "single")
	v.SetDefault("cache.nodes", []string{"localhost:6379"})
	v.SetDefault("cache.ttl", 300)
	v.SetDefault("cache.db", 0)

	// Auth defaults
	v.SetDefault("auth.jwt.expiry_minutes", 1440) // 24 hours
	v.SetDefault("auth.session_ttl", 86400)
	v.SetDefault("auth.bootstrap.admin_login", "admin")
	v.SetDefault("auth.bootstrap.require_password_change", true)
	v.SetDefault("auth.totp.issuer", "ldap-admin")

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization", "X-Session-Token", "X-TOTP-Code"})
	v.SetDefault("cors.exposed_headers", []string{"X-Rate-Limit-Remaining"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 3600)

	// Rate limiting defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 600)
	v.SetDefault("rate_limit.burst", 100)

	// WebSocket defaults
	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.max_connections", 256)
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.ping_interval", 30)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.prometheus_enabled", true)
	v.SetDefault("monitoring.tracing_enabled", false)
}

// overrideWithEnvVars handles the short-form environment variables used by
// container deployments, on top of viper's prefixed auto-binding.
func overrideWithEnvVars(v *viper.Viper) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("port", p)
		}
	}

	if env := os.Getenv("ENVIRONMENT"); env != "" {
		v.Set("environment", env)
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		v.Set("log_level", logLevel)
	}

	if cacheNodes := os.Getenv("VALKEY_NODES"); cacheNodes != "" {
		nodes := strings.Split(cacheNodes, ",")
		for i, node := range nodes {
			nodes[i] = strings.TrimSpace(node)
		}
		v.Set("cache.nodes", nodes)
	}

	if mode := os.Getenv("VALKEY_MODE"); mode != "" {
		v.Set("cache.mode", mode)
	}

	if cacheTTL := os.Getenv("CACHE_TTL"); cacheTTL != "" {
		if ttl, err := strconv.Atoi(cacheTTL); err == nil {
			v.Set("cache.ttl", ttl)
		}
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		v.Set("auth.jwt.secret", jwtSecret)
	}

	if caBundle := os.Getenv("CA_BUNDLE_PATH"); caBundle != "" {
		v.Set("tls.ca_bundle_path", caBundle)
	}

	if pluginsFile := os.Getenv("PLUGINS_FILE"); pluginsFile != "" {
		v.Set("auth.plugins_file", pluginsFile)
	}
}

func validateConfig(config *Config) error {
	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", config.Port)
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLogLevels, config.LogLevel) {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	validEnvironments := []string{"development", "staging", "production", "test"}
	if !contains(validEnvironments, config.Environment) {
		return fmt.Errorf("invalid environment: %s", config.Environment)
	}

	switch config.Cache.Mode {
	case "single", "cluster":
	default:
		return fmt.Errorf("invalid cache mode: %s", config.Cache.Mode)
	}

	if len(config.Cache.Nodes) == 0 {
		return fmt.Errorf("at least one Valkey node is required")
	}

	if config.Cache.TTL < 1 {
		return fmt.Errorf("cache TTL must be at least 1 second")
	}

	if config.Auth.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required (auth.jwt.secret or JWT_SECRET)")
	}

	if config.Auth.SessionTTL < 60 {
		return fmt.Errorf("session TTL must be at least 60 seconds")
	}

	if config.Directory.PageSize < 1 {
		return fmt.Errorf("directory page size must be positive")
	}

	if config.Monitoring.TracingEnabled && config.Monitoring.OTLPEndpoint == "" {
		return fmt.Errorf("tracing requires monitoring.otlp_endpoint")
	}

	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
