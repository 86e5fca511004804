package config

// Service information.
const (
	ServiceName = "ldap-admin"
	APIVersion  = "v1"
)

type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment"`
	Port        int    `mapstructure:"port" yaml:"port"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`

	Directory  DirectoryConfig  `mapstructure:"directory" yaml:"directory"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Auth       AuthConfig       `mapstructure:"auth" yaml:"auth"`
	CORS       CORSConfig       `mapstructure:"cors" yaml:"cors"`
	TLS        TLSConfig        `mapstructure:"tls" yaml:"tls"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" yaml:"rate_limit"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket" yaml:"websocket"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
}

// DirectoryConfig carries the client-side knobs shared by every LDAP plugin:
// dial/request timeouts, the page size used for subtree searches (also the
// admin table batch size) and the transient-error retry budget.
type DirectoryConfig struct {
	ConnectTimeout int `mapstructure:"connect_timeout" yaml:"connect_timeout"` // seconds
	RequestTimeout int `mapstructure:"request_timeout" yaml:"request_timeout"` // seconds
	PageSize       int `mapstructure:"page_size" yaml:"page_size"`
	MaxRetries     int `mapstructure:"max_retries" yaml:"max_retries"`
}

// CacheConfig handles Valkey configuration. Mode selects between a cluster
// client ("cluster") and a single-node client ("single"); an unreachable
// backend degrades to an in-memory fallback that keeps retrying.
type CacheConfig struct {
	Mode     string   `mapstructure:"mode" yaml:"mode"`
	Nodes    []string `mapstructure:"nodes" yaml:"nodes"`
	TTL      int      `mapstructure:"ttl" yaml:"ttl"` // seconds
	Password string   `mapstructure:"password" yaml:"password"`
	DB       int      `mapstructure:"db" yaml:"db"`
}

type AuthConfig struct {
	JWT         JWTConfig       `mapstructure:"jwt" yaml:"jwt"`
	SessionTTL  int             `mapstructure:"session_ttl" yaml:"session_ttl"` // seconds
	Bootstrap   BootstrapConfig `mapstructure:"bootstrap" yaml:"bootstrap"`
	TOTP        TOTPConfig      `mapstructure:"totp" yaml:"totp"`
	PluginsFile string          `mapstructure:"plugins_file" yaml:"plugins_file"`
}

type JWTConfig struct {
	Secret        string `mapstructure:"secret" yaml:"secret"`
	ExpiryMinutes int    `mapstructure:"expiry_minutes" yaml:"expiry_minutes"`
}

// BootstrapConfig seeds the built-in administrator on first start.
type BootstrapConfig struct {
	AdminLogin            string `mapstructure:"admin_login" yaml:"admin_login"`
	AdminPassword         string `mapstructure:"admin_password" yaml:"admin_password"`
	RequirePasswordChange bool   `mapstructure:"require_password_change" yaml:"require_password_change"`
}

type TOTPConfig struct {
	Issuer string `mapstructure:"issuer" yaml:"issuer"`
}

// CORSConfig handles Cross-Origin Resource Sharing for the admin console.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers" yaml:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers" yaml:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age" yaml:"max_age"`
}

// TLSConfig points at the PEM bundle trusted for ldaps:// and StartTLS
// connections. The bundle is watched and reloaded on change.
type TLSConfig struct {
	CABundlePath       string `mapstructure:"ca_bundle_path" yaml:"ca_bundle_path"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int  `mapstructure:"burst" yaml:"burst"`
}

// WebSocketConfig handles the security events stream.
type WebSocketConfig struct {
	Enabled         bool `mapstructure:"enabled" yaml:"enabled"`
	MaxConnections  int  `mapstructure:"max_connections" yaml:"max_connections"`
	ReadBufferSize  int  `mapstructure:"read_buffer_size" yaml:"read_buffer_size"`
	WriteBufferSize int  `mapstructure:"write_buffer_size" yaml:"write_buffer_size"`
	PingInterval    int  `mapstructure:"ping_interval" yaml:"ping_interval"` // seconds
}

// MonitoringConfig handles self-monitoring configuration.
type MonitoringConfig struct {
	Enabled           bool   `mapstructure:"enabled" yaml:"enabled"`
	MetricsPath       string `mapstructure:"metrics_path" yaml:"metrics_path"`
	PrometheusEnabled bool   `mapstructure:"prometheus_enabled" yaml:"prometheus_enabled"`
	TracingEnabled    bool   `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	OTLPEndpoint      string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}
