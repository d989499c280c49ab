// Package config loads and validates the xerolink configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the XL_ prefix (e.g., XL_DATABASE_HOST
// overrides database.host in the YAML).
//
// The ENCRYPTION_KEY variable has no XL_ prefix because it may be injected by
// infrastructure tooling (e.g., Kubernetes secrets, Vault agent) that does not
// know the application-specific prefix and treats it as a generic secret name.
//
// Xero consumer credentials are deliberately absent from this file: they are
// operator-managed secrets stored encrypted in the database (see package secrets).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	FlowStore FlowStoreConfig `mapstructure:"flow_store"`
	Xero      XeroConfig      `mapstructure:"xero"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetPublicURL returns the public-facing URL used for OAuth callbacks and external redirects.
// When server.public_url is set it is returned as-is; otherwise it falls back to server.base_url.
// This distinction matters in reverse-proxied deployments where the internal listen address
// (base_url) differs from the URL Xero redirects the browser back to (public_url).
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// CallbackURL returns the absolute URL of the OAuth callback entry point.
func (s *ServerConfig) CallbackURL(path string) string {
	return strings.TrimRight(s.GetPublicURL(), "/") + path
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
	// AutoMigrate applies pending migrations when the server starts
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig holds the optional Redis connection. Redis backs the pending
// flow store and the distributed rate limiter when enabled.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

// FlowStoreConfig selects where in-progress authorization flows are kept
type FlowStoreConfig struct {
	// Backend is "database" or "redis"
	Backend string `mapstructure:"backend"`
	// PendingTTL bounds how long an abandoned flow survives (redis TTL / sweeper age)
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
	// SweepInterval is how often abandoned database flows are purged; 0 disables the sweeper
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// XeroConfig holds the provider endpoints and HTTP client settings
type XeroConfig struct {
	RequestTokenURL string        `mapstructure:"request_token_url"`
	AuthorizeURL    string        `mapstructure:"authorize_url"`
	AccessTokenURL  string        `mapstructure:"access_token_url"`
	APIBaseURL      string        `mapstructure:"api_base_url"`
	ProjectsBaseURL string        `mapstructure:"projects_base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	// ProjectsPageSize is the page size used when walking the projects users listing
	ProjectsPageSize int `mapstructure:"projects_page_size"`
}

// SecretsConfig controls the provider secret checks
type SecretsConfig struct {
	// RequireAtStartup refuses to serve when a required provider secret is empty
	RequireAtStartup bool `mapstructure:"require_at_startup"`
}

// AuthConfig holds local session configuration
type AuthConfig struct {
	// SessionTTL is the lifetime of issued session tokens
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// CookieName is the cookie carrying the session token for browser redirects
	CookieName string `mapstructure:"cookie_name"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
	Encryption   EncryptionConfig   `mapstructure:"encryption"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// EncryptionConfig is the passphrase alternative to ENCRYPTION_KEY
type EncryptionConfig struct {
	Passphrase string `mapstructure:"passphrase"`
	// Salt is base64 encoded, at least 16 bytes once decoded
	Salt       string `mapstructure:"salt"`
	Iterations int    `mapstructure:"iterations"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	// Enabled determines if audit logging is active
	Enabled bool `mapstructure:"enabled"`
	// LogFailedRequests determines if failed requests (4xx/5xx) should be logged
	LogFailedRequests bool `mapstructure:"log_failed_requests"`
	// FilePath additionally appends entries as JSON lines to this file
	FilePath       string `mapstructure:"file_path"`
	FileMaxSizeMB  int    `mapstructure:"file_max_size_mb"`
	FileMaxBackups int    `mapstructure:"file_max_backups"`
	// WebhookURL additionally POSTs every entry to a collector
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",
		"database.auto_migrate",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.public_url",
		"server.read_timeout",
		"server.write_timeout",

		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.username",
		"redis.password",
		"redis.db",
		"redis.tls",

		// Flow store
		"flow_store.backend",
		"flow_store.pending_ttl",
		"flow_store.sweep_interval",

		// Xero
		"xero.request_token_url",
		"xero.authorize_url",
		"xero.access_token_url",
		"xero.api_base_url",
		"xero.projects_base_url",
		"xero.timeout",
		"xero.user_agent",
		"xero.projects_page_size",

		// Secrets
		"secrets.require_at_startup",

		// Auth
		"auth.session_ttl",
		"auth.cookie_name",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",
		"security.encryption.passphrase",
		"security.encryption.salt",
		"security.encryption.iterations",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",

		// Audit
		"audit.enabled",
		"audit.log_failed_requests",
		"audit.file_path",
		"audit.file_max_size_mb",
		"audit.file_max_backups",
		"audit.webhook_url",
		"audit.webhook_timeout",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// newViper builds a viper instance with defaults, file lookup and env bindings applied.
func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/xerolink")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("XL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

// decode unmarshals and validates a configured viper instance.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Security.Encryption.Passphrase = expandEnv(cfg.Security.Encryption.Passphrase)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads configuration like Load and then watches the config file for
// changes. onChange receives every successfully re-validated configuration;
// invalid edits are logged and ignored so the running config stays in force.
// Without a config file on disk there is nothing to watch and onChange never fires.
func Watch(configPath string, onChange func(*Config)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			slog.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}
		slog.Info("config reloaded", "file", e.Name)
		onChange(next)
	})
	v.WatchConfig()
	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "xerolink")
	v.SetDefault("database.user", "xerolink")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Flow store defaults
	v.SetDefault("flow_store.backend", "database")
	v.SetDefault("flow_store.pending_ttl", "1h")
	v.SetDefault("flow_store.sweep_interval", "15m")

	// Xero defaults
	v.SetDefault("xero.request_token_url", "https://api.xero.com/oauth/RequestToken")
	v.SetDefault("xero.authorize_url", "https://api.xero.com/oauth/Authorize")
	v.SetDefault("xero.access_token_url", "https://api.xero.com/oauth/AccessToken")
	v.SetDefault("xero.api_base_url", "https://api.xero.com/api.xro/2.0")
	v.SetDefault("xero.projects_base_url", "https://api.xero.com/projects.xro/2.0")
	v.SetDefault("xero.timeout", "30s")
	v.SetDefault("xero.user_agent", "xerolink")
	v.SetDefault("xero.projects_page_size", 50)

	// Secrets defaults
	v.SetDefault("secrets.require_at_startup", true)

	// Auth defaults
	v.SetDefault("auth.session_ttl", "8h")
	v.SetDefault("auth.cookie_name", "xl_session")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.tls.enabled", false)
	v.SetDefault("security.encryption.iterations", 100000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "xerolink")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_failed_requests", false)
	v.SetDefault("audit.file_max_size_mb", 100)
	v.SetDefault("audit.file_max_backups", 5)
	v.SetDefault("audit.webhook_timeout", "10s")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate flow store
	switch c.FlowStore.Backend {
	case "database":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("flow_store.backend redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("invalid flow_store.backend: %s (must be database or redis)", c.FlowStore.Backend)
	}
	if c.FlowStore.PendingTTL <= 0 {
		return fmt.Errorf("flow_store.pending_ttl must be positive")
	}
	if c.FlowStore.SweepInterval < 0 {
		return fmt.Errorf("flow_store.sweep_interval must not be negative")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	// Validate provider endpoints
	endpoints := map[string]string{
		"xero.request_token_url": c.Xero.RequestTokenURL,
		"xero.authorize_url":     c.Xero.AuthorizeURL,
		"xero.access_token_url":  c.Xero.AccessTokenURL,
		"xero.api_base_url":      c.Xero.APIBaseURL,
		"xero.projects_base_url": c.Xero.ProjectsBaseURL,
	}
	for key, raw := range endpoints {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
		}
	}
	if c.Xero.Timeout <= 0 {
		return fmt.Errorf("xero.timeout must be positive")
	}
	if c.Xero.ProjectsPageSize < 1 {
		return fmt.Errorf("xero.projects_page_size must be at least 1")
	}

	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	if c.Security.Encryption.Passphrase != "" && c.Security.Encryption.Salt == "" {
		return fmt.Errorf("security.encryption.salt is required when a passphrase is set")
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
