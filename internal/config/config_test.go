package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "xerolink",
				Password: "secret",
				Name:     "xerolink",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=xerolink password=secret dbname=xerolink sslmode=require",
		},
		{
			name: "empty password",
			cfg: DatabaseConfig{
				Host:    "db.internal",
				Port:    5433,
				User:    "app",
				Name:    "links",
				SSLMode: "disable",
			},
			want: "host=db.internal port=5433 user=app password= dbname=links sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetDSN(); got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ServerConfig helpers
// ---------------------------------------------------------------------------

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"localhost", ServerConfig{Host: "localhost", Port: 3000}, "localhost:3000"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetAddress(); got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetPublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"public url wins", ServerConfig{PublicURL: "https://links.example.com", BaseURL: "http://internal:8080"}, "https://links.example.com"},
		{"falls back to base url", ServerConfig{BaseURL: "http://internal:8080"}, "http://internal:8080"},
		{"both empty", ServerConfig{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetPublicURL(); got != tt.want {
				t.Errorf("GetPublicURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCallbackURL_TrimsTrailingSlash(t *testing.T) {
	s := ServerConfig{PublicURL: "https://links.example.com/"}
	got := s.CallbackURL("/xero/auth/accept")
	if got != "https://links.example.com/xero/auth/accept" {
		t.Errorf("CallbackURL() = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Name: "xerolink",
			User: "xerolink",
		},
		FlowStore: FlowStoreConfig{
			Backend:       "database",
			PendingTTL:    time.Hour,
			SweepInterval: 15 * time.Minute,
		},
		Xero: XeroConfig{
			RequestTokenURL:  "https://api.xero.com/oauth/RequestToken",
			AuthorizeURL:     "https://api.xero.com/oauth/Authorize",
			AccessTokenURL:   "https://api.xero.com/oauth/AccessToken",
			APIBaseURL:       "https://api.xero.com/api.xro/2.0",
			ProjectsBaseURL:  "https://api.xero.com/projects.xro/2.0",
			Timeout:          30 * time.Second,
			ProjectsPageSize: 50,
		},
		Auth:    AuthConfig{SessionTTL: time.Hour},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid minimal config passes", func(t *testing.T) {
		if err := minimalValidConfig().Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	failures := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"invalid server port 0", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"invalid server port 70000", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"missing base_url", func(c *Config) { c.Server.BaseURL = "" }, "server.base_url"},
		{"missing database host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"missing database name", func(c *Config) { c.Database.Name = "" }, "database.name"},
		{"missing database user", func(c *Config) { c.Database.User = "" }, "database.user"},
		{"unknown flow store backend", func(c *Config) { c.FlowStore.Backend = "memcached" }, "flow_store.backend"},
		{"redis backend without redis", func(c *Config) { c.FlowStore.Backend = "redis" }, "redis.enabled"},
		{"zero pending ttl", func(c *Config) { c.FlowStore.PendingTTL = 0 }, "pending_ttl"},
		{"negative sweep interval", func(c *Config) { c.FlowStore.SweepInterval = -time.Second }, "sweep_interval"},
		{"redis enabled without addr", func(c *Config) { c.Redis.Enabled = true }, "redis.addr"},
		{"relative authorize url", func(c *Config) { c.Xero.AuthorizeURL = "/oauth/Authorize" }, "xero.authorize_url"},
		{"empty api base url", func(c *Config) { c.Xero.APIBaseURL = "" }, "xero.api_base_url"},
		{"zero provider timeout", func(c *Config) { c.Xero.Timeout = 0 }, "xero.timeout"},
		{"zero projects page size", func(c *Config) { c.Xero.ProjectsPageSize = 0 }, "projects_page_size"},
		{"zero session ttl", func(c *Config) { c.Auth.SessionTTL = 0 }, "auth.session_ttl"},
		{"tls enabled missing cert_file", func(c *Config) { c.Security.TLS = TLSConfig{Enabled: true, KeyFile: "k"} }, "cert_file"},
		{"tls enabled missing key_file", func(c *Config) { c.Security.TLS = TLSConfig{Enabled: true, CertFile: "c"} }, "key_file"},
		{"passphrase without salt", func(c *Config) { c.Security.Encryption.Passphrase = "hunter2" }, "security.encryption.salt"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid logging level"},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}

	t.Run("redis backend with redis enabled passes", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.FlowStore.Backend = "redis"
		cfg.Redis = RedisConfig{Enabled: true, Addr: "localhost:6379"}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("all valid log levels pass", func(t *testing.T) {
		for _, lvl := range []string{"debug", "info", "warn", "error"} {
			cfg := minimalValidConfig()
			cfg.Logging.Level = lvl
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() with level %q: %v", lvl, err)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// expandEnv
// ---------------------------------------------------------------------------

func TestExpandEnv(t *testing.T) {
	t.Run("expands ${VAR} syntax", func(t *testing.T) {
		t.Setenv("CONFIG_TEST_SECRET", "super-secret")
		if got := expandEnv("${CONFIG_TEST_SECRET}"); got != "super-secret" {
			t.Errorf("expandEnv() = %q, want %q", got, "super-secret")
		}
	})

	t.Run("plain string passthrough", func(t *testing.T) {
		if got := expandEnv("no-vars-here"); got != "no-vars-here" {
			t.Errorf("expandEnv() = %q, want %q", got, "no-vars-here")
		}
	})

	t.Run("unset variable expands to empty string", func(t *testing.T) {
		os.Unsetenv("CONFIG_TEST_DEFINITELY_UNSET_12345")
		if got := expandEnv("${CONFIG_TEST_DEFINITELY_UNSET_12345}"); got != "" {
			t.Errorf("expandEnv() = %q, want empty string", got)
		}
	})
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// writeTempConfig creates a temp YAML file and registers a cleanup to remove it.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "config-test-*.yaml")
	if err != nil {
		t.Fatal("CreateTemp:", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal("WriteString:", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for a missing explicit config file")
	}
	if !strings.Contains(err.Error(), "error reading config file") {
		t.Errorf("Load() unexpected error kind: %v", err)
	}
}

func TestLoad_WithConfigFile(t *testing.T) {
	const content = `
server:
  host: "testhost"
  port: 9999
  base_url: "http://testhost:9999"
database:
  host: "dbhost"
  name: "testdb"
  user: "testuser"
xero:
  timeout: "5s"
  projects_page_size: 10
flow_store:
  pending_ttl: "30m"
logging:
  level: "debug"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "testhost" {
		t.Errorf("Server.Host = %q, want testhost", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Database.Name != "testdb" {
		t.Errorf("Database.Name = %q, want testdb", cfg.Database.Name)
	}
	if cfg.Xero.Timeout != 5*time.Second {
		t.Errorf("Xero.Timeout = %v, want 5s", cfg.Xero.Timeout)
	}
	if cfg.Xero.ProjectsPageSize != 10 {
		t.Errorf("Xero.ProjectsPageSize = %d, want 10", cfg.Xero.ProjectsPageSize)
	}
	if cfg.FlowStore.PendingTTL != 30*time.Minute {
		t.Errorf("FlowStore.PendingTTL = %v, want 30m", cfg.FlowStore.PendingTTL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	const content = `
database:
  host: "localhost"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.FlowStore.Backend != "database" {
		t.Errorf("default FlowStore.Backend = %q, want database", cfg.FlowStore.Backend)
	}
	if cfg.Xero.RequestTokenURL != "https://api.xero.com/oauth/RequestToken" {
		t.Errorf("default Xero.RequestTokenURL = %q", cfg.Xero.RequestTokenURL)
	}
	if cfg.Xero.APIBaseURL != "https://api.xero.com/api.xro/2.0" {
		t.Errorf("default Xero.APIBaseURL = %q", cfg.Xero.APIBaseURL)
	}
	if !cfg.Secrets.RequireAtStartup {
		t.Error("default Secrets.RequireAtStartup = false, want true")
	}
	if cfg.Auth.CookieName != "xl_session" {
		t.Errorf("default Auth.CookieName = %q, want xl_session", cfg.Auth.CookieName)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("XL_SERVER_PORT", "9191")
	t.Setenv("XL_FLOW_STORE_PENDING_TTL", "2h")
	path := writeTempConfig(t, "server:\n  port: 8081\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.FlowStore.PendingTTL != 2*time.Hour {
		t.Errorf("FlowStore.PendingTTL = %v, want 2h", cfg.FlowStore.PendingTTL)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASS", "mysecret")
	const content = `
database:
  password: "${TEST_DB_PASS}"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "mysecret" {
		t.Errorf("Database.Password = %q, want mysecret", cfg.Database.Password)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidValueRejected(t *testing.T) {
	path := writeTempConfig(t, "flow_store:\n  backend: \"memcached\"\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Load() error = %v, want invalid configuration", err)
	}
}

// ---------------------------------------------------------------------------
// Watch
// ---------------------------------------------------------------------------

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  level: \"info\"\n")

	changed := make(chan *Config, 4)
	cfg, err := Watch(path, func(c *Config) { changed <- c })
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("initial Logging.Level = %q, want info", cfg.Logging.Level)
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: \"debug\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case next := <-changed:
			if next.Logging.Level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("Watch() did not deliver the reloaded config")
		}
	}
}
