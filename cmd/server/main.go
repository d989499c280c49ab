// @title           xerolink API
// @version         1.0.0
// @description     Links local users to Xero over OAuth1.0a and serves the linked account.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Session token: 'Bearer {jwt}'. Browser redirects may carry it in the xl_session cookie instead."
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and profiling are served on a dedicated side-channel port (default: 9090) that is separate from the main API server. Configure the port with XL_TELEMETRY_METRICS_PROMETHEUS_PORT. pprof (if enabled via XL_TELEMETRY_PROFILING_ENABLED=true) is served on XL_TELEMETRY_PROFILING_PORT (default: 6060).

// Package main is the entry point for the xerolink server binary. It dispatches
// its subcommands (serve, migrate, secrets, issue-token, version) via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place.
// The serve command runs auto-migration on startup when database.auto_migrate is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- pprof is only served on the dedicated profiling port.
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/xerolink/xerolink/internal/api"
	"github.com/xerolink/xerolink/internal/auth"
	"github.com/xerolink/xerolink/internal/cache"
	"github.com/xerolink/xerolink/internal/config"
	"github.com/xerolink/xerolink/internal/crypto"
	"github.com/xerolink/xerolink/internal/db"
	"github.com/xerolink/xerolink/internal/db/models"
	"github.com/xerolink/xerolink/internal/db/repositories"
	"github.com/xerolink/xerolink/internal/secrets"
	"github.com/xerolink/xerolink/internal/telemetry"
)

const usage = `usage: server <command>

commands:
  serve                          run the HTTP server (default)
  migrate <up|down>              apply or roll back schema migrations
  secrets list                   show which provider secrets are configured
  secrets set <name> <value>     store a provider secret
  issue-token <email> [first] [last]
                                 create the user if needed and print a session token
  version                        print the version`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	if command == "version" {
		fmt.Printf("xerolink v%s\n", api.Version)
		return nil
	}

	configPath := os.Getenv("CONFIG_PATH")

	switch command {
	case "serve":
		return serve(configPath)
	case "migrate":
		if len(args) < 1 {
			return fmt.Errorf("usage: server migrate <up|down>")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runMigrations(cfg, args[0])
	case "secrets":
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runSecrets(cfg, args)
	case "issue-token":
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return issueToken(cfg, args)
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}
}

func serve(configPath string) error {
	cfg, err := config.Watch(configPath, func(next *config.Config) {
		telemetry.SetLogLevel(next.Logging.Level)
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialise structured logger as early as possible so all subsequent log output
	// uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Fails in production if XL_JWT_SECRET is not set
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	cipher, err := loadCipher(cfg)
	if err != nil {
		return err
	}

	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(database.DB)

	if cfg.Database.AutoMigrate {
		if err := db.RunMigrations(database.DB, "up"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		if version, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
			slog.Warn("failed to get migration version", "error", err)
		} else {
			slog.Info("database schema ready", "version", version, "dirty", dirty)
		}
	}

	if err := checkProviderSecrets(cfg, database, cipher); err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = cache.NewClient(context.Background(), &cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	if cfg.Telemetry.Metrics.Enabled {
		startSideServer("metrics", cfg.Telemetry.Metrics.PrometheusPort, metricsMux(), 10*time.Second)
	}
	if cfg.Telemetry.Profiling.Enabled {
		// net/http/pprof registers its handlers on http.DefaultServeMux at init time.
		startSideServer("pprof", cfg.Telemetry.Profiling.Port, http.DefaultServeMux, 30*time.Second)
	}

	router, bgServices := api.NewRouter(cfg, api.Dependencies{DB: database, Redis: rdb, Cipher: cipher})

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"public_url", cfg.Server.GetPublicURL(),
			"flow_store", cfg.FlowStore.Backend)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// startSideServer serves handler on its own port, away from the public API listener
func startSideServer(name string, port int, handler http.Handler, timeout time.Duration) {
	addr := fmt.Sprintf(":%d", port)
	go func() {
		slog.Info("starting side server", "name", name, "addr", addr)
		srv := &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("side server error", "name", name, "error", err)
		}
	}()
}

// loadCipher resolves ENCRYPTION_KEY, or the configured passphrase and salt
func loadCipher(cfg *config.Config) (*crypto.TokenCipher, error) {
	enc := cfg.Security.Encryption
	cipher, err := crypto.Resolve(os.Getenv("ENCRYPTION_KEY"), enc.Passphrase, enc.Salt, enc.Iterations)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w (set ENCRYPTION_KEY, see scripts/generate-key.go)", err)
	}
	return cipher, nil
}

func connect(cfg *config.Config) (*sqlx.DB, error) {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}

// checkProviderSecrets refuses to start without the Xero consumer pair when
// secrets.require_at_startup is set, and only warns otherwise.
func checkProviderSecrets(cfg *config.Config, database *sqlx.DB, cipher *crypto.TokenCipher) error {
	store := secrets.NewDBStore(repositories.NewSecretRepository(database), cipher)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := secrets.LoadProviderCredentials(ctx, store)
	if err == nil {
		return nil
	}
	if errors.Is(err, secrets.ErrNotConfigured) && !cfg.Secrets.RequireAtStartup {
		slog.Warn("xero provider secrets are not configured; authorization flows will fail", "error", err)
		return nil
	}
	return fmt.Errorf("%w (set them with: server secrets set <name> <value>)", err)
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	fmt.Printf("Migration %s completed. Current version: %d (dirty: %v)\n", direction, version, dirty)
	return nil
}

func runSecrets(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: server secrets <list|set>")
	}
	cipher, err := loadCipher(cfg)
	if err != nil {
		return err
	}
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	store := secrets.NewDBStore(repositories.NewSecretRepository(database), cipher)
	ctx := context.Background()

	switch args[0] {
	case "list":
		entries, err := store.List(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			state := "unset"
			if e.Configured {
				state = "set"
			}
			fmt.Printf("%-24s %-20s %s\n", e.Name, e.Label, state)
		}
		return nil
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: server secrets set <name> <value>")
		}
		if err := store.Set(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("%s updated\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown secrets command: %s", args[0])
	}
}

// issueToken prints a session token for a local user, creating the user first
// when the email is unknown. It stands in for a login screen.
// userStore is the part of UserRepository issue-token needs
type userStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUserName(ctx context.Context, user *models.User) error
}

// ensureUser returns the user with email, creating it when absent. Names given
// on the command line replace the stored ones; omitted names are kept.
func ensureUser(ctx context.Context, users userStore, email, first, last string) (*models.User, error) {
	user, err := users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = &models.User{Email: email, FirstName: first, LastName: last}
		if err := users.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return user, nil
	}

	changed := false
	if first != "" && first != user.FirstName {
		user.FirstName, changed = first, true
	}
	if last != "" && last != user.LastName {
		user.LastName, changed = last, true
	}
	if changed {
		if err := users.UpdateUserName(ctx, user); err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
	}
	return user, nil
}

func issueToken(cfg *config.Config, args []string) error {
	if len(args) < 1 || !strings.Contains(args[0], "@") {
		return fmt.Errorf("usage: server issue-token <email> [first] [last]")
	}
	if err := auth.ValidateJWTSecret(); err != nil {
		return err
	}
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	users := repositories.NewUserRepository(database.DB)
	var first, last string
	if len(args) > 1 {
		first = args[1]
	}
	if len(args) > 2 {
		last = args[2]
	}
	user, err := ensureUser(context.Background(), users, args[0], first, last)
	if err != nil {
		return err
	}

	token, err := auth.GenerateJWT(user.ID, user.Email, cfg.Auth.SessionTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
