// Package api wires together all HTTP routes for the xerolink backend.
//
// Route groups:
//   - /health, /ready and /version are unauthenticated health endpoints.
//   - /xero/... are browser entry points of the authorization flow. They carry
//     a browser security profile, are never cached and share the tighter auth
//     rate limit, since each start costs a round trip to Xero.
//   - /api/v1/xero/... is the JSON API over the user's link. Everything except
//     /status additionally sits behind the session gate.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	xeroapi "github.com/xerolink/xerolink/internal/api/xero"
	"github.com/xerolink/xerolink/internal/audit"
	"github.com/xerolink/xerolink/internal/cache"
	"github.com/xerolink/xerolink/internal/config"
	"github.com/xerolink/xerolink/internal/crypto"
	"github.com/xerolink/xerolink/internal/db/repositories"
	"github.com/xerolink/xerolink/internal/jobs"
	"github.com/xerolink/xerolink/internal/linking"
	"github.com/xerolink/xerolink/internal/middleware"
	"github.com/xerolink/xerolink/internal/secrets"
	"github.com/xerolink/xerolink/internal/xero"
)

// Version is reported by /version; release builds override it with -ldflags -X.
var Version = "0.1.0"

// Dependencies are the resources main opens before building the router
type Dependencies struct {
	DB *sqlx.DB
	// Redis is nil when redis.enabled is false
	Redis  *redis.Client
	Cipher *crypto.TokenCipher
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	sweeper      *jobs.PendingFlowSweeper
	linkCounter  *jobs.AccountLinkCounter
	rateLimiters []*middleware.RateLimiter
	auditShipper *audit.MultiShipper
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweeper.Stop()
	}
	if bg.linkCounter != nil {
		bg.linkCounter.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// newAuditWriter copies audit rows to the configured file and webhook
// destinations. A shipper that fails to open is logged and skipped so the
// database record is still written.
func newAuditWriter(store audit.Store, cfg *config.AuditConfig, bg *BackgroundServices) middleware.AuditWriter {
	shippers, err := audit.NewMultiShipper(cfg)
	if err != nil {
		slog.Error("audit shippers disabled", "error", err)
		return store
	}
	if shippers.Len() == 0 {
		return store
	}
	bg.auditShipper = shippers
	slog.Info("audit shipping enabled", "destinations", shippers.Len())
	return audit.NewWriter(store, shippers)
}

// NewProvider builds the Xero provider from configuration
func NewProvider(cfg *config.XeroConfig) *xero.Provider {
	return xero.NewProvider(xero.Endpoints{
		RequestTokenURL: cfg.RequestTokenURL,
		AuthorizeURL:    cfg.AuthorizeURL,
		AccessTokenURL:  cfg.AccessTokenURL,
		APIBaseURL:      cfg.APIBaseURL,
		ProjectsBaseURL: cfg.ProjectsBaseURL,
	}, &http.Client{Timeout: cfg.Timeout}, cfg.UserAgent)
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}
	db := deps.DB

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db.DB)
	auditRepo := repositories.NewAuditRepository(db.DB)
	secretRepo := repositories.NewSecretRepository(db)
	linkRepo := repositories.NewAccountLinkRepository(db)
	projectsRepo := repositories.NewProjectsUserRepository(db)

	var flows linking.FlowRepository
	if cfg.FlowStore.Backend == "redis" && deps.Redis != nil {
		flows = cache.NewPendingFlowStore(deps.Redis, cfg.FlowStore.PendingTTL)
		slog.Info("pending flows stored in redis", "ttl", cfg.FlowStore.PendingTTL)
	} else {
		flowRepo := repositories.NewPendingFlowRepository(db)
		flows = flowRepo
		bg.sweeper = jobs.NewPendingFlowSweeper(flowRepo, cfg.FlowStore.PendingTTL, cfg.FlowStore.SweepInterval)
		bg.sweeper.Start(context.Background())
	}

	bg.linkCounter = jobs.NewAccountLinkCounter(linkRepo, time.Minute)
	bg.linkCounter.Start(context.Background())

	svc := linking.NewService(
		secrets.NewDBStore(secretRepo, deps.Cipher),
		flows,
		linkRepo,
		projectsRepo,
		NewProvider(&cfg.Xero),
		deps.Cipher,
		linking.WithPendingTTL(cfg.FlowStore.PendingTTL),
		linking.WithProjectsPageSize(cfg.Xero.ProjectsPageSize),
		linking.WithInterstitialPath(xeroapi.InterstitialPath),
	)
	handlers := xeroapi.NewHandlers(svc, auditRepo, cfg.Server.CallbackURL(xeroapi.AcceptPath))

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))

	router.GET("/health", healthCheckHandler(db))
	var rdb redis.Cmdable
	if deps.Redis != nil {
		rdb = deps.Redis
	}
	router.GET("/ready", readinessHandler(db, rdb))
	router.GET("/version", versionHandler())

	hsts := cfg.Security.TLS.Enabled
	sessionAuth := middleware.SessionAuth(cfg.Auth.CookieName, userRepo)
	auditLog := middleware.AuditMiddleware(newAuditWriter(auditRepo, &cfg.Audit, bg), &cfg.Audit)

	authLimit := middleware.AuthRateLimitConfig()
	apiLimit := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		apiLimit.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		apiLimit.BurstSize = cfg.Security.RateLimiting.Burst
	}

	browser := router.Group("/xero")
	browser.Use(middleware.SecurityHeadersMiddleware(middleware.BrowserSecurityHeadersConfig(hsts)))
	browser.Use(middleware.NoStore())
	if cfg.Security.RateLimiting.Enabled {
		browser.Use(middleware.RateLimitMiddleware(bg.limiter(deps.Redis, "xerolink:rl:auth:", authLimit)))
	}
	browser.Use(sessionAuth, auditLog)
	{
		browser.GET("/auth/start", handlers.Start)
		browser.GET("/auth/accept", handlers.Accept)
		browser.POST("/logout", handlers.Logout)
		browser.GET("/interstitial", handlers.Interstitial)
	}

	apiGroup := router.Group("/api/v1/xero")
	apiGroup.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(hsts)))
	apiGroup.Use(middleware.NoStore())
	if cfg.Security.RateLimiting.Enabled {
		apiGroup.Use(middleware.RateLimitMiddleware(bg.limiter(deps.Redis, "xerolink:rl:api:", apiLimit)))
	}
	apiGroup.Use(sessionAuth, auditLog)
	{
		apiGroup.GET("/status", handlers.Status)
		apiGroup.GET("/history", handlers.History)

		gated := apiGroup.Group("")
		gated.Use(middleware.RequireLinkedAccount(svc, nil))
		gated.GET("/organisation", handlers.Organisation)
		gated.GET("/identity", handlers.GuessIdentity)
		gated.PUT("/identity", handlers.ConfirmIdentity)
		gated.GET("/identity/projects", handlers.GuessProjectsIdentity)
	}

	return router, bg
}

// limiter shares limits through redis when it is available and keeps them in
// memory otherwise. In-memory limiters are stopped on shutdown.
func (bg *BackgroundServices) limiter(client *redis.Client, prefix string, cfg middleware.RateLimitConfig) middleware.Limiter {
	if client != nil {
		return middleware.NewRedisLimiter(client, prefix, cfg)
	}
	rl := middleware.NewRateLimiter(cfg)
	bg.rateLimiters = append(bg.rateLimiters, rl)
	return rl
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when enabled, redis.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler fails when the database or the configured redis is unreachable
func readinessHandler(db *sqlx.DB, rdb redis.Cmdable) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		checks := gin.H{}

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version, oauth"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
			"oauth":       "1.0a",
		})
	}
}

// LoggerMiddleware emits one structured record per request. The handler format
// (json or text) is chosen once by telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		// The query string is left out: callback URLs carry verifiers.
		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", c.GetString(middleware.RequestIDKey)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		listed, wildcard := false, false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			switch allowedOrigin {
			case "*":
				wildcard = true
			case origin:
				listed = true
			}
		}

		if origin != "" && (listed || wildcard) {
			// Credentials go only to an explicitly listed origin; a "*" entry
			// gets an anonymous wildcard answer.
			if listed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Vary", "Origin")
			} else {
				c.Header("Access-Control-Allow-Origin", "*")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
