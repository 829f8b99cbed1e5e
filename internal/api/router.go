// Package api wires together all HTTP routes for the collaboration hub.
//
// Every project route requires authentication; there is no anonymous surface
// beyond the health, readiness, and version probes. Mutating routes carry a
// stricter rate limit than reads because a single membership rewrite fans out
// into many database writes.
package api

import (
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/collab-hub/collab-hub/internal/api/projects"
	"github.com/collab-hub/collab-hub/internal/audit"
	"github.com/collab-hub/collab-hub/internal/config"
	"github.com/collab-hub/collab-hub/internal/db/repositories"
	"github.com/collab-hub/collab-hub/internal/middleware"
	"github.com/collab-hub/collab-hub/internal/reconcile"
)

// BackgroundServices holds resources that must be stopped during graceful
// shutdown. The caller (cmd/server) is responsible for calling Shutdown()
// after the HTTP server has drained in-flight requests.
type BackgroundServices struct {
	recorder     audit.Recorder
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops the rate limiter cleanup goroutines and closes the audit
// recorder stack.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.recorder != nil {
		if err := bg.recorder.Close(); err != nil {
			slog.Error("failed to close audit recorder", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize repositories
	companyRepo := repositories.NewCompanyRepository(db)
	projectRepo := repositories.NewProjectRepository(db)
	membershipRepo := repositories.NewMembershipRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	userRepo := repositories.NewUserRepository(sqlx.NewDb(db, "postgres"))

	// Audit recorder stack: database always, file and webhook per config
	recorder, err := audit.NewFromConfig(cfg.Audit, auditRepo)
	if err != nil {
		log.Fatalf("Failed to initialize audit recorder: %v", err)
	}

	engine := reconcile.NewEngine(membershipRepo, recorder, slog.Default())

	projectHandlers := projects.NewHandlers(projectRepo, companyRepo, userRepo, membershipRepo, engine, recorder)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint
	router.GET("/ready", readinessHandler(db))

	// API version
	router.GET("/version", versionHandler())

	// Rate limiters: general for reads, stricter for membership mutations
	generalRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	writeRateLimiter := middleware.NewRateLimiter(middleware.WriteRateLimitConfig())

	rateLimited := func(rl *middleware.RateLimiter) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimitMiddleware(rl)
	}

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(userRepo))
	apiV1.Use(rateLimited(generalRateLimiter))
	{
		projectsGroup := apiV1.Group("/projects")
		{
			projectsGroup.GET("", projectHandlers.ListHandler())
			projectsGroup.POST("", rateLimited(writeRateLimiter), projectHandlers.CreateHandler())
			projectsGroup.GET("/:id", projectHandlers.GetHandler())
			projectsGroup.PUT("/:id", rateLimited(writeRateLimiter), projectHandlers.UpdateHandler())
			projectsGroup.DELETE("/:id", rateLimited(writeRateLimiter), projectHandlers.DeleteHandler())

			projectsGroup.PUT("/:id/complete", rateLimited(writeRateLimiter), projectHandlers.StatusHandler(true))
			projectsGroup.PUT("/:id/open", rateLimited(writeRateLimiter), projectHandlers.StatusHandler(false))

			projectsGroup.GET("/:id/people", projectHandlers.PeopleHandler())
			projectsGroup.DELETE("/:id/people/:user_id", rateLimited(writeRateLimiter), projectHandlers.RemoveMemberHandler())

			projectsGroup.GET("/:id/permissions", projectHandlers.GetPermissionsHandler())
			projectsGroup.POST("/:id/permissions", rateLimited(writeRateLimiter), projectHandlers.UpdatePermissionsHandler())

			projectsGroup.DELETE("/:id/companies/:company_id", rateLimited(writeRateLimiter), projectHandlers.RemoveCompanyHandler())
		}
	}

	bg := &BackgroundServices{
		recorder:     recorder,
		rateLimiters: []*middleware.RateLimiter{generalRateLimiter, writeRateLimiter},
	}

	return router, bg
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
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

// readinessHandler returns the readiness status of the service. The database
// is the only hard dependency, so readiness and liveness differ only in shape.
func readinessHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging via slog. The output
// format (JSON or text) follows the handler installed by telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
