package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gsraster/pkg/api/middleware"
	"gsraster/pkg/auth"
	"gsraster/pkg/ghostscript"
	"gsraster/pkg/logger"
	tracing "gsraster/pkg/observability"
	"gsraster/pkg/storage"
)

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	store     storage.ConversionStore
	queue     storage.Queue
	validator *middleware.Validator
	auth      middleware.AuthConfig
	limiter   *middleware.RateLimiter

	defaultResolution int
	defaultDevice     string
}

// Config holds API server configuration.
type Config struct {
	Port              string
	Store             storage.ConversionStore
	Queue             storage.Queue
	Validator         middleware.ValidatorConfig
	DefaultResolution int
	DefaultDevice     string
	ServiceName       string
	Auth              middleware.AuthConfig
	RateLimit         middleware.RateLimiterConfig
	TrustedProxies    []string
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	if cfg.ServiceName == "" {
		cfg.ServiceName = "gsraster-api"
	}
	if cfg.DefaultResolution == 0 {
		cfg.DefaultResolution = ghostscript.DefaultResolution
	}
	if cfg.DefaultDevice == "" {
		cfg.DefaultDevice = ghostscript.DefaultDevice
	}
	if cfg.Validator.MaxInputs == 0 {
		cfg.Validator = middleware.DefaultValidatorConfig()
	}

	router := gin.New()
	// Client IPs key the rate limit, so forwarding headers are only honored
	// from listed proxies.
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Warn("invalid trusted proxies, trusting none", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	// Middleware stack (order matters)
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware(cfg.ServiceName))
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger())
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20)) // 1MB body limit

	s := &Server{
		router:            router,
		store:             cfg.Store,
		queue:             cfg.Queue,
		validator:         middleware.NewValidator(cfg.Validator),
		auth:              cfg.Auth,
		limiter:           middleware.NewRateLimiter(cfg.RateLimit),
		defaultResolution: cfg.DefaultResolution,
		defaultDevice:     cfg.DefaultDevice,
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	logger.Info("api server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("api server shutting down")
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(s.auth))
	v1.Use(s.limiter.Middleware())
	{
		conversions := v1.Group("/conversions")
		{
			conversions.POST("", middleware.RequireRole(auth.RoleSubmitter), s.createConversion)
			conversions.GET("", middleware.RequireRole(auth.RoleViewer), s.listConversions)
			conversions.GET("/:id", middleware.RequireRole(auth.RoleViewer), s.getConversion)
		}

		admin := v1.Group("", middleware.RequireRole(auth.RoleAdmin))
		if s.auth.APIKeyStore != nil {
			admin.POST("/keys", s.createKey)
			admin.GET("/keys", s.listKeys)
			admin.DELETE("/keys/:id", s.revokeKey)
		}
		if s.auth.JWTService != nil {
			admin.POST("/tokens", s.issueToken)
		}
	}
}

// requestLogger is a middleware that logs HTTP requests.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
			zap.String("trace_id", tracing.TraceID(c.Request.Context())),
		)
	}
}

// healthCheck returns server health status with dependency checks.
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]bool)

	deps["postgres"] = s.store != nil
	if p, ok := s.store.(Pinger); ok {
		deps["postgres"] = p.Ping(ctx) == nil
	}

	deps["redis"] = false
	if s.queue != nil {
		_, err := s.queue.Len(ctx)
		deps["redis"] = err == nil
	}

	healthy := true
	for _, ok := range deps {
		if !ok {
			healthy = false
			break
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}
