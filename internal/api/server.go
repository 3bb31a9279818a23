package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/tphakala/nutrigraph/internal/api/middleware"
	v1 "github.com/tphakala/nutrigraph/internal/api/v1"
	"github.com/tphakala/nutrigraph/internal/buildinfo"
	"github.com/tphakala/nutrigraph/internal/conf"
	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/observability"
	"github.com/tphakala/nutrigraph/internal/vectorindex"
)

// IndexHealth is what the health endpoint asks of the vector index
type IndexHealth interface {
	Ping() error
	Meta() vectorindex.Meta
	Collection() string
}

// Server is the HTTP server for the retrieval API.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	logger   logger.Logger

	// Dependencies
	retriever v1.Retriever
	index     IndexHealth
	metrics   *observability.Metrics
	build     *buildinfo.Context

	apiController *v1.Controller

	// Lifecycle management
	mu        sync.Mutex
	listener  net.Listener
	wg        sync.WaitGroup
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithRetriever sets the query service behind the v1 endpoints.
func WithRetriever(r v1.Retriever) ServerOption {
	return func(s *Server) {
		s.retriever = r
	}
}

// WithIndex sets the index reported by the health endpoint.
func WithIndex(idx IndexHealth) ServerOption {
	return func(s *Server) {
		s.index = idx
	}
}

// WithMetrics sets the observability metrics for the server and exposes
// them on /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithBuildInfo sets the version reported by the health endpoint.
func WithBuildInfo(b *buildinfo.Context) ServerOption {
	return func(s *Server) {
		s.build = b
	}
}

// WithConfig replaces the configuration derived from settings.
func WithConfig(cfg *Config) ServerOption {
	return func(s *Server) {
		s.config = cfg
	}
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	s := &Server{
		config:    ConfigFromSettings(settings),
		settings:  settings,
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if s.logger == nil {
		s.logger = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = s.config.Debug

	s.echo.Server.Handler = s.echo
	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout
	s.echo.Server.IdleTimeout = s.config.IdleTimeout

	s.setupMiddleware()

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	s.logger.Info("HTTP server initialized",
		logger.String("address", s.config.Listen),
		logger.Bool("debug", s.config.Debug))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	s.echo.Use(mw.NewRequestID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.logger, func(c echo.Context) bool {
		return c.Path() == "/metrics"
	}))

	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins

	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewGzip())
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() error {
	s.echo.GET("/health", s.healthCheck)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	apiController, err := v1.New(s.echo, s.retriever, s.logger.Module("v1"))
	if err != nil {
		return fmt.Errorf("failed to initialize API v1: %w", err)
	}
	s.apiController = apiController

	s.logger.Debug("Routes initialized",
		logger.String("api_version", "v1"),
		logger.Bool("metrics", s.metrics != nil))
	return nil
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Collection string `json:"collection,omitempty"`
	Entries    int    `json:"entries"`
	Embedder   string `json:"embedder,omitempty"`
	Error      string `json:"error,omitempty"`
	Uptime     string `json:"uptime"`
}

// healthCheck reports ok while the index is readable and degraded
// otherwise. It always answers 200 so the process itself stays probeable.
func (s *Server) healthCheck(c echo.Context) error {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.build.GetVersion(),
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}

	if s.index == nil {
		resp.Status = "degraded"
		resp.Error = "no index configured"
		return c.JSON(http.StatusOK, resp)
	}

	meta := s.index.Meta()
	resp.Collection = s.index.Collection()
	resp.Entries = meta.Count
	resp.Embedder = meta.Embedder
	if err := s.index.Ping(); err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// Start binds the listen address and serves in a background goroutine.
// It returns once the socket is bound, so a port conflict is reported here.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.echo.Listener = ln
	s.mu.Unlock()

	s.wg.Go(func() {
		if err := s.startBlocking(); err != nil {
			s.logger.Error("Server error", logger.Error(err))
		}
	})

	s.logger.Info("HTTP server started", logger.String("address", ln.Addr().String()))
	return nil
}

// startBlocking serves on the bound listener until the server is shut down.
func (s *Server) startBlocking() error {
	err := s.echo.Server.Serve(s.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.logger.Info("Shutdown signal received, initiating graceful shutdown")
	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Info("Server shutdown complete")
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Echo returns the underlying Echo instance.
// This is useful for testing or advanced configuration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
