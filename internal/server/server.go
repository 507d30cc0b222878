package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zbridge-dev/zbridge/internal/cache"
	"github.com/zbridge-dev/zbridge/internal/config"
	"github.com/zbridge-dev/zbridge/internal/obs"
	"github.com/zbridge-dev/zbridge/internal/upstream"
)

// Server is the HTTP front of the proxy. All shared state (cache, monitor,
// upstream client) is injected here at startup; handlers hold no globals.
type Server struct {
	cfg      *config.AppConfig
	cache    *cache.Cache
	monitor  *obs.Monitor
	upstream *upstream.Client

	engine     *gin.Engine
	httpServer *http.Server

	version string
}

// ServerOption configures optional server fields.
type ServerOption func(*Server)

func WithVersion(version string) ServerOption {
	return func(s *Server) { s.version = version }
}

// NewServer wires the shared services and routes.
func NewServer(cfg *config.AppConfig, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		cache:   cache.New(cfg.CacheDefaultTTL, cfg.CacheMaxSize),
		monitor: obs.NewMonitor(cfg.PerfMonitoring),
		version: "dev",
	}
	s.upstream = upstream.NewClient(cfg, s.cache)
	for _, opt := range opts {
		opt(s)
	}

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.Use(CORSMiddleware(cfg.CORSOrigins))
	s.engine.Use(StatsMiddleware(s.monitor))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", s.handleMetrics)

	authed := s.engine.Group("/")
	authed.Use(AuthMiddleware(s.cfg))
	authed.Use(ConcurrencyLimiter(s.cfg.MaxConcurrentRequests))
	authed.GET("/v1/models", s.handleModels)
	authed.POST("/v1/chat/completions", s.handleChatCompletions)
	authed.POST("/v1/messages", s.handleMessages)
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.engine,
		// Streaming responses outlive any write deadline; only reads are bounded.
		ReadHeaderTimeout: 10 * time.Second,
	}
	logrus.Infof("listening on %s (upstream %s, model %s)", addr, s.cfg.APIBase, s.cfg.ModelName)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops background services.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.cache.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the gin engine for tests.
func (s *Server) Handler() http.Handler { return s.engine }
