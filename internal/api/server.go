// Package api serves rampart's local read-only status API: the service
// status, connected players, clip libraries, health checks and Prometheus
// metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rampart-project/rampart/internal/config"
	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/health"
	"github.com/rampart-project/rampart/internal/metrics"
	intnet "github.com/rampart-project/rampart/internal/network"
	"github.com/rampart-project/rampart/internal/players"
	"github.com/rampart-project/rampart/internal/server"
	"github.com/rampart-project/rampart/internal/sound"
	"github.com/rampart-project/rampart/internal/util"
)

// StatusProvider is implemented by *server.Service.
type StatusProvider interface {
	Status() server.Status
}

// HealthReporter is implemented by *health.Manager.
type HealthReporter interface {
	Checks() []health.Check
	Healthy() bool
}

// OverrideLister is implemented by *db.Store.
type OverrideLister interface {
	CommandOverrides(ctx context.Context, guid string) ([]db.CommandOverride, error)
}

// Deps are the data sources behind the routes. Health, Overrides and
// Metrics may be nil.
type Deps struct {
	Status    StatusProvider
	Catalog   *sound.Catalog
	Health    HealthReporter
	Overrides OverrideLister
	Metrics   *metrics.Metrics
	Version   string
}

// Server is the status API server.
type Server struct {
	cfg    config.APIConfig
	deps   Deps
	logger zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the server and builds its router.
func NewServer(cfg config.APIConfig, deps Deps, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Addr()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.logger.Info().Str("addr", addr).Msg("status API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status API error: %w", err)
	}
	return nil
}

// buildRouter creates the gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	limiter := NewRateLimiter(s.cfg.RateLimitRPS)
	router.Use(limiter.Middleware())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/status", s.handleStatus)
		api.GET("/players", s.handlePlayers)
		api.GET("/sounds/:guid", s.handleSounds)
		api.GET("/health", s.handleHealth)
		api.GET("/overrides/:guid", s.handleOverrides)
	}

	if s.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// playersResponse is the body of /api/players.
type playersResponse struct {
	Count   int              `json:"count"`
	Players []players.Player `json:"players"`
}
