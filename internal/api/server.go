// Package api is the status and control HTTP surface: read-only views
// of the fleet, ledger, and deployment protocol, plus pause/resume.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tradewarden/internal/bots"
	"tradewarden/internal/config"
	"tradewarden/internal/helios"
	"tradewarden/internal/metrics"
	"tradewarden/internal/positions"
)

// EngineState is the scheduler's externally visible state.
type EngineState struct {
	Running     bool   `json:"running"`
	Paused      bool   `json:"paused"`
	PauseReason string `json:"pause_reason,omitempty"`
	Cycle       int    `json:"cycle"`
}

// Controller pauses and resumes the trading loop; the scheduler
// implements it.
type Controller interface {
	Pause(reason string)
	Resume()
	State() EngineState
}

// FleetReader reports bot fleet status.
type FleetReader interface {
	StatusSummary() []bots.Status
}

// PositionReader lists the open side of the ledger.
type PositionReader interface {
	GetOpen(ctx context.Context) ([]*positions.Position, error)
}

// DeploymentReader lists recent deployments.
type DeploymentReader interface {
	ListDeployments(ctx context.Context, limit int) ([]*helios.Deployment, error)
}

// SafetyReader reports the exchange envelope's protective state.
type SafetyReader interface {
	CircuitState() string
	RateLimitInFlight() int
}

// Deps are the collaborators the server reads from and controls. Any
// nil member disables its endpoints with 503.
type Deps struct {
	Controller  Controller
	Fleet       FleetReader
	Positions   PositionReader
	Deployments DeploymentReader
	Safety      SafetyReader
}

// Server is the control API server.
type Server struct {
	router *gin.Engine
	deps   Deps
	addr   string
	server *http.Server
	logger zerolog.Logger
}

// NewServer builds the router and its middleware chain.
func NewServer(cfg config.APIConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := config.NewLogger("api")
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(instrument())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		router: router,
		deps:   deps,
		addr:   cfg.GetAPIAddr(),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/positions", s.handlePositions)
		v1.GET("/helios/deployments", s.handleDeployments)
		v1.POST("/pause", s.handlePause)
		v1.POST("/resume", s.handleResume)
	}
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting control API")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control API server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests within the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop control API: %w", err)
	}
	s.logger.Info().Msg("Control API stopped")
	return nil
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		event := logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("API request")
	}
}

func instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordAPIRequest(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start).Seconds(),
		)
	}
}
