// Package server exposes the agent runtime over HTTP and fans its events
// out to websocket subscribers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dagbolade/munin-core/internal/auth"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

type Server struct {
	echo   *echo.Echo
	config Config
	hub    *Hub
}

// Deps are the collaborators served over HTTP. Audit may be nil.
type Deps struct {
	Agent   Agent
	Catalog Catalog
	Audit   AuditLister
	Auth    *auth.Manager
}

func New(cfg Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if deps.Auth == nil {
		deps.Auth = auth.NewManager(auth.Config{})
	}

	s := &Server{
		echo:   e,
		config: cfg,
		hub:    NewHub(),
	}

	s.setupMiddleware()
	s.setupRoutes(deps)

	return s
}

// Hub is the websocket fan-out; the bus dispatcher publishes into it too.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	log.Info().Str("listen", s.config.Listen).Msg("starting HTTP server")

	s.echo.Server.ReadTimeout = time.Duration(s.config.ReadTimeout) * time.Second
	s.echo.Server.WriteTimeout = time.Duration(s.config.WriteTimeout) * time.Second

	if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Addr is the bound listener address once Start is running.
func (s *Server) Addr() net.Addr {
	return s.echo.ListenerAddr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.ShutdownTimeout)*time.Second)
	defer cancel()

	s.hub.Shutdown()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.BodyLimit("1M"))

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
}

func (s *Server) setupRoutes(deps Deps) {
	transcriptHandler := NewTranscriptHandler(deps.Agent, s.hub, s.config.AutoApprove)
	toolsHandler := NewToolsHandler(deps.Catalog)
	auditHandler := NewAuditHandler(deps.Audit)
	wsHandler := NewWSHandler(s.hub, deps.Auth)

	s.echo.GET("/health", s.handleHealth)

	// Websocket upgrades authenticate themselves (query token).
	s.echo.GET("/v1/events", wsHandler.HandleWebSocket)

	protected := s.echo.Group("/v1")
	protected.Use(deps.Auth.Middleware())

	protected.GET("/whoami", auth.WhoAmI)
	protected.POST("/transcript", transcriptHandler.Submit, deps.Auth.RequireRole(auth.RoleOperator))
	protected.GET("/tools", toolsHandler.List)
	protected.GET("/audit", auditHandler.GetAuditLog)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
