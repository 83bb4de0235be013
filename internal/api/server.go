// Package api wires the HTTP surface: REST handlers, the realtime endpoint,
// the identity provider proxy, health and metrics.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lirancohen/workhub/internal/api/core"
	"github.com/lirancohen/workhub/internal/api/handlers/projects"
	"github.com/lirancohen/workhub/internal/api/handlers/sso"
	"github.com/lirancohen/workhub/internal/api/handlers/tasks"
	"github.com/lirancohen/workhub/internal/api/handlers/workspaces"
	"github.com/lirancohen/workhub/internal/api/middleware"
	"github.com/lirancohen/workhub/internal/db"
)

// Server represents the API server
type Server struct {
	echo     *echo.Echo
	deps     *core.Deps
	addr     string
	certFile string
	keyFile  string
}

// Config holds server configuration
type Config struct {
	Addr     string              // e.g. ":8080"
	CertFile string              // TLS certificate (optional)
	KeyFile  string              // TLS key (optional)
	Metrics  prometheus.Gatherer // served at /metrics when set
}

// NewServer creates a new API server
func NewServer(deps *core.Deps, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(deps.Logger.With().Str("component", "http").Logger()))

	s := &Server{
		echo:     e,
		deps:     deps,
		addr:     cfg.Addr,
		certFile: cfg.CertFile,
		keyFile:  cfg.KeyFile,
	}
	s.registerRoutes(cfg.Metrics)
	return s
}

// registerRoutes sets up all routes
func (s *Server) registerRoutes(metrics prometheus.Gatherer) {
	s.echo.GET("/healthz", s.handleHealth)
	if metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics, promhttp.HandlerOpts{})))
	}

	// The provider serves its own pages under the issuer path.
	if s.deps.Proxy != nil {
		prefix := s.deps.Supervisor.Settings().PathPrefix
		proxy := echo.WrapHandler(s.deps.Proxy)
		s.echo.Any(prefix, proxy)
		s.echo.Any(prefix+"/*", proxy)
	}

	v1 := s.echo.Group("/api/v1")

	// The gateway authenticates during the handshake itself.
	v1.GET("/ws", echo.WrapHandler(s.deps.Gateway))

	protected := v1.Group("", middleware.JWTAuth(s.deps.Issuer))
	protected.GET("/me", s.handleMe)
	workspaces.New(s.deps).RegisterRoutes(protected)
	projects.New(s.deps).RegisterRoutes(protected)
	tasks.New(s.deps).RegisterRoutes(protected)

	admin := v1.Group("/admin", middleware.JWTAuth(s.deps.Issuer), middleware.RequireAdmin(s.deps.DB))
	sso.New(s.deps).RegisterRoutes(admin)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"idp":         s.deps.Supervisor.State().String(),
		"connections": s.deps.Hub.Registry().Count(),
	})
}

func (s *Server) handleMe(c echo.Context) error {
	user, err := s.deps.DB.GetUser(c.Request().Context(), middleware.GetUserID(c))
	if errors.Is(err, db.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, user)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins serving HTTP/HTTPS requests. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.deps.Logger.Info().Str("addr", s.addr).Bool("tls", s.certFile != "").Msg("starting HTTP server")
	var err error
	if s.certFile != "" && s.keyFile != "" {
		err = s.echo.StartTLS(s.addr, s.certFile, s.keyFile)
	} else {
		err = s.echo.Start(s.addr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, closes realtime connections with a
// going-away frame and waits for in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	gwErr := s.deps.Gateway.Shutdown(ctx)
	return errors.Join(s.echo.Shutdown(ctx), gwErr)
}
