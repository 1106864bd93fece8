// Package httpapi is the HTTP Facade (spec §4.6): it binds the
// Streaming HTTP Transport and the OAuth 2.1 Authorization Subsystem to
// concrete paths, and serves the discovery documents, a health/version
// endpoint, and the inline consent page. Grounded on the teacher's
// pkg/server/server.go (Echo lifecycle: HideBanner, standard
// middleware, context-driven graceful Start/Shutdown) generalized from
// a bare health-only router to the full facade this spec names.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/corpusmcp/internal/config"
	"github.com/fyrsmithlabs/corpusmcp/internal/logging"
	"github.com/fyrsmithlabs/corpusmcp/internal/mcpsession"
	"github.com/fyrsmithlabs/corpusmcp/internal/oauth"
	"github.com/fyrsmithlabs/corpusmcp/internal/transport/sse"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version is the server's self-reported version, surfaced in the root
// health document and the initialize handshake's serverInfo.
const Version = "1.0.0"

// Server binds the streaming transport and authorization subsystem to
// concrete HTTP routes.
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	oauthSvc *oauth.Service
	sse      *sse.Transport
	sessions *mcpsession.Manager
	log      *logging.Logger
	metrics  *Metrics
}

// New constructs a Server ready to register routes and Start.
func New(cfg *config.Config, oauthSvc *oauth.Service, sseTransport *sse.Transport, sessions *mcpsession.Manager, log *logging.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:     e,
		cfg:      cfg,
		oauthSvc: oauthSvc,
		sse:      sseTransport,
		sessions: sessions,
		log:      log,
		metrics:  NewMetrics(log),
	}
	e.Use(s.metrics.MetricsMiddleware())
	s.registerRoutes()
	return s
}

// Start binds the listener and blocks until ctx is canceled, then
// performs a graceful shutdown within cfg.Server.ShutdownTimeout.
// Mirrors the teacher's Start(ctx) contract in pkg/server/server.go.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("httpapi: server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("httpapi: server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo exposes the underlying router, primarily for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.GET("/sse", s.sse.ServeEventStream)
	s.echo.POST("/messages", s.submitHandler())

	discoveryCORS := middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	})
	s.echo.GET("/.well-known/oauth-authorization-server", s.handleAuthServerMetadata, discoveryCORS)
	s.echo.GET("/.well-known/oauth-protected-resource", s.handleProtectedResourceMetadata, discoveryCORS)
	s.echo.GET("/.well-known/mcp/resource", s.handleMCPResource, discoveryCORS)

	s.echo.POST("/oauth/register", s.handleRegister, discoveryCORS)
	s.echo.GET("/oauth/authorize", s.handleAuthorize)
	s.echo.POST("/oauth/consent", s.handleConsent)
	s.echo.POST("/oauth/token", s.handleToken, discoveryCORS)
	s.echo.GET("/oauth/callback", s.handleCallback)
	s.echo.GET("/oauth/start-auth", s.handleStartAuth)
}

// submitHandler gates POST /messages with bearer-token auth unless the
// deployment has opted into simplified mode (spec §4.5). The bearer
// middleware is resolved once at route-registration time rather than
// per-request since cfg.OAuth.Simplified is a startup-time policy flag,
// not something that changes at runtime.
func (s *Server) submitHandler() echo.HandlerFunc {
	if s.cfg.OAuth.Simplified {
		return s.sse.ServeSubmit
	}
	resourceMetadataURL := s.cfg.Server.PublicBaseURL + "/.well-known/oauth-protected-resource"
	mw := oauth.BearerAuthMiddleware(s.oauthSvc, resourceMetadataURL)
	return mw(s.sse.ServeSubmit)
}

type healthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Service:  "corpusmcp",
		Version:  Version,
		Sessions: s.sessions.Count(),
	})
}
