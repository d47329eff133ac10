package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/phishsim/internal/config"
	"github.com/ignite/phishsim/internal/export"
	"github.com/ignite/phishsim/internal/pkg/httputil"
	"github.com/ignite/phishsim/internal/service/analytics"
	"github.com/ignite/phishsim/internal/service/campaign"
	"github.com/ignite/phishsim/internal/service/tracking"
)

// Deps are the services the HTTP layer is built on. Archiver and Health
// may be nil.
type Deps struct {
	Campaigns *campaign.Service
	Tracking  *tracking.Service
	Analytics *analytics.Service
	Archiver  *export.Archiver
	Health    *HealthChecker
	Company   string
	// Proxies whose forwarding headers identify the client.
	TrustedProxies httputil.TrustedProxies
}

// Server represents the API server
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg config.ServerConfig) *Server {
	h := &Handlers{deps: deps}
	s := &Server{handler: NewRouter(h, cfg.AllowedOrigins)}
	s.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers holds the route handlers.
type Handlers struct {
	deps Deps
}
