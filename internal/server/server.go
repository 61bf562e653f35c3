package server

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/relaynode/relaynode/pkg/config"
	"github.com/relaynode/relaynode/pkg/engine"
	"github.com/relaynode/relaynode/pkg/handlers/logs"
	"github.com/relaynode/relaynode/pkg/handlers/maintenance"
	"github.com/relaynode/relaynode/pkg/handlers/update"
	"github.com/relaynode/relaynode/pkg/history"
	"github.com/relaynode/relaynode/pkg/lifecycle"
	"github.com/relaynode/relaynode/pkg/middleware"
	"github.com/relaynode/relaynode/pkg/router"
	"github.com/relaynode/relaynode/pkg/session"
	"github.com/relaynode/relaynode/pkg/tlsutil"
)

// Dependencies are the collaborators the API serves. History and Stream
// are optional.
type Dependencies struct {
	Engine      engine.Engine
	Installer   update.Installer
	Maintenance maintenance.Proxy
	History     *history.Ledger
	Stream      *logs.StreamConfig
}

// Server represents the node API
type Server struct {
	router     *router.Router
	config     *config.Config
	deps       Dependencies
	sessions   *session.Manager
	controller *lifecycle.Controller
}

// New creates a new server instance
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if deps.Engine == nil || deps.Installer == nil || deps.Maintenance == nil {
		return nil, fmt.Errorf("engine, installer and maintenance proxy are required")
	}
	slog.Info("Initializing server...")

	sessions := session.NewManager(deps.Engine)
	srv := &Server{
		router:     router.NewRouter(),
		config:     cfg,
		deps:       deps,
		sessions:   sessions,
		controller: lifecycle.New(deps.Engine, sessions),
	}

	if err := srv.setupRoutes(srv.router); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	slog.Info("Server initialized successfully")
	return srv, nil
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// TLSConfig is the listener configuration: the node certificate plus
// mandatory client certificates signed by the configured CA.
func (s *Server) TLSConfig() (*tls.Config, error) {
	return tlsutil.ServerConfig(s.config.CertFile, s.config.KeyFile, s.config.ClientCAFile)
}

// Cleanup releases the session and stops the core.
func (s *Server) Cleanup() error {
	slog.Info("Performing server cleanup...")
	s.sessions.Disconnect()
	engine.StopBestEffort(s.deps.Engine, "shutdown")
	return nil
}

// setupRoutes configures the router and registers routes
func (s *Server) setupRoutes(r *router.Router) error {
	chain := middleware.Chain(
		middleware.Logger(),
		middleware.Recovery(),
		middleware.RequireClientCert(),
	)

	s.registerRoutes(r, chain)
	return nil
}
