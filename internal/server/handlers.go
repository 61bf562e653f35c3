package server

import (
	"log/slog"
	"net/http"

	"github.com/relaynode/relaynode/pkg/handlers"
	"github.com/relaynode/relaynode/pkg/handlers/logs"
	"github.com/relaynode/relaynode/pkg/handlers/maintenance"
	"github.com/relaynode/relaynode/pkg/handlers/node"
	"github.com/relaynode/relaynode/pkg/handlers/update"
	"github.com/relaynode/relaynode/pkg/router"
)

// routeConfig defines route configuration
type routeConfig struct {
	Method   string
	Pattern  string
	Function http.HandlerFunc
}

// registerRoutes registers all routes using configuration
func (s *Server) registerRoutes(r *router.Router, middlewareChain func(http.Handler) http.Handler) {
	e := s.deps.Engine
	nodeHandler := node.NewNodeHandler(e, s.sessions, s.controller, s.deps.History, s.config.NodeVersion)
	healthHandler := handlers.NewHealthHandler(e, s.config.NodeVersion, s.config.StateDir)
	updateHandler := update.NewUpdateHandler(s.deps.Installer)
	maintenanceHandler := maintenance.NewMaintenanceHandler(s.deps.Maintenance, s.sessions)
	logsHandler := logs.NewLogsHandler(e.Logs(), s.sessions, s.deps.Stream)

	routes := []routeConfig{
		// Session
		{"POST", "/", nodeHandler.Base},
		{"POST", "/ping", nodeHandler.Ping},
		{"POST", "/connect", nodeHandler.Connect},
		{"POST", "/disconnect", nodeHandler.Disconnect},

		// Core lifecycle
		{"POST", "/start", nodeHandler.Start},
		{"POST", "/stop", nodeHandler.Stop},
		{"POST", "/restart", nodeHandler.Restart},

		// Updates
		{"POST", "/update_core", updateHandler.UpdateCore},
		{"POST", "/update_geo", updateHandler.UpdateGeo},
		{"POST", "/update_history", nodeHandler.UpdateHistory},

		// Maintenance agent
		{"POST", "/maintenance/restart", maintenanceHandler.Restart},
		{"POST", "/maintenance/update", maintenanceHandler.Update},

		// Health endpoints
		{"GET", "/health", healthHandler.HealthCheck},
		{"GET", "/health/ready", healthHandler.ReadinessCheck},

		// Log stream
		{"GET", "/logs", logsHandler.Stream},
	}

	for _, route := range routes {
		slog.Debug("Registering route",
			slog.String("method", route.Method),
			slog.String("pattern", route.Pattern),
		)
		r.Register(route.Method, route.Pattern, middlewareChain(route.Function).ServeHTTP)
	}
}
