// Package agent is the local maintenance API. It runs the node management
// CLI for callers on the allow-list.
package agent

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/relaynode/relaynode/pkg/common"
	"github.com/relaynode/relaynode/pkg/errors"
	"github.com/relaynode/relaynode/pkg/maintenance"
	"github.com/relaynode/relaynode/pkg/middleware"
	"github.com/relaynode/relaynode/pkg/router"
)

// Runner performs the maintenance actions.
type Runner interface {
	Update(ctx context.Context) (*maintenance.Result, error)
	Restart(ctx context.Context) (*maintenance.Result, error)
}

// Server is the maintenance agent HTTP handler.
type Server struct {
	handler http.Handler
	runner  Runner
	cliPath string
}

type HealthResponse struct {
	Status string `json:"status"`
	CLI    string `json:"cli"`
}

type RunResponse struct {
	Status string `json:"status"`
	Stdout string `json:"stdout"`
}

// New builds the agent. allowedHosts gates every request, including unknown paths.
func New(runner Runner, cliPath string, allowedHosts []string) *Server {
	s := &Server{runner: runner, cliPath: cliPath}

	r := router.NewRouter()
	routes := []struct {
		method  string
		pattern string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/health", s.health},
		{http.MethodPost, "/update", s.update},
		{http.MethodPost, "/restart", s.restart},
	}
	for _, route := range routes {
		slog.Debug("registering maintenance route", slog.String("method", route.method), slog.String("pattern", route.pattern))
		r.Register(route.method, route.pattern, route.handler)
	}

	s.handler = middleware.Chain(
		middleware.Logger(),
		middleware.Recovery(),
		middleware.AllowHosts(allowedHosts),
	)(r)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	common.WriteSuccessResponse(w, HealthResponse{Status: "ok", CLI: s.cliPath})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, s.runner.Update)
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, s.runner.Restart)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, action func(context.Context) (*maintenance.Result, error)) {
	// The CLI may restart the service that called us; a dropped caller must
	// not abort it halfway.
	res, err := action(context.WithoutCancel(r.Context()))
	if err != nil {
		var runErr *maintenance.RunError
		if stderrors.As(err, &runErr) {
			errors.WriteErrorResponse(w, errors.NewAPIError(errors.ErrorTypeInternal, runErr, http.StatusInternalServerError))
			return
		}
		errors.WriteError(w, err)
		return
	}
	common.WriteSuccessResponse(w, RunResponse{Status: "ok", Stdout: strings.TrimSpace(res.Stdout)})
}
