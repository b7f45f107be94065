package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loomworks/loom/internal/ratelimit"
	"github.com/loomworks/loom/internal/run"
	"github.com/loomworks/loom/internal/template"
)

// Server is the Loom HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	// Required dependencies.
	Repo   *template.Repository
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter ratelimit.Limiter

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxUploadBytes      int64
	MaxRequestBodyBytes int64

	// Git commit author identity.
	GitAuthorName  string
	GitAuthorEmail string

	// RunOptions are passed to every run manager; tests use them to
	// substitute the run command and liveness prober.
	RunOptions []run.Option
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := newHandlers(cfg)

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	// Mutations that spawn processes or write archives get a per-IP
	// token bucket; reads are not limited.
	heavyRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Template catalog.
	mux.HandleFunc("GET /api/v1/templates", h.handleListTemplates)
	mux.Handle("POST /api/v1/templates", heavyRL(http.HandlerFunc(h.handleUploadTemplate)))
	mux.HandleFunc("GET /api/v1/templates/{template_id}", h.handleGetTemplate)
	mux.HandleFunc("DELETE /api/v1/templates/{template_id}", h.handleDeleteTemplate)
	mux.HandleFunc("PATCH /api/v1/templates/{template_id}/rename", h.handleRenameTemplate)
	mux.Handle("POST /api/v1/templates/{template_id}/duplicate",
		heavyRL(http.HandlerFunc(h.handleDuplicateTemplate)))
	mux.HandleFunc("GET /api/v1/templates/{template_id}/download", h.handleDownloadTemplate)
	mux.HandleFunc("GET /api/v1/templates/{template_id}/variables", h.handleGetVariables)
	mux.HandleFunc("PATCH /api/v1/templates/{template_id}/variables", h.handleUpdateVariables)

	// Template file tree.
	mux.HandleFunc("GET /api/v1/fs/{template_id}/tree", h.handleFileTree)
	mux.HandleFunc("GET /api/v1/fs/{template_id}/file", h.handleDownloadFile)
	mux.HandleFunc("PUT /api/v1/fs/{template_id}/file", h.handleUploadFile)
	mux.HandleFunc("PATCH /api/v1/fs/{template_id}/rename", h.handleRenamePath)
	mux.HandleFunc("DELETE /api/v1/fs/{template_id}", h.handleDeletePath)

	// Run lifecycle.
	mux.HandleFunc("GET /api/v1/runs/{template_id}", h.handleListRuns)
	mux.HandleFunc("PUT /api/v1/runs/{template_id}/{run_id}", h.handleCreateRun)
	mux.HandleFunc("GET /api/v1/runs/{template_id}/{run_id}", h.handleGetRun)
	mux.Handle("PATCH /api/v1/runs/{template_id}/{run_id}",
		heavyRL(http.HandlerFunc(h.handleRunAction)))

	// Git operations on the template library.
	mux.HandleFunc("POST /api/v1/git/commit", h.handleGitCommit)
	mux.HandleFunc("POST /api/v1/git/push", h.handleGitPush)
	mux.HandleFunc("GET /api/v1/git/remotes", h.handleGitRemotes)

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
