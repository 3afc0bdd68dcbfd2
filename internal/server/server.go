// Package server implements the HTTP API of the email pipeline service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kiko-hq/kiko/internal/auth"
	"github.com/kiko-hq/kiko/internal/ratelimit"
)

// Server is the Kiko HTTP server.
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
// Optional fields (nil-safe): DB, Verifier, MCPServer, RateLimiter.
type ServerConfig struct {
	// Required dependencies.
	Pipeline Pipeline
	Runs     RunReader
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	DB          Pinger
	Verifier    *auth.Verifier
	MCPServer   *mcpserver.MCPServer
	RateLimiter ratelimit.Limiter // Applies to the pipeline and analytics routes.

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	CORSOrigins         []string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Pipeline:            cfg.Pipeline,
		Runs:                cfg.Runs,
		DB:                  cfg.DB,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	// Routes that spend model calls or scan a campaign go through the limiter.
	limited := func(fn http.HandlerFunc) http.Handler {
		return rateLimitMiddleware(limiter, cfg.Logger, fn)
	}

	mux := http.NewServeMux()

	// Pipelines.
	mux.Handle("POST /process-email", limited(h.HandleProcessEmail))
	mux.Handle("POST /action", limited(h.HandleAction))

	// Campaign analytics.
	mux.Handle("POST /audience-analysis", limited(h.HandleAudienceAnalysis))
	mux.Handle("POST /cpm-analysis", limited(h.HandleCPMAnalysis))

	// Audit read-back.
	mux.HandleFunc("GET /agent-runs/{id}", h.HandleGetAgentRun)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /{$}", h.HandleRoot)

	// Middleware chain (outermost executes first):
	// request ID → CORS → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.Verifier, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(newHTTPMetrics(), handler)
	handler = corsMiddleware(cfg.CORSOrigins, handler)
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
