package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanonone/neurograph/pkg/engine"
)

// Server holds the HTTP interface and the underlying Database Engine.
type Server struct {
	Engine *engine.Engine

	httpServer *http.Server
	authToken  string
}

// NewServer initializes the HTTP server using an existing Engine.
// Note: The Engine must be initialized (Open) before passing it here.
func NewServer(eng *engine.Engine, httpAddr string, authToken string) *Server {
	s := &Server{
		Engine:    eng,
		authToken: authToken,
	}

	mux := http.NewServeMux()
	s.registerHTTPHandlers(mux)

	// Chain middlewares: Recovery -> Logging -> Auth -> Mux
	// Order matters! Recovery must be outer-most to catch everything.

	var handler http.Handler = mux

	// 1. Auth (Inner)
	handler = s.authMiddleware(handler)

	// 2. Logging (Middle) - Logs duration and status
	handler = s.LoggingMiddleware(handler)

	// 3. Recovery (Outer) - Catches panics
	handler = s.RecoveryMiddleware(handler)

	// Probes and scrapes stay outside the auth chain.
	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", s.handleHealthz)
	rootMux.Handle("GET /metrics", promhttp.Handler())
	rootMux.Handle("/", handler)
	s.httpServer = &http.Server{
		Addr:    httpAddr,
		Handler: rootMux,
	}

	return s
}

// registerHTTPHandlers sets up the REST API routes.
func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /nodes", s.handleNodeCreate)
	mux.HandleFunc("GET /nodes/{id}", s.handleNodeGet)
	mux.HandleFunc("DELETE /nodes/{id}", s.handleNodeDelete)
	mux.HandleFunc("GET /nodes/{id}/neighbors", s.handleNodeNeighbors)
	mux.HandleFunc("GET /nodes/{id}/similar", s.handleNodeSimilar)
	mux.HandleFunc("GET /nodes/{id}/effects", s.handleNodeEffects)
	mux.HandleFunc("GET /nodes/{id}/centrality", s.handleNodeCentrality)
	mux.HandleFunc("GET /nodes/{id}/alignment/{other}", s.handleNodeAlignment)
	mux.HandleFunc("GET /relationships", s.handleRelationships)

	mux.HandleFunc("POST /edges", s.handleEdgeCreate)
	mux.HandleFunc("GET /edges/{id}", s.handleEdgeGet)
	mux.HandleFunc("DELETE /edges/{id}", s.handleEdgeDelete)

	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /datasets/{name}", s.handleDatasetRecord)
	mux.HandleFunc("GET /stats", s.handleStats)

	mux.HandleFunc("POST /system/save", s.handleSave)
	mux.HandleFunc("POST /system/log-rewrite", s.handleLogRewrite)
}

// Handler exposes the fully composed HTTP handler, mainly for in-process
// testing without a listening socket.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully. It does NOT close the Engine
// (main handles that for proper lifecycle management).
func (s *Server) Shutdown() {
	slog.Info("starting graceful shutdown of HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
}
