// Package server provides the HTTP server implementation.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gourl/gourl/internal/config"
	"github.com/gourl/gourl/internal/handlers"
	"github.com/gourl/gourl/internal/metrics"
	"github.com/gourl/gourl/internal/middleware"
	"github.com/gourl/gourl/internal/ratelimit"
	"github.com/gourl/gourl/pkg/logger"
)

// Server represents the HTTP server.
type Server struct {
	cfg            *config.Config
	log            *logger.Logger
	httpServer     *http.Server
	healthHandler  *handlers.HealthHandler
	counterHandler *handlers.CounterHandler
	rateLimiter    ratelimit.Limiter
	listener       net.Listener
	running        bool
	mu             sync.RWMutex
}

// New creates a new Server instance.
func New(cfg *config.Config, log *logger.Logger, counterHandler *handlers.CounterHandler) *Server {
	s := &Server{
		cfg:            cfg,
		log:            log,
		healthHandler:  handlers.NewHealthHandler(),
		counterHandler: counterHandler,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := s.buildMiddlewareChain(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// buildMiddlewareChain creates the middleware chain for the server.
func (s *Server) buildMiddlewareChain(handler http.Handler) http.Handler {
	chain := middleware.New(
		middleware.Metrics(),
		middleware.RequestID(),
		middleware.ClientIP(s.cfg.Rate.TrustProxy, nil),
	)

	if s.cfg.Rate.Enabled {
		s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.Config{
			Requests: s.cfg.Rate.Requests,
			Window:   s.cfg.Rate.Window,
		})

		chain = chain.Append(middleware.RateLimit(s.rateLimiter, middleware.RateLimitConfig{
			TrustProxy:   s.cfg.Rate.TrustProxy,
			APIKeyHeader: s.cfg.Rate.APIKeyHeader,
		}))

		s.log.Info("rate limiting enabled",
			"requests", s.cfg.Rate.Requests,
			"window", s.cfg.Rate.Window.String(),
		)
	}

	return chain.Then(handler)
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.healthHandler.Health)
	mux.HandleFunc("GET /ready", s.healthHandler.Ready)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)

	mux.HandleFunc("POST /api/v1/counter/{pageID}", s.handleIncrement)
	mux.HandleFunc("GET /api/v1/counter/{pageID}", s.handleGet)
	mux.HandleFunc("DELETE /api/v1/counter/{pageID}", s.handleReset)
}

// handleIncrement routes to the counter handler for incrementing a page's count.
func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	pageID := strings.TrimSpace(r.PathValue("pageID"))
	if pageID == "" {
		http.Error(w, "invalid page id", http.StatusBadRequest)
		return
	}
	s.counterHandler.Increment(w, r, pageID)
}

// handleGet routes to the counter handler for reading a page's count.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	pageID := strings.TrimSpace(r.PathValue("pageID"))
	if pageID == "" {
		http.Error(w, "invalid page id", http.StatusBadRequest)
		return
	}
	s.counterHandler.Get(w, r, pageID)
}

// handleReset routes to the counter handler for resetting a page's count.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	pageID := strings.TrimSpace(r.PathValue("pageID"))
	if pageID == "" {
		http.Error(w, "invalid page id", http.StatusBadRequest)
		return
	}
	s.counterHandler.Reset(w, r, pageID)
}

// handleStatus routes to the counter handler for overall service status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.counterHandler.Status(w, r)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.cfg.Server.Address()

	// Create listener first to get the actual address (important when port is 0)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	actualAddr := listener.Addr().String()
	s.log.Info("server starting", "address", actualAddr)

	err = s.httpServer.Serve(listener)
	if err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down")

	s.healthHandler.SetReady(false)

	err := s.httpServer.Shutdown(ctx)

	if s.rateLimiter != nil {
		if closeErr := s.rateLimiter.Close(); closeErr != nil {
			s.log.Error("failed to close rate limiter", "error", closeErr.Error())
		}
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err != nil {
		s.log.Error("shutdown error", "error", err.Error())
		return err
	}

	s.log.Info("server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// HealthHandler returns the health handler.
func (s *Server) HealthHandler() *handlers.HealthHandler {
	return s.healthHandler
}
