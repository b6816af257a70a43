// Package api is the serving runtime bound by the composition root: an HTTP
// router carrying liveness, readiness, metrics and capability introspection,
// plus an optional gRPC health listener.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"contentmind/core"
)

// StatusProvider exposes the lifecycle view the runtime reports on.
type StatusProvider interface {
	State() core.State
	Capabilities() core.CapabilitySet
	Reports() []core.ActivationReport
}

// Options configures the HTTP server timeouts.
type Options struct {
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// Server holds the HTTP runtime
type Server struct {
	router   *mux.Router
	apiV1    *mux.Router
	server   *http.Server
	status   StatusProvider
	logger   *zap.SugaredLogger
	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates the router and mounts the built-in routes. Nothing is
// bound until Listen.
func NewServer(status StatusProvider, opts Options, logger *zap.SugaredLogger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		status: status,
		logger: logger,
	}
	s.server = &http.Server{
		Handler:           s.router,
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}
	s.setupRoutes()
	return s
}

// setupRoutes sets up the API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.healthCheck).Methods("GET")
	s.router.HandleFunc("/ready", s.readinessCheck).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler())

	s.apiV1 = s.router.PathPrefix("/api/v1").Subrouter()
	s.apiV1.HandleFunc("/capabilities", s.getCapabilities).Methods("GET")
}

// Router returns the root router.
func (s *Server) Router() *mux.Router { return s.router }

// APIRouter returns the /api/v1 subrouter that components mount routes on.
func (s *Server) APIRouter() *mux.Router { return s.apiV1 }

// Listen binds addr. Connections are not accepted until Serve.
func (s *Server) Listen(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("server already listening on %s", s.listener.Addr())
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind HTTP listener on %s: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections on the bound listener until Stop. It returns nil
// after a graceful stop.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	s.logger.Infof("API server started on %s", ln.Addr())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down. A listener that was bound but never
// served is closed as well.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)

	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()
	return err
}
