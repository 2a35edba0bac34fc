package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reclaim-io/reclaim/internal/logging"
)

// Server provides an HTTP server for Prometheus metrics scraping.
// It serves /metrics and, when enabled, the pprof handlers under /debug.
type Server struct {
	mu        sync.RWMutex
	addr      string
	boundAddr string
	server    *http.Server
	registry  prometheus.Gatherer
	pprof     bool
	logger    *logging.Logger
}

// NewServer creates a new metrics server that listens on the given address.
// Uses the default Prometheus registry.
func NewServer(addr string) *Server {
	return &Server{addr: addr, logger: logging.Nop()}
}

// NewServerWithRegistry creates a new metrics server with a custom registry.
func NewServerWithRegistry(addr string, gatherer prometheus.Gatherer) *Server {
	return &Server{addr: addr, registry: gatherer, logger: logging.Nop()}
}

// WithPprof mounts net/http/pprof under /debug/pprof.
func (s *Server) WithPprof(enabled bool) *Server {
	s.pprof = enabled
	return s
}

// WithLogger sets the logger used for serve errors.
func (s *Server) WithLogger(logger *logging.Logger) *Server {
	if logger != nil {
		s.logger = logger.WithComponent("metrics-server")
	}
	return s
}

// Handler returns the router served by Start.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}
	if s.pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// Start starts the HTTP server for metrics.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// pprof profiles stream for up to 30s by default.
		WriteTimeout: 60 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.boundAddr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("metrics server stopped", map[string]any{"error": err.Error()})
		}
	}()

	return nil
}

// Addr returns the actual bound address of the server.
// Returns the configured address if the server hasn't started yet.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.boundAddr != "" {
		return s.boundAddr
	}
	return s.addr
}

// Close shuts down the metrics server.
func (s *Server) Close() error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
