// Package health serves the liveness and readiness endpoints of the reclaim
// daemons.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/reclaim-io/reclaim/internal/logging"
)

// ReadinessChecker is implemented by components that report readiness: the
// index client, the object store, and the queue session.
type ReadinessChecker interface {
	// Name returns the name of the component for display in health status.
	Name() string

	// CheckReady returns nil if the component is ready, or an error
	// describing why it is not.
	CheckReady(ctx context.Context) error
}

// Server provides HTTP endpoints for health checks.
// It serves /healthz for liveness checks and /readyz for readiness checks.
type Server struct {
	mu               sync.RWMutex
	addr             string
	boundAddr        string
	server           *http.Server
	logger           *logging.Logger
	shutDown         atomic.Bool
	workers          map[string]func() bool
	readinessChecks  []ReadinessChecker
	readinessTimeout time.Duration
	extraHandlers    map[string]http.Handler
	pprof            bool
}

// Status represents the health check response.
type Status struct {
	Status  string                 `json:"status"`
	Workers map[string]bool        `json:"workers,omitempty"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// DefaultReadinessTimeout is the default timeout for readiness checks.
const DefaultReadinessTimeout = 5 * time.Second

// NewServer creates a new health Server.
func NewServer(addr string, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Server{
		addr:             addr,
		logger:           logger.WithComponent("health"),
		workers:          make(map[string]func() bool),
		readinessTimeout: DefaultReadinessTimeout,
		extraHandlers:    make(map[string]http.Handler),
	}
}

// RegisterHandler registers an extra HTTP handler, e.g. /metrics. Call
// before Start so the handler is mounted on the router.
func (h *Server) RegisterHandler(pattern string, handler http.Handler) {
	if pattern == "" || handler == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extraHandlers[pattern] = handler
}

// EnablePprof mounts the pprof handlers under /debug/pprof.
func (h *Server) EnablePprof() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pprof = true
}

// RegisterReadinessCheck registers a component for readiness checking.
// The component will be checked on each /readyz request.
func (h *Server) RegisterReadinessCheck(checker ReadinessChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks = append(h.readinessChecks, checker)
}

// SetReadinessTimeout sets the timeout for individual readiness checks.
func (h *Server) SetReadinessTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessTimeout = d
}

// RegisterWorker registers a background worker for liveness checking.
// /healthz reports degraded while isRunning returns false.
func (h *Server) RegisterWorker(name string, isRunning func() bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers[name] = isRunning
}

// SetShuttingDown marks the server as shutting down.
// After this is called, /healthz and /readyz return 503.
func (h *Server) SetShuttingDown() {
	h.shutDown.Store(true)
}

// IsShuttingDown returns true if the server is shutting down.
func (h *Server) IsShuttingDown() bool {
	return h.shutDown.Load()
}

// Handler builds the router served by Start.
func (h *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.handleHealthz)
	r.Head("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)
	r.Head("/readyz", h.handleReadyz)

	h.mu.RLock()
	for pattern, handler := range h.extraHandlers {
		r.Handle(pattern, handler)
	}
	pprof := h.pprof
	h.mu.RUnlock()

	if pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// Start starts the HTTP health server.
func (h *Server) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	h.mu.Lock()
	h.server = srv
	h.boundAddr = ln.Addr().String()
	h.mu.Unlock()

	h.logger.Infof("health server listening", map[string]any{"addr": ln.Addr().String()})

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Errorf("health server error", map[string]any{"error": err.Error()})
		}
	}()

	return nil
}

// Addr returns the actual bound address of the server.
// Returns the configured address if the server hasn't started yet.
func (h *Server) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.boundAddr != "" {
		return h.boundAddr
	}
	return h.addr
}

// Close shuts down the health server.
func (h *Server) Close() error {
	h.mu.RLock()
	srv := h.server
	h.mu.RUnlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func writeStatus(w http.ResponseWriter, r *http.Request, status Status) {
	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(status)
	}
}

// handleHealthz returns 200 while the process is alive and every registered
// worker runs, 503 otherwise.
func (h *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, r, h.CheckHealth())
}

// CheckHealth returns the current liveness status.
func (h *Server) CheckHealth() Status {
	status := Status{
		Status: "ok",
		Checks: make(map[string]CheckResult),
	}

	if h.shutDown.Load() {
		status.Status = "shutting_down"
		status.Checks["shutdown"] = CheckResult{Healthy: false, Message: "daemon is shutting down"}
		return status
	}
	status.Checks["shutdown"] = CheckResult{Healthy: true, Message: "daemon is running"}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.workers) == 0 {
		return status
	}

	status.Workers = make(map[string]bool, len(h.workers))
	var stopped []string
	for name, isRunning := range h.workers {
		ok := isRunning()
		status.Workers[name] = ok
		if !ok {
			stopped = append(stopped, name)
		}
	}

	if len(stopped) > 0 {
		sort.Strings(stopped)
		status.Status = "degraded"
		msg := "stopped: " + stopped[0]
		for _, name := range stopped[1:] {
			msg += ", " + name
		}
		status.Checks["workers"] = CheckResult{Healthy: false, Message: msg}
	} else {
		status.Checks["workers"] = CheckResult{Healthy: true, Message: "all workers are running"}
	}
	return status
}

// handleReadyz returns 200 when every readiness check passes, 503 otherwise.
func (h *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, r, h.CheckReadiness(r.Context()))
}

// CheckReadiness runs all readiness checks.
func (h *Server) CheckReadiness(ctx context.Context) Status {
	status := Status{
		Status: "ok",
		Checks: make(map[string]CheckResult),
	}

	if h.shutDown.Load() {
		status.Status = "shutting_down"
		status.Checks["shutdown"] = CheckResult{Healthy: false, Message: "daemon is shutting down"}
		return status
	}
	status.Checks["shutdown"] = CheckResult{Healthy: true, Message: "daemon is running"}

	h.mu.RLock()
	checks := make([]ReadinessChecker, len(h.readinessChecks))
	copy(checks, h.readinessChecks)
	timeout := h.readinessTimeout
	h.mu.RUnlock()

	for _, checker := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := checker.CheckReady(checkCtx)
		cancel()

		if err != nil {
			status.Status = "not_ready"
			status.Checks[checker.Name()] = CheckResult{Healthy: false, Message: err.Error()}
		} else {
			status.Checks[checker.Name()] = CheckResult{Healthy: true, Message: "healthy"}
		}
	}

	return status
}
