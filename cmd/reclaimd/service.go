package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reclaim-io/reclaim/internal/config"
	"github.com/reclaim-io/reclaim/internal/health"
	"github.com/reclaim-io/reclaim/internal/logging"
	"github.com/reclaim-io/reclaim/internal/metrics"
)

// shutdownTimeout bounds a graceful shutdown after a signal.
const shutdownTimeout = 30 * time.Second

// Worker is a background loop a Service supervises.
type Worker interface {
	Start(ctx context.Context)
	Stop()
	Running() bool
}

// ServiceOptions configures a long-running reclaimd process.
type ServiceOptions struct {
	// Name identifies the worker in logs and health output.
	Name   string
	Config *config.Config
	Logger *logging.Logger

	// Registry is served on /metrics.
	Registry *prometheus.Registry

	Worker Worker

	// Setup runs after the servers are up and before the worker starts.
	// It blocks until the worker's dependencies are reachable.
	Setup func(ctx context.Context) error

	// Checks are added to /readyz.
	Checks []health.ReadinessChecker

	// Backlog, with GCMetrics, enables the periodic backlog gauges.
	Backlog   metrics.BacklogProvider
	GCMetrics *metrics.GCMetrics

	// Closers are closed on shutdown, in order.
	Closers []io.Closer
}

// Service runs one worker with its health, metrics and backlog reporting.
type Service struct {
	opts    ServiceOptions
	logger  *logging.Logger
	health  *health.Server
	metrics *metrics.Server
	backlog *metrics.BacklogScanner
	started chan struct{}
}

// NewService wires the observability endpoints around opts.Worker.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Worker == nil {
		return nil, errors.New("service: worker is required")
	}
	if opts.Config == nil {
		return nil, errors.New("service: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}
	if opts.Registry == nil {
		opts.Registry = newRegistry()
	}
	obs := opts.Config.Observability
	logger := opts.Logger.WithComponent(opts.Name)

	s := &Service{opts: opts, logger: logger, started: make(chan struct{})}

	s.health = health.NewServer(obs.HealthAddr, logger)
	s.health.RegisterWorker(opts.Name, opts.Worker.Running)
	s.health.RegisterReadinessCheck(health.NewWorkerChecker(opts.Name, opts.Worker.Running))
	for _, c := range opts.Checks {
		s.health.RegisterReadinessCheck(c)
	}

	metricsHandler := promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})
	if obs.MetricsAddr == "" || obs.MetricsAddr == obs.HealthAddr {
		s.health.RegisterHandler("/metrics", metricsHandler)
		if obs.Pprof {
			s.health.EnablePprof()
		}
	} else {
		s.metrics = metrics.NewServerWithRegistry(obs.MetricsAddr, opts.Registry).
			WithPprof(obs.Pprof).
			WithLogger(logger)
	}

	if opts.Backlog != nil && opts.GCMetrics != nil && obs.BacklogInterval > 0 {
		s.backlog = metrics.NewBacklogScanner(opts.GCMetrics, opts.Backlog, obs.BacklogInterval, logger)
	}
	return s, nil
}

// Start serves the endpoints, runs Setup, starts the worker and blocks until
// ctx is done.
func (s *Service) Start(ctx context.Context) error {
	if err := s.health.Start(); err != nil {
		return fmt.Errorf("start health server: %w", err)
	}
	if s.metrics != nil {
		if err := s.metrics.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}
	close(s.started)

	if s.opts.Setup != nil {
		if err := s.opts.Setup(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	if s.backlog != nil {
		s.backlog.Start()
	}
	s.opts.Worker.Start(ctx)
	s.logger.Infof("worker started", map[string]any{"healthAddr": s.health.Addr()})

	<-ctx.Done()
	return nil
}

// Started is closed once the endpoints are listening.
func (s *Service) Started() <-chan struct{} {
	return s.started
}

// HealthAddr returns the bound health address.
func (s *Service) HealthAddr() string {
	return s.health.Addr()
}

// MetricsAddr returns the bound metrics address, or the health address when
// metrics share its listener.
func (s *Service) MetricsAddr() string {
	if s.metrics == nil {
		return s.health.Addr()
	}
	return s.metrics.Addr()
}

// Shutdown flags the process as shutting down, stops the worker, and
// closes the endpoints and backends.
func (s *Service) Shutdown(ctx context.Context) error {
	s.health.SetShuttingDown()

	stopped := make(chan struct{})
	go func() {
		s.opts.Worker.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.logger.Warn("worker did not stop before the shutdown deadline")
	}

	if s.backlog != nil {
		s.backlog.Stop()
	}

	var errs []error
	if s.metrics != nil {
		if err := s.metrics.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.health.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range s.opts.Closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// signalContext is cancelled on SIGINT or SIGTERM. Single-shot runs use it
// so an interrupted pass stops between candidates.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// runDaemon runs svc until SIGINT or SIGTERM, then shuts it down.
func runDaemon(svc *Service, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Start(ctx)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Infof("received shutdown signal", map[string]any{"signal": sig.String()})
	case runErr = <-errCh:
		if runErr != nil {
			logger.Errorf("service error", map[string]any{"error": runErr.Error()})
		}
	}
	cancel()

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error", map[string]any{"error": err.Error()})
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info("shutdown complete")
	return runErr
}
