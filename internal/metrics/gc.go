package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reclaim-io/reclaim/internal/logging"
)

// GCMetrics holds metrics for the scheduler, validator and consumer.
type GCMetrics struct {
	// TickLatency tracks scheduler tick duration by result.
	// Labels: result (ok, backpressure, unread_unknown, error)
	TickLatency *prometheus.HistogramVec

	// CandidatesTotal counts probable-delete entries seen by the scheduler.
	// Labels: decision (published, too_young, corrupt)
	CandidatesTotal *prometheus.CounterVec

	// QueueDepth is the unread count of the work queue at the last tick.
	QueueDepth prometheus.Gauge

	// OutcomeLatency tracks validator processing time per candidate.
	// Labels: outcome (deleted, discarded, skipped_live, skipped_young,
	// aborted, already_resolved, corrupt)
	OutcomeLatency *prometheus.HistogramVec

	// ReceivesTotal counts consumer receive attempts by result.
	// Labels: result (ok, empty, error, ack_error)
	ReceivesTotal *prometheus.CounterVec

	// PendingCandidates is the number of entries in the probable-delete index.
	PendingCandidates prometheus.Gauge

	// EligibleCandidates is the number of entries older than the leak delay.
	EligibleCandidates prometheus.Gauge
}

// DefaultGCLatencyBuckets cover a single candidate (milliseconds) up to a
// full scheduler pass (minutes).
var DefaultGCLatencyBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.5,   // 500ms
	1.0,   // 1s
	5.0,   // 5s
	10.0,  // 10s
	30.0,  // 30s
	60.0,  // 1m
	300.0, // 5m
}

// NewGCMetrics creates and registers GC metrics.
// Uses promauto for automatic registration with the default registry.
func NewGCMetrics() *GCMetrics {
	return NewGCMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewGCMetricsWithRegistry creates GC metrics registered with a custom registry.
// Useful for testing to avoid conflicts with the default registry.
func NewGCMetricsWithRegistry(reg prometheus.Registerer) *GCMetrics {
	factory := promauto.With(reg)
	return &GCMetrics{
		TickLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "scheduler",
				Name:      "tick_duration_seconds",
				Help:      "Scheduler tick duration in seconds, broken down by result.",
				Buckets:   DefaultGCLatencyBuckets,
			},
			[]string{"result"},
		),
		CandidatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "scheduler",
				Name:      "candidates_total",
				Help:      "Probable-delete entries examined by the scheduler, broken down by decision.",
			},
			[]string{"decision"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "scheduler",
				Name:      "queue_depth",
				Help:      "Unread messages in the work queue at the last scheduler tick.",
			},
		),
		OutcomeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "validator",
				Name:      "candidate_duration_seconds",
				Help:      "Time spent validating one candidate, broken down by outcome.",
				Buckets:   DefaultGCLatencyBuckets,
			},
			[]string{"outcome"},
		),
		ReceivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "consumer",
				Name:      "receives_total",
				Help:      "Consumer receive attempts, broken down by result.",
			},
			[]string{"result"},
		),
		PendingCandidates: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "gc",
				Name:      "pending_candidates",
				Help:      "Entries currently held in the probable-delete index.",
			},
		),
		EligibleCandidates: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "gc",
				Name:      "eligible_candidates",
				Help:      "Probable-delete entries older than the leak delay.",
			},
		),
	}
}

// RecordTick records a scheduler tick.
func (m *GCMetrics) RecordTick(result string, durationSeconds float64) {
	m.TickLatency.WithLabelValues(result).Observe(durationSeconds)
}

// RecordCandidates adds n candidates with the given decision.
func (m *GCMetrics) RecordCandidates(decision string, n int) {
	if n <= 0 {
		return
	}
	m.CandidatesTotal.WithLabelValues(decision).Add(float64(n))
}

// SetQueueDepth updates the queue depth gauge.
func (m *GCMetrics) SetQueueDepth(depth int64) {
	m.QueueDepth.Set(float64(depth))
}

// RecordOutcome records one validated candidate.
func (m *GCMetrics) RecordOutcome(outcome string, durationSeconds float64) {
	m.OutcomeLatency.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordReceive records one consumer receive attempt.
func (m *GCMetrics) RecordReceive(result string) {
	m.ReceivesTotal.WithLabelValues(result).Inc()
}

// RecordBacklog updates the backlog gauges.
func (m *GCMetrics) RecordBacklog(pending, eligible int64) {
	m.PendingCandidates.Set(float64(pending))
	m.EligibleCandidates.Set(float64(eligible))
}

// BacklogProvider reports the size of the probable-delete backlog.
type BacklogProvider interface {
	// Backlog returns the number of entries in the probable-delete index and
	// how many of them are old enough to be scheduled.
	Backlog(ctx context.Context) (pending, eligible int64, err error)
}

// BacklogScanner periodically scans the backlog and updates metrics.
type BacklogScanner struct {
	metrics  *GCMetrics
	provider BacklogProvider
	interval time.Duration
	logger   *logging.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewBacklogScanner creates a scanner that periodically updates backlog metrics.
func NewBacklogScanner(metrics *GCMetrics, provider BacklogProvider, interval time.Duration, logger *logging.Logger) *BacklogScanner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &BacklogScanner{
		metrics:  metrics,
		provider: provider,
		interval: interval,
		logger:   logger.WithComponent("backlog-scanner"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic backlog scanning.
func (s *BacklogScanner) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts periodic backlog scanning.
func (s *BacklogScanner) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *BacklogScanner) loop() {
	defer s.wg.Done()

	// Run immediately on start
	s.scanOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scanOnce()
		}
	}
}

func (s *BacklogScanner) scanOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pending, eligible, err := s.provider.Backlog(ctx)
	if err != nil {
		s.logger.Warnf("backlog scan failed", map[string]any{"error": err.Error()})
		return
	}
	s.metrics.RecordBacklog(pending, eligible)
}

// ScanOnce triggers a single scan and updates metrics.
func (s *BacklogScanner) ScanOnce() {
	s.scanOnce()
}
