package gc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/reclaim-io/reclaim/internal/index"
	"github.com/reclaim-io/reclaim/internal/logging"
	"github.com/reclaim-io/reclaim/internal/queue"
	"github.com/reclaim-io/reclaim/internal/record"
)

// DefaultLeakDelay is the minimum candidate age before it is published.
const DefaultLeakDelay = 15 * time.Minute

// SchedulerConfig configures the scheduler.
type SchedulerConfig struct {
	// ProbableDeleteIndexID is the index holding candidates. Required.
	ProbableDeleteIndexID string

	// ProducerID identifies this scheduler in message ids and logs.
	ProducerID string

	// Interval is the time between ticks.
	// Default: 5m
	Interval time.Duration

	// MaxKeys bounds the single page listed per tick.
	// Default: 1000
	MaxKeys int

	// LeakDelay is the minimum candidate age. Zero publishes every
	// candidate; a negative value selects DefaultLeakDelay.
	LeakDelay time.Duration

	// QueueThreshold skips a tick when the queue holds at least this many
	// unread messages. Zero disables back-pressure.
	QueueThreshold int64

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// TickResult describes one scheduler tick.
type TickResult struct {
	// Result is one of the Tick* constants.
	Result    string
	Unread    int64
	Listed    int
	Published int
	TooYoung  int
	Corrupt   int
	Err       error
}

// Skipped reports whether the tick ended before listing.
func (r TickResult) Skipped() bool {
	return r.Result == TickBackPressure || r.Result == TickUnreadUnknown
}

// Scheduler moves eligible candidates from the probable-delete index into
// the work queue.
type Scheduler struct {
	idx     index.Client
	session *queue.Session
	cfg     SchedulerConfig
	logger  *logging.Logger
	metrics SchedulerMetrics

	loop worker
}

// NewScheduler creates a scheduler. metrics may be nil.
func NewScheduler(idx index.Client, session *queue.Session, cfg SchedulerConfig, logger *logging.Logger, metrics SchedulerMetrics) (*Scheduler, error) {
	if idx == nil || session == nil {
		return nil, errors.New("gc: scheduler needs an index client and a queue session")
	}
	if cfg.ProbableDeleteIndexID == "" {
		return nil, errors.New("gc: probable-delete index id is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = index.DefaultMaxKeys
	}
	if cfg.LeakDelay < 0 {
		cfg.LeakDelay = DefaultLeakDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Global()
	}
	logger = logger.WithComponent("scheduler")
	if cfg.ProducerID != "" {
		logger = logger.WithWorker(cfg.ProducerID)
	}
	return &Scheduler{idx: idx, session: session, cfg: cfg, logger: logger, metrics: metrics}, nil
}

// Start runs ticks in the background until Stop is called or ctx is done.
// The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.loop.start(ctx, s.run)
}

// Stop stops the background loop and waits for the current tick.
func (s *Scheduler) Stop() {
	s.loop.stop()
}

// Running reports whether the background loop is active.
func (s *Scheduler) Running() bool {
	return s.loop.isRunning()
}

// Run ticks in the foreground until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.run(ctx)
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Infof("scheduler started", map[string]any{
		"index":     s.cfg.ProbableDeleteIndexID,
		"interval":  s.cfg.Interval.String(),
		"maxKeys":   s.cfg.MaxKeys,
		"leakDelay": s.cfg.LeakDelay.String(),
		"threshold": s.cfg.QueueThreshold,
	})
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single tick. Failures are logged and reported in the
// result; they never panic or stop later ticks.
func (s *Scheduler) RunOnce(ctx context.Context) TickResult {
	start := time.Now()
	res := s.tick(ctx)
	if s.metrics != nil {
		s.metrics.RecordTick(res.Result, time.Since(start).Seconds())
		s.metrics.RecordCandidates(DecisionPublished, res.Published)
		s.metrics.RecordCandidates(DecisionTooYoung, res.TooYoung)
		s.metrics.RecordCandidates(DecisionCorrupt, res.Corrupt)
	}

	fields := map[string]any{
		"result":    res.Result,
		"unread":    res.Unread,
		"listed":    res.Listed,
		"published": res.Published,
		"tooYoung":  res.TooYoung,
		"corrupt":   res.Corrupt,
	}
	if res.Err != nil {
		fields["error"] = res.Err.Error()
		s.logger.Errorf("scheduler tick failed", fields)
	} else {
		s.logger.Infof("scheduler tick finished", fields)
	}
	return res
}

func (s *Scheduler) tick(ctx context.Context) TickResult {
	q, err := s.session.Queue(ctx)
	if err != nil {
		return TickResult{Result: TickFailed, Err: err}
	}

	res := TickResult{Result: TickOK}
	unread, err := q.UnreadCount(ctx)
	if err != nil {
		s.session.Invalidate(err)
		if s.cfg.QueueThreshold > 0 {
			res.Result = TickUnreadUnknown
			res.Err = fmt.Errorf("unread count: %w", err)
			return res
		}
		s.logger.Warnf("unread count unavailable", map[string]any{"error": err.Error()})
		if q, err = s.session.Queue(ctx); err != nil {
			return TickResult{Result: TickFailed, Err: err}
		}
	} else {
		res.Unread = unread
		if s.metrics != nil {
			s.metrics.SetQueueDepth(unread)
		}
	}

	if s.cfg.QueueThreshold > 0 && res.Unread >= s.cfg.QueueThreshold {
		res.Result = TickBackPressure
		return res
	}

	if err := q.Purge(ctx); err != nil {
		s.session.Invalidate(err)
		res.Result, res.Err = TickFailed, fmt.Errorf("purge: %w", err)
		return res
	}

	page, err := s.idx.List(ctx, s.cfg.ProbableDeleteIndexID, s.cfg.MaxKeys, "")
	if err != nil {
		res.Result, res.Err = TickFailed, fmt.Errorf("list %s: %w", s.cfg.ProbableDeleteIndexID, err)
		return res
	}
	res.Listed = len(page.Keys)

	now := s.cfg.Now()
	for _, e := range page.Keys {
		cand, err := record.ParseProbableDelete(e.Key, e.Value)
		if err != nil {
			res.Corrupt++
			s.logger.WithCandidate(e.Key).Corruption("skipping unparsable candidate", err, nil)
			continue
		}
		if age := cand.Age(now); age < s.cfg.LeakDelay {
			res.TooYoung++
			s.logger.WithCandidate(e.Key).Debugf("candidate too young", map[string]any{"age": age.String()})
			continue
		}

		msg, err := s.message(e)
		if err != nil {
			res.Corrupt++
			s.logger.WithCandidate(e.Key).Corruption("cannot encode candidate", err, nil)
			continue
		}
		if err := q.Publish(ctx, msg); err != nil {
			s.session.Invalidate(err)
			res.Result, res.Err = TickFailed, fmt.Errorf("publish %s: %w", e.Key, err)
			return res
		}
		res.Published++
	}
	return res
}

// message wraps a raw index entry. The id is prefixed with the producer id
// when one is configured.
func (s *Scheduler) message(e index.Entry) (queue.Message, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return queue.Message{}, err
	}
	id := e.Key
	if s.cfg.ProducerID != "" {
		id = s.cfg.ProducerID + "/" + e.Key
	}
	return queue.Message{ID: id, Body: body}, nil
}
