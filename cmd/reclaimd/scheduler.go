package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/reclaim-io/reclaim/internal/gc"
	"github.com/reclaim-io/reclaim/internal/health"
	"github.com/reclaim-io/reclaim/internal/metrics"
)

// SchedulerOptions holds the scheduler flags.
type SchedulerOptions struct {
	ProducerID     string
	Daemon         bool
	Interval       time.Duration
	MaxKeys        int
	QueueThreshold int64
}

// NewSchedulerCommand creates the scheduler subcommand.
func NewSchedulerCommand(root *RootOptions) *cobra.Command {
	opts := &SchedulerOptions{}

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Publish aged candidates to the work queue",
		Long: `Lists one page of the probable-delete index per tick and publishes
every candidate older than the leak delay to the work queue. A tick is
skipped while the queue holds at least --queue-threshold unread messages.

Without --daemon a single tick runs and the process exits non-zero if it
failed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ProducerID, "producer-id", "", "producer identity (default: generated UUID)")
	cmd.Flags().BoolVar(&opts.Daemon, "daemon", false, "tick on an interval until signalled (default: scheduler.daemon)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "override scheduler.interval")
	cmd.Flags().IntVar(&opts.MaxKeys, "max-keys", 0, "override scheduler.maxKeys")
	cmd.Flags().Int64Var(&opts.QueueThreshold, "queue-threshold", 0, "override scheduler.queueThreshold")

	return cmd
}

// apply copies explicitly set flags onto the configuration.
func (o *SchedulerOptions) apply(cmd *cobra.Command, root *RootOptions) {
	cfg := &root.Config.Scheduler
	flags := cmd.Flags()
	if flags.Changed("daemon") {
		cfg.Daemon = o.Daemon
	}
	if flags.Changed("interval") {
		cfg.Interval = o.Interval
	}
	if flags.Changed("max-keys") {
		cfg.MaxKeys = o.MaxKeys
	}
	if flags.Changed("queue-threshold") {
		cfg.QueueThreshold = o.QueueThreshold
	}
	if o.ProducerID == "" {
		o.ProducerID = uuid.New().String()
	}
}

func runScheduler(cmd *cobra.Command, root *RootOptions, opts *SchedulerOptions) error {
	opts.apply(cmd, root)
	cfg := root.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := root.Logger.WithWorker(opts.ProducerID)

	reg := newRegistry()
	gcMetrics := metrics.NewGCMetricsWithRegistry(reg)

	idx, err := buildIndex(cfg.Index, metrics.NewIndexMetricsWithRegistry(reg))
	if err != nil {
		return fmt.Errorf("failed to create index client: %w", err)
	}
	session, err := buildSession(cfg.Queue, opts.ProducerID, roleProducer, logger)
	if err != nil {
		_ = idx.Close()
		return fmt.Errorf("failed to create queue session: %w", err)
	}

	sched, err := gc.NewScheduler(idx, session, gc.SchedulerConfig{
		ProbableDeleteIndexID: cfg.Index.ProbableDeleteIndexID,
		ProducerID:            opts.ProducerID,
		Interval:              cfg.Scheduler.Interval,
		MaxKeys:               cfg.Scheduler.MaxKeys,
		LeakDelay:             cfg.Scheduler.LeakDelay,
		QueueThreshold:        cfg.Scheduler.QueueThreshold,
	}, logger, gcMetrics)
	if err != nil {
		_ = closeAll(session, idx)
		return err
	}

	logger.Infof("starting scheduler", map[string]any{
		"version":        version,
		"daemon":         cfg.Scheduler.Daemon,
		"index":          cfg.Index.ProbableDeleteIndexID,
		"queue":          session.Name(),
		"interval":       cfg.Scheduler.Interval.String(),
		"maxKeys":        cfg.Scheduler.MaxKeys,
		"leakDelay":      cfg.Scheduler.LeakDelay.String(),
		"queueThreshold": cfg.Scheduler.QueueThreshold,
	})

	if !cfg.Scheduler.Daemon {
		defer closeAll(session, idx)
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		if _, err := session.Connect(ctx, connectPolicy(cfg.Queue, false)); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", session.Name(), err)
		}
		res := sched.RunOnce(ctx)
		printTick(cmd.OutOrStdout(), res)
		return res.Err
	}

	backlog, err := gc.NewIndexSource(idx, gc.IndexSourceConfig{
		IndexID:   cfg.Index.ProbableDeleteIndexID,
		PageSize:  cfg.Index.PageSize,
		LeakDelay: cfg.Scheduler.LeakDelay,
	})
	if err != nil {
		_ = closeAll(session, idx)
		return err
	}

	svc, err := NewService(ServiceOptions{
		Name:     "scheduler",
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Worker:   sched,
		Setup: func(ctx context.Context) error {
			_, err := session.Connect(ctx, connectPolicy(cfg.Queue, true))
			return err
		},
		Checks: []health.ReadinessChecker{
			session,
			health.NewIndexChecker(idx, cfg.Index.ProbableDeleteIndexID),
		},
		Backlog:   backlog,
		GCMetrics: gcMetrics,
		Closers:   []io.Closer{session, idx},
	})
	if err != nil {
		_ = closeAll(session, idx)
		return err
	}
	return runDaemon(svc, logger)
}

func printTick(w io.Writer, res gc.TickResult) {
	fmt.Fprintf(w, "result=%s unread=%d listed=%d published=%d too_young=%d corrupt=%d\n",
		res.Result, res.Unread, res.Listed, res.Published, res.TooYoung, res.Corrupt)
}
