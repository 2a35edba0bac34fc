package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/reclaim-io/reclaim/internal/config"
	"github.com/reclaim-io/reclaim/internal/gc"
	"github.com/reclaim-io/reclaim/internal/health"
	"github.com/reclaim-io/reclaim/internal/metrics"
)

// ConsumerOptions holds the consumer flags.
type ConsumerOptions struct {
	ConsumerID string
	Daemon     bool
	Source     string
	MinAge     time.Duration
}

// NewConsumerCommand creates the consumer subcommand.
func NewConsumerCommand(root *RootOptions) *cobra.Command {
	opts := &ConsumerOptions{}

	cmd := &cobra.Command{
		Use:   "consumer",
		Short: "Validate candidates and delete unreferenced storage-units",
		Long: `Receives candidates from the work queue (or scans the probable-delete
index with --source index) and validates each one: candidates of live
instances are skipped, candidates still referenced by their object metadata
are discarded, and orphaned storage-units are deleted before their candidate.

Without --daemon the candidates pending at start are drained and the process
exits non-zero if the source could not be reached.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsumer(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ConsumerID, "consumer-id", "", "consumer identity (default: generated UUID)")
	cmd.Flags().BoolVar(&opts.Daemon, "daemon", false, "consume until signalled (default: consumer.daemon)")
	cmd.Flags().StringVar(&opts.Source, "source", "", "candidate source: queue or index (default: consumer.source)")
	cmd.Flags().DurationVar(&opts.MinAge, "min-age", 0, "override consumer.minAge")

	return cmd
}

// apply copies explicitly set flags onto the configuration.
func (o *ConsumerOptions) apply(cmd *cobra.Command, root *RootOptions) {
	cfg := &root.Config.Consumer
	flags := cmd.Flags()
	if flags.Changed("daemon") {
		cfg.Daemon = o.Daemon
	}
	if o.Source != "" {
		cfg.Source = o.Source
	}
	if flags.Changed("min-age") {
		cfg.MinAge = o.MinAge
	}
	if o.ConsumerID == "" {
		o.ConsumerID = uuid.New().String()
	}
}

func runConsumer(cmd *cobra.Command, root *RootOptions, opts *ConsumerOptions) error {
	opts.apply(cmd, root)
	cfg := root.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := root.Logger.WithWorker(opts.ConsumerID)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	reg := newRegistry()
	gcMetrics := metrics.NewGCMetricsWithRegistry(reg)

	idx, err := buildIndex(cfg.Index, metrics.NewIndexMetricsWithRegistry(reg))
	if err != nil {
		return fmt.Errorf("failed to create index client: %w", err)
	}
	store, err := buildStore(ctx, cfg.ObjectStore, metrics.NewObjectStoreMetricsWithRegistry(reg))
	if err != nil {
		_ = idx.Close()
		return fmt.Errorf("failed to create object store: %w", err)
	}
	closers := []io.Closer{store, idx}

	liveness, err := gc.NewInstanceChecker(idx, gc.InstanceCheckerConfig{
		IndexID:        cfg.Index.GlobalInstanceIndexID,
		ReplicaIndexID: cfg.Index.GlobalInstanceReplicaIndexID,
		PageSize:       cfg.Index.PageSize,
	}, logger)
	if err != nil {
		_ = closeAll(store, idx)
		return err
	}
	validator, err := gc.NewValidator(idx, store, liveness, gc.ValidatorConfig{
		ProbableDeleteIndexID: cfg.Index.ProbableDeleteIndexID,
		MinAge:                cfg.Consumer.MinAge,
	}, logger, gcMetrics)
	if err != nil {
		_ = closeAll(store, idx)
		return err
	}

	checks := []health.ReadinessChecker{
		health.NewIndexChecker(idx, cfg.Index.ProbableDeleteIndexID),
		health.NewObjectStoreChecker(store),
	}

	var (
		source gc.Source
		setup  func(context.Context) error
	)
	switch cfg.Consumer.Source {
	case config.SourceIndex:
		source, err = gc.NewIndexSource(idx, gc.IndexSourceConfig{
			IndexID:   cfg.Index.ProbableDeleteIndexID,
			PageSize:  cfg.Index.PageSize,
			LeakDelay: cfg.Scheduler.LeakDelay,
		})
		if err != nil {
			_ = closeAll(store, idx)
			return err
		}
	default:
		session, err := buildSession(cfg.Queue, opts.ConsumerID, roleConsumer, logger)
		if err != nil {
			_ = closeAll(store, idx)
			return fmt.Errorf("failed to create queue session: %w", err)
		}
		source = gc.NewQueueSource(session)
		setup = func(ctx context.Context) error {
			_, err := session.Connect(ctx, connectPolicy(cfg.Queue, cfg.Consumer.Daemon))
			return err
		}
		checks = append(checks, session)
		closers = append([]io.Closer{session}, closers...)
	}

	consumer, err := gc.NewConsumer(source, validator, gc.ConsumerConfig{
		ConsumerID:       opts.ConsumerID,
		RetryInterval:    cfg.Consumer.RetryInterval,
		MaxRetryInterval: cfg.Consumer.MaxRetryInterval,
		ReceiveTimeout:   cfg.Consumer.ReceiveTimeout,
		ProcessTimeout:   cfg.Consumer.ProcessTimeout,
	}, logger, gcMetrics)
	if err != nil {
		_ = closeAll(closers...)
		return err
	}

	logger.Infof("starting consumer", map[string]any{
		"version": version,
		"daemon":  cfg.Consumer.Daemon,
		"source":  cfg.Consumer.Source,
		"index":   cfg.Index.ProbableDeleteIndexID,
		"minAge":  cfg.Consumer.MinAge.String(),
	})

	if !cfg.Consumer.Daemon {
		defer closeAll(closers...)
		if setup != nil {
			if err := setup(ctx); err != nil {
				return fmt.Errorf("failed to connect to queue: %w", err)
			}
		}
		res, err := consumer.Drain(ctx)
		printDrain(cmd.OutOrStdout(), res)
		return err
	}

	backlog, err := gc.NewIndexSource(idx, gc.IndexSourceConfig{
		IndexID:   cfg.Index.ProbableDeleteIndexID,
		PageSize:  cfg.Index.PageSize,
		LeakDelay: cfg.Scheduler.LeakDelay,
	})
	if err != nil {
		_ = closeAll(closers...)
		return err
	}

	svc, err := NewService(ServiceOptions{
		Name:      "consumer",
		Config:    cfg,
		Logger:    logger,
		Registry:  reg,
		Worker:    consumer,
		Setup:     setup,
		Checks:    checks,
		Backlog:   backlog,
		GCMetrics: gcMetrics,
		Closers:   closers,
	})
	if err != nil {
		_ = closeAll(closers...)
		return err
	}
	return runDaemon(svc, logger)
}

func printDrain(w io.Writer, res gc.DrainResult) {
	fmt.Fprintf(w, "depth=%d received=%d", res.Depth, res.Received)
	for _, o := range gc.Outcomes() {
		fmt.Fprintf(w, " %s=%d", o, res.Outcomes[o])
	}
	fmt.Fprintln(w)
}
