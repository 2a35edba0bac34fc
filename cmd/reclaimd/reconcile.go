package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/reclaim-io/reclaim/internal/config"
	"github.com/reclaim-io/reclaim/internal/metrics"
	"github.com/reclaim-io/reclaim/internal/reconcile"
)

// ReconcileOptions holds the reconcile flags.
type ReconcileOptions struct {
	Primary        string
	Replica        string
	Destination    string
	DryRun         bool
	Recover        bool
	Cleanup        bool
	Snapshot       string
	SnapshotFormat string
}

// NewReconcileCommand creates the reconcile subcommand.
func NewReconcileCommand(root *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Merge a replicated index pair",
		Long: `Loads the primary and replica copies of an index and resolves every key
with last-write-wins on create_timestamp. A tie goes to the primary; a key
neither copy can supply is dropped and never written.

--dry-run only reports the union. --recover writes every resolved value to
the destination index (default: the primary), and --cleanup then deletes the
key from every source index other than the destination.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Primary, "primary", "", "primary index id (default: reconcile.primaryIndexId)")
	cmd.Flags().StringVar(&opts.Replica, "replica", "", "replica index id (default: reconcile.replicaIndexId)")
	cmd.Flags().StringVar(&opts.Destination, "destination", "", "index receiving the resolved values (default: primary)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report the merged union without writing")
	cmd.Flags().BoolVar(&opts.Recover, "recover", false, "write the merged union to the destination")
	cmd.Flags().BoolVar(&opts.Cleanup, "cleanup", false, "with --recover, delete recovered keys from the source indexes")
	cmd.Flags().StringVar(&opts.Snapshot, "snapshot", "", "write the merged union to this file before any mutation")
	cmd.Flags().StringVar(&opts.SnapshotFormat, "snapshot-format", "", "snapshot encoding: jsonl, jsonl.zst, jsonl.lz4, jsonl.snappy or parquet (default: from file name)")

	cmd.MarkFlagsMutuallyExclusive("dry-run", "recover")
	cmd.MarkFlagsOneRequired("dry-run", "recover")

	return cmd
}

// apply copies the flags onto the configuration and checks the combination.
func (o *ReconcileOptions) apply(cfg *config.ReconcileConfig) error {
	if o.Primary != "" {
		cfg.PrimaryIndexID = o.Primary
	}
	if o.Replica != "" {
		cfg.ReplicaIndexID = o.Replica
	}
	if o.Destination != "" {
		cfg.DestinationIndexID = o.Destination
	}
	if o.Snapshot != "" {
		cfg.SnapshotPath = o.Snapshot
	}
	if o.SnapshotFormat != "" {
		cfg.SnapshotFormat = o.SnapshotFormat
	}

	if cfg.PrimaryIndexID == "" || cfg.ReplicaIndexID == "" {
		return errors.New("reconcile: --primary and --replica are required")
	}
	if o.Cleanup && !o.Recover {
		return errors.New("reconcile: --cleanup requires --recover")
	}
	return nil
}

// snapshotFormat resolves the snapshot encoding. An explicit flag wins over
// the configured format, which wins over the file name.
func (o *ReconcileOptions) snapshotFormat(cfg config.ReconcileConfig) (reconcile.SnapshotFormat, error) {
	if o.SnapshotFormat == "" && (cfg.SnapshotFormat == "" || cfg.SnapshotFormat == string(reconcile.FormatJSONL)) {
		return reconcile.FormatFromPath(cfg.SnapshotPath), nil
	}
	return reconcile.ParseSnapshotFormat(cfg.SnapshotFormat)
}

func runReconcile(cmd *cobra.Command, root *RootOptions, opts *ReconcileOptions) error {
	cfg := root.Config
	if err := opts.apply(&cfg.Reconcile); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := root.Logger

	reg := newRegistry()
	idx, err := buildIndex(cfg.Index, metrics.NewIndexMetricsWithRegistry(reg))
	if err != nil {
		return fmt.Errorf("failed to create index client: %w", err)
	}
	defer idx.Close()

	rc := reconcile.RecoverConfig{
		Primary:     reconcile.Target{Client: idx, IndexID: cfg.Reconcile.PrimaryIndexID},
		Replica:     reconcile.Target{Client: idx, IndexID: cfg.Reconcile.ReplicaIndexID},
		Destination: reconcile.Target{Client: idx, IndexID: cfg.Reconcile.DestinationIndexID},
		PageSize:    cfg.Index.PageSize,
		DryRun:      opts.DryRun,
		Cleanup:     opts.Cleanup,
	}
	if path := cfg.Reconcile.SnapshotPath; path != "" {
		format, err := opts.snapshotFormat(cfg.Reconcile)
		if err != nil {
			return err
		}
		rc.Snapshot = func(u reconcile.Union) error {
			if err := reconcile.WriteSnapshotFile(path, format, u); err != nil {
				return err
			}
			logger.Infof("wrote recovery snapshot", map[string]any{
				"path":   path,
				"format": string(format),
				"keys":   len(u.Decisions),
			})
			return nil
		}
	}

	rec, err := reconcile.NewRecoverer(rc, logger)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rep, err := rec.Run(ctx)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), rep, opts.DryRun)
	if rep.Failed > 0 {
		return fmt.Errorf("reconcile: %d keys failed", rep.Failed)
	}
	return nil
}

func printReport(w io.Writer, rep reconcile.Report, dryRun bool) {
	if dryRun {
		for _, d := range rep.Union.Decisions {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Key, d.Winner, d.Reason)
		}
	}
	fmt.Fprintf(w, "keys=%d kept=%d dropped=%d written=%d cleaned=%d failed=%d\n",
		len(rep.Union.Decisions), len(rep.Union.Kept()), len(rep.Union.Dropped()),
		rep.Written, rep.Cleaned, rep.Failed)
}
