package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reclaim-io/reclaim/internal/config"
	"github.com/reclaim-io/reclaim/internal/logging"
)

// RootOptions holds global flags and the state they produce.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	// Config and Logger are populated before any subcommand runs.
	Config *config.Config
	Logger *logging.Logger
}

// NewRootCommand creates the reclaimd command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "reclaimd",
		Short: "Deferred-deletion garbage collector",
		Long: `reclaimd reclaims storage-units named in the probable-delete index.

The scheduler moves aged candidates into the work queue, the consumer
validates each candidate and deletes unreferenced storage-units, and
reconcile merges a replicated index pair.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to configuration file (default: $RECLAIM_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "override log format (json|text)")

	cmd.AddCommand(NewSchedulerCommand(opts))
	cmd.AddCommand(NewConsumerCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// load reads the configuration without validating it, applies the global
// overrides, and installs the logger. Subcommands validate after applying
// their own flags.
func (o *RootOptions) load() error {
	var (
		cfg *config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.LoadFromPathNoValidate(o.ConfigPath)
	} else {
		cfg, err = config.LoadNoValidate()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if o.LogLevel != "" {
		cfg.Observability.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Observability.LogFormat = o.LogFormat
	}

	o.Config = cfg
	o.Logger = logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	return nil
}

// NewVersionCommand prints build information.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// No configuration is needed to print the version.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reclaimd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		},
	}
}
