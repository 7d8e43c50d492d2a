package main

import (
	"errors"

	"github.com/spf13/cobra"

	"workflowci/internal/config"
	"workflowci/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errJobFailed makes the process exit non-zero without printing twice.
var errJobFailed = errors.New("job failed")

// app carries state shared by the subcommands of one invocation.
type app struct {
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "workflowci",
		Short: "Self-hosted runner for the macOS test workflow",
		Long: `workflowci evaluates workflow triggers and job guards, then runs the
job's steps in order on this machine: checkout, pinned Rust toolchain,
dependency cache, compile and the time-limited test step.

Without --workflow the embedded macOS workflow is used.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			if err := logger.InitLogger(logger.LoggerConfig{
				Debug:     cfg.Debug,
				LogFormat: cfg.LogFormat,
				LogFile:   cfg.LogFile,
			}); err != nil {
				return err
			}
			if cfg.File != "" {
				logger.LogDebug("config loaded", map[string]interface{}{"file": cfg.File})
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is workflowci.yaml in standard locations)")
	flags.StringP("workflow", "w", "", "workflow descriptor (default is the embedded macOS workflow)")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("log-format", "human", "log format: json or human")

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newServeCmd(a),
		newSubmitCmd(a),
		newEnvCmd(a),
		newLedgerCmd(a),
		newVersionCmd(),
	)
	return root
}
