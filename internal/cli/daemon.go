package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/dbtpilot/internal/daemon"
	"github.com/msageha/dbtpilot/internal/log"
	"github.com/msageha/dbtpilot/internal/uds"
)

func newDaemonCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the daemon in the foreground",
		Long: `Run the dbtpilot daemon for the current workspace. Logs go to
.dbtpilot/logs/daemon.log unless --log.output-paths is given. SIGINT or
SIGTERM shuts it down gracefully; a second signal exits immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, cfg, err := opts.workspace()
			if err != nil {
				return err
			}

			logOpts := *opts.log
			flags := cmd.Flags()
			if !flags.Changed("log.output-paths") {
				logOpts.OutputPaths = []string{paths.DaemonLog}
			}
			if !flags.Changed("log.level") {
				logOpts.Level = cfg.Logging.Level
			}
			if !flags.Changed("log.format") {
				logOpts.Format = cfg.Logging.Format
			}
			logOpts.Name = "dbtpilot"
			if err := log.Init(&logOpts); err != nil {
				return fmt.Errorf("init daemon log: %w", err)
			}
			defer func() { _ = log.Std().Sync() }()

			fmt.Fprintf(cmd.ErrOrStderr(), "dbtpilot daemon listening on %s (logs: %s)\n", paths.Socket, paths.DaemonLog)
			return daemon.New(paths, cfg).Run(cmd.Context())
		},
	}
}

func newStopCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the running daemon to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client(false)
			if err != nil {
				return err
			}
			if err := c.Call(uds.CommandShutdown, nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
			return nil
		},
	}
}
