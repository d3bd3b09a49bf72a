// Package cli wires the dbtpilot cobra commands.
package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/dbtpilot/internal/config"
	"github.com/msageha/dbtpilot/internal/log"
	"github.com/msageha/dbtpilot/internal/model"
	"github.com/msageha/dbtpilot/internal/uds"
)

// ExitCodeError makes the process exit with Code without printing anything
// further.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

type rootOptions struct {
	dir string
	log *log.Options
}

// NewRootCommand builds the dbtpilot command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{log: log.NewOptions()}

	rootCmd := &cobra.Command{
		Use:   "dbtpilot",
		Short: "Run dbt commands one at a time through a local daemon",
		Long: `dbtpilot serializes dbt invocations for a project. The daemon owns a
FIFO queue and runs one dbt command at a time in the configured Python
environment; the CLI submits, executes and cancels commands over a unix socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if errs := opts.log.Validate(); len(errs) > 0 {
				return errors.Join(errs...)
			}
			return log.Init(opts.log)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "Directory to search upwards from for .dbtpilot/")
	opts.log.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newDaemonCommand(opts),
		newStopCommand(opts),
		newSetupCommand(),
		newSubmitCommand(opts),
		newExecCommand(opts),
		newCancelCommand(opts),
		newStatusCommand(opts),
		newDetectCommand(opts),
		newNotifyCommand(),
		newVersionCommand(version),
	)
	return rootCmd
}

// workspace locates .dbtpilot and loads its configuration.
func (o *rootOptions) workspace() (config.Paths, model.Config, error) {
	dir, err := config.FindDir(o.dir)
	if err != nil {
		return config.Paths{}, model.Config{}, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return config.Paths{}, model.Config{}, err
	}
	return config.NewPaths(dir), cfg, nil
}

// client connects to the workspace daemon. long selects the execute timeout
// for requests that wait on dbt.
func (o *rootOptions) client(long bool) (*uds.Client, error) {
	paths, cfg, err := o.workspace()
	if err != nil {
		return nil, err
	}
	c := uds.NewClient(paths.Socket)
	if long {
		c.SetTimeout(time.Duration(cfg.Daemon.ExecuteTimeoutSec) * time.Second)
	}
	return c, nil
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbtpilot %s\n", version)
		},
	}
}

// Execute runs the command tree and maps the result to a process exit code.
func Execute(version string) int {
	err := NewRootCommand(version).Execute()
	if err == nil {
		return 0
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
