package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/msageha/dbtpilot/internal/model"
	"github.com/msageha/dbtpilot/internal/notify"
	"github.com/msageha/dbtpilot/internal/status"
	"github.com/msageha/dbtpilot/internal/uds"
)

func newSubmitCommand(opts *rootOptions) *cobra.Command {
	var (
		params model.SubmitParams
		wait   bool
	)

	cmd := &cobra.Command{
		Use:   "submit [flags] -- <dbt args>",
		Short: "Queue a dbt command",
		Long: `Append a dbt command to the daemon queue. Commands run one at a time in
submission order. Pass dbt arguments after "--".`,
		Example: `  dbtpilot submit --label "Building orders..." -- build --select +orders`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Args = args
			c, err := opts.client(wait)
			if err != nil {
				return err
			}

			var res model.SubmitResult
			if err := c.Call(uds.CommandSubmit, params, &res); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "queued %s (position %d)\n", res.ID, res.Position)
			if !wait {
				return nil
			}

			var st model.QueueStatus
			if err := c.Call(uds.CommandWait, nil, &st); err != nil {
				return err
			}
			fmt.Fprintf(out, "queue idle: %d succeeded, %d failed, %d cancelled\n",
				st.Counters.Succeeded, st.Counters.Failed, st.Counters.Cancelled)
			return nil
		},
	}
	cmd.Flags().StringVar(&params.Label, "label", "", "Status label shown while the command runs (default: the command line)")
	cmd.Flags().BoolVar(&params.Focus, "focus", false, "Report progress as a notification and reveal the terminal")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the queue is idle")
	return cmd
}

func newExecCommand(opts *rootOptions) *cobra.Command {
	var params model.ExecuteParams

	cmd := &cobra.Command{
		Use:   "exec [flags] -- <dbt args>",
		Short: "Run a dbt command immediately, bypassing the queue",
		Long: `Run a dbt command right away in the daemon's Python environment and print
its output. The exit code of dbt becomes the exit code of this command.`,
		Example: `  dbtpilot exec -- ls --select orders`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Args = args
			c, err := opts.client(true)
			if err != nil {
				return err
			}

			resp, err := c.SendCommand(uds.CommandExecute, params)
			if err != nil {
				return err
			}
			var res model.ExecuteResult
			if err := resp.Decode(&res); err != nil {
				return err
			}
			_, _ = io.WriteString(cmd.OutOrStdout(), res.Stdout)
			_, _ = io.WriteString(cmd.ErrOrStderr(), res.Stderr)

			if err := resp.Err(); err != nil {
				var detail *uds.ErrorDetail
				if errors.As(err, &detail) && detail.Code == uds.ErrCodeExecutionFailed && res.ExitCode > 0 {
					return &ExitCodeError{Code: res.ExitCode}
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&params.Focus, "focus", false, "Reveal the terminal while the command runs")
	return cmd
}

func newCancelCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the running dbt command",
		Long: `Request cancellation of the command that is currently running. Queued
commands are not affected. The request is advisory: the queue moves on once
dbt has exited.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client(false)
			if err != nil {
				return err
			}
			var res model.CancelResult
			if err := c.Call(uds.CommandCancel, nil, &res); err != nil {
				return err
			}
			if res.Cancelled {
				fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %q\n", res.Label)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing is running")
			}
			return nil
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue and dbt status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, _, err := opts.workspace()
			if err != nil {
				return err
			}
			return status.Run(cmd.OutOrStdout(), paths.Socket, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print machine-readable status")
	return cmd
}

func newDetectCommand(opts *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Check that python and dbt are installed in the configured environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client(true)
			if err != nil {
				return err
			}
			var det model.DetectionStatus
			if err := c.Call(uds.CommandDetect, nil, &det); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(det)
			}
			table := uitable.New()
			table.AddRow("PYTHON", "DBT", "VERSION")
			version := det.Version
			if version == "" {
				version = "-"
			}
			table.AddRow(det.PythonInstalled, det.DBTInstalled, version)
			fmt.Fprintln(out, table)
			if det.Error != "" {
				fmt.Fprintf(out, "error: %s\n", det.Error)
			}
			if !det.DBTInstalled {
				return &ExitCodeError{Code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print machine-readable detection result")
	return cmd
}

func newNotifyCommand() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "notify <message>",
		Short: "Show a desktop notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return notify.Send(title, args[0])
		},
	}
	cmd.Flags().StringVar(&title, "title", notify.DefaultTitle, "Notification title")
	return cmd
}
