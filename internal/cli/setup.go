package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/dbtpilot/internal/config"
	"github.com/msageha/dbtpilot/internal/setup"
)

func newSetupCommand() *cobra.Command {
	var opts setup.Options

	cmd := &cobra.Command{
		Use:   "setup [dir]",
		Short: "Initialize .dbtpilot/ in a workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			cfg, err := setup.Run(dir, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			abs, _ := filepath.Abs(dir)
			fmt.Fprintf(out, "Initialized %s\n", filepath.Join(abs, config.DirName))
			fmt.Fprintf(out, "  project: %s\n", cfg.Project.Name)
			if cfg.Python.Path == "" {
				fmt.Fprintln(out, "  python:  not found; set python.path in config.yaml")
			} else {
				fmt.Fprintf(out, "  python:  %s\n", cfg.Python.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.ProjectName, "name", "", "Project name (default: dbt project name or directory name)")
	cmd.Flags().StringVar(&opts.ProjectDir, "project-dir", "", "dbt project root relative to the workspace")
	cmd.Flags().StringVar(&opts.PythonPath, "python", "", "Python interpreter dbt is installed in")
	return cmd
}
