package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/dbtpilot/internal/config"
	"github.com/msageha/dbtpilot/internal/model"
	"github.com/msageha/dbtpilot/internal/uds"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("1.2.3")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// workspaceWithServer creates a workspace under /tmp and serves the given
// handlers on its socket.
func workspaceWithServer(t *testing.T, handlers map[string]uds.HandlerFunc) string {
	t.Helper()
	root, err := os.MkdirTemp("/tmp", "dp-cli-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(root) })

	dir := filepath.Join(root, config.DirName)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, config.Save(dir, model.DefaultConfig()))

	server := uds.NewServer(config.NewPaths(dir).Socket)
	for name, h := range handlers {
		server.Handle(name, h)
	}
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return root
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dbtpilot 1.2.3\n", out)
}

func TestSetup(t *testing.T) {
	workspace := t.TempDir()

	out, err := run(t, "setup", workspace, "--name", "shop", "--python", "/opt/venv/bin/python")
	require.NoError(t, err)
	assert.Contains(t, out, "project: shop")
	assert.Contains(t, out, "/opt/venv/bin/python")

	cfg, err := config.Load(filepath.Join(workspace, config.DirName))
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.Project.Name)
}

func TestSubmit(t *testing.T) {
	gotCh := make(chan model.SubmitParams, 1)
	root := workspaceWithServer(t, map[string]uds.HandlerFunc{
		uds.CommandSubmit: func(_ context.Context, req *uds.Request) *uds.Response {
			var params model.SubmitParams
			if err := req.DecodeParams(&params); err != nil {
				return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
			}
			gotCh <- params
			return uds.SuccessResponse(model.SubmitResult{ID: "cmd_1", Position: 2})
		},
	})

	out, err := run(t, "-C", root, "submit", "--label", "Building...", "--focus", "--", "build", "--select", "+orders")
	require.NoError(t, err)
	assert.Equal(t, "queued cmd_1 (position 2)\n", out)
	assert.Equal(t, model.SubmitParams{Label: "Building...", Focus: true, Args: []string{"build", "--select", "+orders"}}, <-gotCh)
}

func TestSubmit_Wait(t *testing.T) {
	root := workspaceWithServer(t, map[string]uds.HandlerFunc{
		uds.CommandSubmit: func(context.Context, *uds.Request) *uds.Response {
			return uds.SuccessResponse(model.SubmitResult{ID: "cmd_1"})
		},
		uds.CommandWait: func(context.Context, *uds.Request) *uds.Response {
			return uds.SuccessResponse(model.QueueStatus{
				State:    model.QueueStateIdle,
				Counters: model.QueueCounters{Submitted: 1, Failed: 1},
			})
		},
	})

	out, err := run(t, "-C", root, "submit", "--wait", "--", "run")
	require.NoError(t, err)
	assert.Contains(t, out, "queue idle: 0 succeeded, 1 failed, 0 cancelled")
}

func TestExec_PropagatesExitCode(t *testing.T) {
	root := workspaceWithServer(t, map[string]uds.HandlerFunc{
		uds.CommandExecute: func(context.Context, *uds.Request) *uds.Response {
			return uds.ErrorResponseWithData(uds.ErrCodeExecutionFailed, "dbt run exited with code 2", model.ExecuteResult{
				ExitCode: 2,
				Stdout:   "Running with dbt=1.7.4\n",
				Stderr:   "Database Error\n",
			})
		},
	})

	out, err := run(t, "-C", root, "exec", "--", "run")
	var exitErr *ExitCodeError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, out, "Running with dbt=1.7.4")
	assert.Contains(t, out, "Database Error")
}

func TestExec_EnvironmentUnavailable(t *testing.T) {
	root := workspaceWithServer(t, map[string]uds.HandlerFunc{
		uds.CommandExecute: func(context.Context, *uds.Request) *uds.Response {
			return uds.ErrorResponse(uds.ErrCodeEnvironmentUnavailable, "could not launch command as python environment is not available")
		},
	})

	_, err := run(t, "-C", root, "exec", "--", "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), uds.ErrCodeEnvironmentUnavailable)
}

func TestCancel(t *testing.T) {
	root := workspaceWithServer(t, map[string]uds.HandlerFunc{
		uds.CommandCancel: func(context.Context, *uds.Request) *uds.Response {
			return uds.SuccessResponse(model.CancelResult{Cancelled: true, Label: "Building..."})
		},
	})

	out, err := run(t, "-C", root, "cancel")
	require.NoError(t, err)
	assert.Equal(t, "cancellation requested for \"Building...\"\n", out)
}

func TestDetect_NotInstalled(t *testing.T) {
	root := workspaceWithServer(t, map[string]uds.HandlerFunc{
		uds.CommandDetect: func(context.Context, *uds.Request) *uds.Response {
			return uds.SuccessResponse(model.DetectionStatus{PythonInstalled: true, Error: "dbt --version exited with 1"})
		},
	})

	out, err := run(t, "-C", root, "detect")
	var exitErr *ExitCodeError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Contains(t, out, "PYTHON")
	assert.Contains(t, out, "error: dbt --version exited with 1")
}

func TestStatus_DaemonStopped(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, config.DirName), 0755))

	out, err := run(t, "-C", root, "status")
	require.NoError(t, err)
	assert.Equal(t, "Daemon: stopped\n", out)
}

func TestSubmit_RequiresArgs(t *testing.T) {
	_, err := run(t, "submit")
	assert.Error(t, err)
}

func TestExitCodeError(t *testing.T) {
	assert.Equal(t, "exit status 3", (&ExitCodeError{Code: 3}).Error())
}
