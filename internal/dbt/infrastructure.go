package dbt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/msageha/dbtpilot/internal/log"
	"github.com/msageha/dbtpilot/internal/model"
	"github.com/msageha/dbtpilot/internal/process"
	"github.com/msageha/dbtpilot/internal/pyenv"
	"github.com/msageha/dbtpilot/internal/queue"
)

// ErrPythonEnvironmentUnavailable is returned by ExecuteCommand when the
// interpreter or its environment variables are missing.
var ErrPythonEnvironmentUnavailable = errors.New("could not launch command as python environment is not available")

// Submitter accepts queued work.
type Submitter interface {
	Submit(cmd queue.Command)
}

// Terminal is where dbt output and the executing banner are written.
type Terminal interface {
	io.Writer
	Log(line string) error
	Show(focus bool)
}

// Infrastructure runs dbt commands, either through the queue or
// immediately.
type Infrastructure struct {
	queue    Submitter
	factory  *process.Factory
	terminal Terminal
	logger   log.Logger

	mu         sync.RWMutex
	env        pyenv.Environment
	projectDir string
}

// NewInfrastructure wires the queue, process factory and terminal.
func NewInfrastructure(q Submitter, factory *process.Factory, term Terminal, env pyenv.Environment, projectDir string) *Infrastructure {
	return &Infrastructure{
		queue:      q,
		factory:    factory,
		terminal:   term,
		env:        env,
		projectDir: projectDir,
		logger:     log.WithName("dbt"),
	}
}

// SetEnvironment replaces the python environment for subsequent commands.
func (i *Infrastructure) SetEnvironment(env pyenv.Environment) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.env = env
}

// Environment returns the current python environment.
func (i *Infrastructure) Environment() pyenv.Environment {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.env
}

// SetProjectDir changes the working directory of subsequent commands.
func (i *Infrastructure) SetProjectDir(dir string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.projectDir = dir
}

// AddCommandToQueue submits cmd and returns the queue command ID. The queued
// action executes cmd and streams its output into the terminal.
func (i *Infrastructure) AddCommandToQueue(cmd *Command) string {
	id := model.MustGenerateID(model.IDTypeCommand)
	i.queue.Submit(queue.Command{
		ID:    id,
		Label: cmd.StatusMessage,
		Focus: cmd.Focus,
		Action: func(ctx context.Context) error {
			exec, err := i.ExecuteCommand(ctx, cmd)
			if err != nil {
				return err
			}
			_, err = exec.CompleteWithTerminalOutput(i.terminal)
			return err
		},
	})
	return id
}

// ExecuteCommand prepares cmd for immediate execution, bypassing the queue.
// The returned execution is bound to ctx.
func (i *Infrastructure) ExecuteCommand(ctx context.Context, cmd *Command) (*process.Execution, error) {
	if err := i.terminal.Log("> Executing task: " + cmd.String()); err != nil {
		i.logger.Warn("terminal write failed", "error", err.Error())
	}
	if cmd.Focus {
		i.terminal.Show(true)
	}

	i.mu.RLock()
	env := i.env
	dir := i.projectDir
	i.mu.RUnlock()

	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPythonEnvironmentUnavailable, err)
	}

	i.logger.Debug("executing dbt", "command", cmd.String(), "dir", dir)
	return i.factory.New(ctx, process.Spec{
		Command: env.Bin(Executable),
		Args:    cmd.Args,
		Env:     env.Environ(),
		Dir:     dir,
	}), nil
}
