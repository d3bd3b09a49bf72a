package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/msageha/dbtpilot/internal/dbt"
	"github.com/msageha/dbtpilot/internal/model"
	"github.com/msageha/dbtpilot/internal/process"
	"github.com/msageha/dbtpilot/internal/uds"
)

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	long := time.Duration(d.config.Daemon.ExecuteTimeoutSec) * time.Second

	d.server.Handle(uds.CommandPing, func(context.Context, *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]any{"status": "ok", "pid": os.Getpid()})
	})
	d.server.Handle(uds.CommandSubmit, d.handleSubmit)
	d.server.HandleWithTimeout(uds.CommandExecute, long, d.handleExecute)
	d.server.Handle(uds.CommandCancel, d.handleCancel)
	d.server.Handle(uds.CommandStatus, d.handleStatus)
	d.server.HandleWithTimeout(uds.CommandDetect, dbt.DefaultDetectTimeout+5*time.Second, d.handleDetect)
	d.server.HandleWithTimeout(uds.CommandWait, long, d.handleWait)

	d.server.Handle(uds.CommandShutdown, func(context.Context, *uds.Request) *uds.Response {
		d.logger.Info("shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) handleSubmit(_ context.Context, req *uds.Request) *uds.Response {
	var params model.SubmitParams
	if err := req.DecodeParams(&params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if len(params.Args) == 0 {
		return uds.ErrorResponse(uds.ErrCodeValidation, "args must not be empty")
	}

	cmd := dbt.NewCommand(params.Label, params.Focus, params.Args...)
	if cmd.StatusMessage == "" {
		cmd.StatusMessage = cmd.String()
	}

	snap := d.queue.Snapshot()
	position := len(snap.Pending)
	if snap.State == model.QueueStateRunning {
		position++
	}

	id := d.infra.AddCommandToQueue(cmd)
	d.logger.Info("command submitted", "id", id, "label", cmd.StatusMessage, "position", position)
	return uds.SuccessResponse(model.SubmitResult{ID: id, Position: position})
}

// handleExecute runs dbt immediately, bypassing the queue, and holds the
// connection until the process exits.
func (d *Daemon) handleExecute(ctx context.Context, req *uds.Request) *uds.Response {
	var params model.ExecuteParams
	if err := req.DecodeParams(&params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if len(params.Args) == 0 {
		return uds.ErrorResponse(uds.ErrCodeValidation, "args must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(d.config.Daemon.ExecuteTimeoutSec)*time.Second)
	defer cancel()

	cmd := dbt.NewCommand("", params.Focus, params.Args...)
	exec, err := d.infra.ExecuteCommand(ctx, cmd)
	if err != nil {
		if errors.Is(err, dbt.ErrPythonEnvironmentUnavailable) {
			return uds.ErrorResponse(uds.ErrCodeEnvironmentUnavailable, err.Error())
		}
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}

	res, err := exec.Complete()
	result := model.ExecuteResult{
		Command:    cmd.String(),
		ExitCode:   res.ExitCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		DurationMs: res.Duration.Milliseconds(),
	}
	if err != nil {
		if ctx.Err() != nil {
			return uds.ErrorResponseWithData(uds.ErrCodeCancelled, err.Error(), result)
		}
		var exitErr *process.ExitError
		if errors.As(err, &exitErr) {
			return uds.ErrorResponseWithData(uds.ErrCodeExecutionFailed, err.Error(), result)
		}
		return uds.ErrorResponseWithData(uds.ErrCodeExecutionFailed, fmt.Sprintf("could not run %s: %v", cmd, err), result)
	}
	return uds.SuccessResponse(result)
}

func (d *Daemon) handleCancel(context.Context, *uds.Request) *uds.Response {
	label := d.queue.Snapshot().Running
	cancelled := d.queue.Cancel()
	if !cancelled {
		label = ""
	}
	d.logger.Info("cancel requested", "cancelled", cancelled, "label", label)
	return uds.SuccessResponse(model.CancelResult{Cancelled: cancelled, Label: label})
}

func (d *Daemon) handleStatus(context.Context, *uds.Request) *uds.Response {
	return uds.SuccessResponse(d.status())
}

func (d *Daemon) status() model.StatusResult {
	result := model.StatusResult{
		PID:   os.Getpid(),
		Queue: d.queue.Snapshot(),
	}
	if in, ok := d.detector.Last(); ok {
		result.Detection = in.Status()
	}
	if p := d.currentProject(); p != nil {
		result.Project = p.Status()
	}
	return result
}

func (d *Daemon) handleDetect(ctx context.Context, _ *uds.Request) *uds.Response {
	in, err := d.detector.Detect(ctx)
	if err != nil {
		if d.ctx.Err() != nil {
			return uds.ErrorResponse(uds.ErrCodeShuttingDown, errShuttingDown.Error())
		}
		return uds.ErrorResponse(uds.ErrCodeCancelled, err.Error())
	}
	return uds.SuccessResponse(in.Status())
}

// handleWait blocks until the queue has drained.
func (d *Daemon) handleWait(ctx context.Context, _ *uds.Request) *uds.Response {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(d.config.Daemon.ExecuteTimeoutSec)*time.Second)
	defer cancel()

	if err := d.queue.WaitIdle(ctx); err != nil {
		if d.ctx.Err() != nil {
			return uds.ErrorResponse(uds.ErrCodeShuttingDown, errShuttingDown.Error())
		}
		return uds.ErrorResponse(uds.ErrCodeCancelled, err.Error())
	}
	return uds.SuccessResponse(d.queue.Snapshot())
}
