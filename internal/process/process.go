// Package process runs external tools bound to a cancellation token.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/msageha/dbtpilot/internal/log"
)

// DefaultKillDelay is how long a cancelled process may take to exit after
// being interrupted before it is killed.
const DefaultKillDelay = 5 * time.Second

const stderrTailBytes = 2048

// Spec describes a process to run.
type Spec struct {
	Command string
	Args    []string
	// Env is laid over the daemon's own environment.
	Env map[string]string
	Dir string
}

// String renders the command line for logs and terminal output.
func (s Spec) String() string {
	return strings.Join(append([]string{s.Command}, s.Args...), " ")
}

// Result is a completed process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Factory creates executions.
type Factory struct {
	KillDelay time.Duration
	logger    log.Logger
}

// NewFactory returns a Factory using DefaultKillDelay.
func NewFactory() *Factory {
	return &Factory{
		KillDelay: DefaultKillDelay,
		logger:    log.WithName("process"),
	}
}

// New describes a process bound to ctx. Nothing runs until Complete or
// CompleteWithTerminalOutput is called.
func (f *Factory) New(ctx context.Context, spec Spec) *Execution {
	return &Execution{ctx: ctx, spec: spec, factory: f}
}

// Execution is a lazily started process.
type Execution struct {
	ctx     context.Context
	spec    Spec
	factory *Factory
}

// Spec returns what the execution runs.
func (e *Execution) Spec() Spec {
	return e.spec
}

// Complete runs the process and buffers its output.
func (e *Execution) Complete() (Result, error) {
	return e.run(nil, nil)
}

// CompleteWithTerminalOutput runs the process, streaming its output line by
// line into sink. Output is buffered in the Result as well.
func (e *Execution) CompleteWithTerminalOutput(sink io.Writer) (Result, error) {
	if sink == nil {
		return e.run(nil, nil)
	}
	shared := &syncWriter{w: sink}
	out := &lineWriter{w: shared}
	errOut := &lineWriter{w: shared}
	res, err := e.run(out, errOut)
	for _, lw := range []*lineWriter{out, errOut} {
		if ferr := lw.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("write terminal output: %w", ferr)
		}
	}
	return res, err
}

func (e *Execution) run(outSink, errSink io.Writer) (Result, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(e.ctx, e.spec.Command, e.spec.Args...)
	cmd.Dir = e.spec.Dir
	cmd.Env = mergeEnv(os.Environ(), e.spec.Env)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = e.factory.KillDelay

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if outSink != nil {
		cmd.Stdout = io.MultiWriter(&stdout, outSink)
	}
	if errSink != nil {
		cmd.Stderr = io.MultiWriter(&stderr, errSink)
	}

	line := e.spec.String()
	e.factory.logger.Debug("starting process", "command", line, "dir", e.spec.Dir)

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err == nil {
		e.factory.logger.Debug("process finished", "command", line, "duration", res.Duration)
		return res, nil
	}

	if ctxErr := e.ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", line, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{
			Command: line,
			Code:    exitErr.ExitCode(),
			Stderr:  tail(res.Stderr, stderrTailBytes),
		}
	}
	return res, fmt.Errorf("run %s: %w", line, err)
}

// mergeEnv returns base with overlay applied, overlay keys sorted.
func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}

	out := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overlay[key]; ok {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overlay[k])
	}
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return s
}
