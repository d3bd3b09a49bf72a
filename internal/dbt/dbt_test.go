package dbt

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/dbtpilot/internal/events"
	"github.com/msageha/dbtpilot/internal/process"
	"github.com/msageha/dbtpilot/internal/pyenv"
	"github.com/msageha/dbtpilot/internal/queue"
)

const fakeDBT = `#!/bin/sh
case "$1" in
  --version)
    printf 'Core:\n  - installed: 1.7.4\n  - latest:    1.8.0\n'
    ;;
  fail)
    echo "Compilation Error in model orders" >&2
    exit 1
    ;;
  *)
    echo "ran $*"
    ;;
esac
`

type fakeTerminal struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	shown []bool
}

func (f *fakeTerminal) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.Write(p)
}

func (f *fakeTerminal) Log(line string) error {
	_, err := f.Write([]byte(line + "\n"))
	return err
}

func (f *fakeTerminal) Show(focus bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, focus)
}

func (f *fakeTerminal) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

type recordingSubmitter struct {
	cmds []queue.Command
}

func (r *recordingSubmitter) Submit(cmd queue.Command) {
	r.cmds = append(r.cmds, cmd)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) NotifyError(_, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

// fakeEnv installs python and the fake dbt script into a temporary venv.
func fakeEnv(t *testing.T) pyenv.Environment {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, os.MkdirAll(bin, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "python"), []byte("#!/bin/sh\n"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, Executable), []byte(fakeDBT), 0755))
	return pyenv.Environment{PythonPath: filepath.Join(bin, "python"), EnvVars: map[string]string{}}
}

func TestCommand(t *testing.T) {
	cmd := NewCommand("Running dbt model...", true, "run", "--select")
	cmd.AddArgument("+orders")

	assert.Equal(t, "dbt run --select +orders", cmd.String())
	assert.True(t, cmd.Focus)
	assert.Equal(t, "dbt --version", VersionCommand().String())
}

func TestExecuteCommand_EnvironmentUnavailable(t *testing.T) {
	term := &fakeTerminal{}
	sub := &recordingSubmitter{}
	infra := NewInfrastructure(sub, process.NewFactory(), term, pyenv.Environment{}, t.TempDir())

	exec, err := infra.ExecuteCommand(context.Background(), NewCommand("Debugging...", true, "debug"))
	assert.Nil(t, exec)
	assert.ErrorIs(t, err, ErrPythonEnvironmentUnavailable)
	assert.Empty(t, sub.cmds, "immediate execution never enqueues")
	assert.Contains(t, term.String(), "> Executing task: dbt debug")
	assert.Equal(t, []bool{true}, term.shown)
}

func TestExecuteCommand_ReturnsCompletedProcess(t *testing.T) {
	term := &fakeTerminal{}
	dir := t.TempDir()
	infra := NewInfrastructure(&recordingSubmitter{}, process.NewFactory(), term, fakeEnv(t), dir)

	exec, err := infra.ExecuteCommand(context.Background(), NewCommand("Listing...", false, "ls", "--resource-type", "model"))
	require.NoError(t, err)
	assert.Equal(t, dir, exec.Spec().Dir)
	assert.Empty(t, term.shown, "background commands do not reveal the terminal")

	res, err := exec.Complete()
	require.NoError(t, err)
	assert.Equal(t, "ran ls --resource-type model\n", res.Stdout)
}

func TestAddCommandToQueue(t *testing.T) {
	term := &fakeTerminal{}
	notifier := &recordingNotifier{}
	q := queue.New(queue.WithNotifier(notifier))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-q.Done()
	}()
	q.Start(ctx)

	infra := NewInfrastructure(q, process.NewFactory(), term, fakeEnv(t), t.TempDir())

	id := infra.AddCommandToQueue(NewCommand("Compiling dbt models...", true, "compile"))
	infra.AddCommandToQueue(NewCommand("Running broken model...", false, "fail"))
	infra.AddCommandToQueue(NewCommand("Building...", false, "build"))
	assert.NotEmpty(t, id)

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	require.NoError(t, q.WaitIdle(waitCtx))

	out := term.String()
	compileAt := strings.Index(out, "ran compile")
	buildAt := strings.Index(out, "ran build")
	require.GreaterOrEqual(t, compileAt, 0)
	require.Greater(t, buildAt, compileAt, "commands run in submission order")
	assert.Contains(t, out, "> Executing task: dbt fail")
	assert.Contains(t, out, "Compilation Error in model orders")

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.messages, 1)
	assert.True(t, strings.HasPrefix(notifier.messages[0], "Could not run command 'Running broken model...': "))
	assert.Contains(t, notifier.messages[0], "exited with code 1")

	counters := q.Snapshot().Counters
	assert.Equal(t, uint64(2), counters.Succeeded)
	assert.Equal(t, uint64(1), counters.Failed)
}

func TestAddCommandToQueue_EnvironmentErrorIsIsolated(t *testing.T) {
	term := &fakeTerminal{}
	sub := &recordingSubmitter{}
	infra := NewInfrastructure(sub, process.NewFactory(), term, pyenv.Environment{}, t.TempDir())

	infra.AddCommandToQueue(NewCommand("Running...", false, "run"))
	require.Len(t, sub.cmds, 1)

	err := sub.cmds[0].Action(context.Background())
	assert.True(t, errors.Is(err, ErrPythonEnvironmentUnavailable))
}

func TestDetector_Detect(t *testing.T) {
	bus := events.NewBus(8)
	defer bus.Close()

	var mu sync.Mutex
	var published []map[string]any
	unsub := bus.Subscribe(events.EventDBTDetection, func(e events.Event) {
		mu.Lock()
		published = append(published, e.Data)
		mu.Unlock()
	})
	defer unsub()

	infra := NewInfrastructure(&recordingSubmitter{}, process.NewFactory(), &fakeTerminal{}, fakeEnv(t), t.TempDir())
	d := NewDetector(infra, bus)

	_, ok := d.Last()
	assert.False(t, ok)

	var wg sync.WaitGroup
	results := make([]Installation, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in, err := d.Detect(context.Background())
			assert.NoError(t, err)
			results[i] = in
		}(i)
	}
	wg.Wait()

	for _, in := range results {
		assert.True(t, in.PythonInstalled)
		assert.True(t, in.DBTInstalled)
		assert.Equal(t, "1.7.4", in.Version)
	}

	last, ok := d.Last()
	require.True(t, ok)
	assert.Equal(t, "1.7.4", last.Status().Version)
	assert.NotEmpty(t, last.Status().CheckedAt)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, data := range published {
			if data["in_progress"] == false && data["installed"] == true {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestDetector_NotInstalled(t *testing.T) {
	infra := NewInfrastructure(&recordingSubmitter{}, process.NewFactory(), &fakeTerminal{}, pyenv.Environment{}, t.TempDir())
	d := NewDetector(infra, nil)

	in, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.False(t, in.PythonInstalled)
	assert.False(t, in.DBTInstalled)
	assert.Contains(t, in.Error, ErrPythonEnvironmentUnavailable.Error())
	assert.Equal(t, in.Error, in.Status().Error)
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{name: "dbt 1.x", output: "Core:\n  - installed: 1.7.4\n  - latest:    1.8.0 - Update available!\n", want: "1.7.4"},
		{name: "legacy", output: "installed version: 0.21.0\n   latest version: 1.0.0\n", want: "0.21.0"},
		{name: "prerelease", output: "Core:\n  - installed: 1.8.0b1\n", want: "1.8.0b1"},
		{name: "garbage", output: "command not found", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVersion(tt.output))
		})
	}
}
