// Package queue serializes commands so that at most one runs at a time, in
// the order they were submitted.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/msageha/dbtpilot/internal/events"
	"github.com/msageha/dbtpilot/internal/log"
	"github.com/msageha/dbtpilot/internal/model"
)

// Outcome aliases model.Outcome so callers of this package need not import model.
type Outcome = model.Outcome

const (
	eventStart  = "start"
	eventFinish = "finish"
)

// ErrNoAction is reported for commands submitted without an Action.
var ErrNoAction = errors.New("command has no action")

// Queue is a single-flight FIFO runner. One consumer goroutine, started by
// Start, drains the pending list; Submit only appends and wakes it.
type Queue struct {
	mu       sync.Mutex
	pending  []Command
	current  *Command
	cancel   context.CancelFunc
	counters model.QueueCounters
	busy     bool
	idle     chan struct{}
	stopped  bool

	wake    chan struct{}
	machine *fsm.FSM

	startOnce sync.Once
	done      chan struct{}

	progress ProgressReporter
	notifier ErrorNotifier
	bus      *events.Bus
	logger   log.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithProgress sets the reporter shown around every action.
func WithProgress(p ProgressReporter) Option {
	return func(q *Queue) { q.progress = p }
}

// WithNotifier sets where failures are surfaced.
func WithNotifier(n ErrorNotifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithBus publishes lifecycle events on bus.
func WithBus(bus *events.Bus) Option {
	return func(q *Queue) { q.bus = bus }
}

// WithLogger overrides the package logger.
func WithLogger(l log.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New returns an idle queue. Commands are accepted immediately but only run
// once Start has been called.
func New(opts ...Option) *Queue {
	q := &Queue{
		wake:     make(chan struct{}, 1),
		idle:     make(chan struct{}),
		done:     make(chan struct{}),
		progress: nopProgress{},
		logger:   log.WithName("queue"),
	}
	close(q.idle)

	for _, opt := range opts {
		opt(q)
	}

	q.machine = fsm.NewFSM(
		string(model.QueueStateIdle),
		fsm.Events{
			{Name: eventStart, Src: []string{string(model.QueueStateIdle)}, Dst: string(model.QueueStateRunning)},
			{Name: eventFinish, Src: []string{string(model.QueueStateRunning)}, Dst: string(model.QueueStateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				q.logger.Debug("queue state changed", "from", e.Src, "to", e.Dst)
			},
		},
	)
	return q
}

// Start launches the consumer. Cancelling ctx cancels the in-flight action,
// waits for it to return and drops whatever is still pending.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		go q.run(ctx)
	})
}

// Done is closed once the consumer started by Start has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Submit appends cmd to the tail of the queue. It never blocks.
func (q *Queue) Submit(cmd Command) {
	if cmd.ID == "" {
		cmd.ID = model.MustGenerateID(model.IDTypeCommand)
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.logger.Warn("queue stopped, command dropped", "id", cmd.ID, "label", cmd.Label)
		return
	}
	q.pending = append(q.pending, cmd)
	q.counters.Submitted++
	if !q.busy {
		q.busy = true
		q.idle = make(chan struct{})
	}
	position := len(q.pending)
	q.mu.Unlock()

	q.logger.Debug("command queued", "id", cmd.ID, "label", cmd.Label, "position", position)
	q.publish(events.EventCommandQueued, cmd, map[string]any{"position": position})

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Cancel fires the cancellation token of the in-flight command. It is
// advisory: the queue keeps waiting for the action to return. Pending
// commands are never affected. It reports false when nothing is running.
func (q *Queue) Cancel() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil || q.cancel == nil {
		return false
	}
	q.logger.Info("cancellation requested", "id", q.current.ID, "label", q.current.Label)
	q.cancel()
	return true
}

// State reports whether an action is in flight.
func (q *Queue) State() model.QueueState {
	return model.QueueState(q.machine.Current())
}

// Len is the number of commands waiting behind the in-flight one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Snapshot returns a consistent copy of the queue state.
func (q *Queue) Snapshot() model.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := model.QueueStatus{
		State:    model.QueueState(q.machine.Current()),
		Pending:  make([]string, 0, len(q.pending)),
		Counters: q.counters,
	}
	if q.current != nil {
		s.Running = q.current.Label
	}
	for _, c := range q.pending {
		s.Pending = append(s.Pending, c.Label)
	}
	return s
}

// WaitIdle blocks until nothing is running and nothing is pending.
func (q *Queue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	q.logger.Info("queue consumer started")

	for {
		if ctx.Err() != nil {
			q.stop()
			return
		}

		cmd, cmdCtx, ok := q.next(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				q.stop()
				return
			case <-q.wake:
			}
			continue
		}
		q.execute(cmdCtx, cmd)
	}
}

// next dequeues the head and moves the machine to running before the action
// starts.
func (q *Queue) next(ctx context.Context) (Command, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil || len(q.pending) == 0 {
		return Command{}, nil, false
	}

	cmd := q.pending[0]
	q.pending[0] = Command{}
	q.pending = q.pending[1:]

	cmdCtx, cancel := context.WithCancel(ctx)
	q.current = &cmd
	q.cancel = cancel
	if err := q.machine.Event(context.Background(), eventStart); err != nil {
		q.logger.Error(err, "queue transition failed", "event", eventStart)
	}
	return cmd, cmdCtx, true
}

func (q *Queue) execute(ctx context.Context, cmd Command) {
	loc := cmd.Location()
	started := time.Now()

	q.logger.Info("command started", "id", cmd.ID, "label", cmd.Label, "location", string(loc))
	q.publish(events.EventCommandStarted, cmd, map[string]any{"location": string(loc)})
	q.progress.Begin(cmd, loc)

	err := invoke(ctx, cmd)

	outcome := model.OutcomeSucceeded
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		outcome = model.OutcomeCancelled
	default:
		outcome = model.OutcomeFailed
	}

	q.progress.End(cmd, loc, outcome)

	duration := time.Since(started)
	data := map[string]any{
		"outcome":     string(outcome),
		"duration_ms": duration.Milliseconds(),
	}

	switch outcome {
	case model.OutcomeFailed:
		q.logger.Error(err, "command failed", "id", cmd.ID, "label", cmd.Label, "duration", duration)
		data["error"] = err.Error()
		if q.notifier != nil {
			q.notifier.NotifyError(cmd.Label, FailureMessage(cmd.Label, err))
		}
	case model.OutcomeCancelled:
		q.logger.Info("command cancelled", "id", cmd.ID, "label", cmd.Label, "duration", duration)
	default:
		q.logger.Info("command succeeded", "id", cmd.ID, "label", cmd.Label, "duration", duration)
	}
	q.publish(events.EventCommandCompleted, cmd, data)
	q.finish(outcome)
}

// finish clears the in-flight slot and returns the machine to idle.
func (q *Queue) finish(outcome model.Outcome) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	q.current = nil
	q.cancel = nil

	switch outcome {
	case model.OutcomeSucceeded:
		q.counters.Succeeded++
	case model.OutcomeFailed:
		q.counters.Failed++
	case model.OutcomeCancelled:
		q.counters.Cancelled++
	}

	if err := q.machine.Event(context.Background(), eventFinish); err != nil {
		q.logger.Error(err, "queue transition failed", "event", eventFinish)
	}
	q.markIdleLocked()
}

func (q *Queue) stop() {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.stopped = true
	q.markIdleLocked()
	q.mu.Unlock()

	for _, cmd := range dropped {
		q.logger.Warn("queue stopped, pending command dropped", "id", cmd.ID, "label", cmd.Label)
		q.publish(events.EventCommandCompleted, cmd, map[string]any{
			"outcome": string(model.OutcomeCancelled),
			"dropped": true,
		})
	}
	q.logger.Info("queue consumer stopped", "dropped", len(dropped))
}

func (q *Queue) markIdleLocked() {
	if q.busy && q.current == nil && len(q.pending) == 0 {
		q.busy = false
		close(q.idle)
	}
}

func (q *Queue) publish(t events.EventType, cmd Command, data map[string]any) {
	if q.bus == nil {
		return
	}
	if data == nil {
		data = make(map[string]any, 3)
	}
	data["command_id"] = cmd.ID
	data["label"] = cmd.Label
	data["focus"] = cmd.Focus
	q.bus.Publish(t, data)
}

// invoke runs the action, turning a panic into an error.
func invoke(ctx context.Context, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if cmd.Action == nil {
		return ErrNoAction
	}
	return cmd.Action(ctx)
}

// FailureMessage is the text shown to the user when a command fails.
func FailureMessage(label string, err error) string {
	return fmt.Sprintf("Could not run command '%s': %v.", label, err)
}
