// Package progress shows queued commands while they run.
package progress

import (
	"time"

	"github.com/msageha/dbtpilot/internal/events"
	"github.com/msageha/dbtpilot/internal/log"
	"github.com/msageha/dbtpilot/internal/queue"
)

// Announcer raises a user-facing message.
type Announcer interface {
	Info(message string)
}

// Reporter publishes command_progress events for every command. Commands at
// queue.LocationNotification are also announced to the user; window-located
// ones stay in the background.
type Reporter struct {
	bus       *events.Bus
	announcer Announcer
	logger    log.Logger
	now       func() time.Time
}

// NewReporter returns a Reporter. Either argument may be nil.
func NewReporter(bus *events.Bus, announcer Announcer) *Reporter {
	return &Reporter{
		bus:       bus,
		announcer: announcer,
		logger:    log.WithName("progress"),
		now:       time.Now,
	}
}

var _ queue.ProgressReporter = (*Reporter)(nil)

// Begin implements queue.ProgressReporter.
func (r *Reporter) Begin(cmd queue.Command, loc queue.Location) {
	r.logger.Debug("progress begin", "label", cmd.Label, "location", string(loc))
	if loc == queue.LocationNotification && r.announcer != nil {
		r.announcer.Info(cmd.Label)
	}
	r.publish(cmd, loc, map[string]any{"phase": "begin", "cancellable": true})
}

// End implements queue.ProgressReporter.
func (r *Reporter) End(cmd queue.Command, loc queue.Location, outcome queue.Outcome) {
	r.logger.Debug("progress end", "label", cmd.Label, "location", string(loc), "outcome", string(outcome))
	r.publish(cmd, loc, map[string]any{"phase": "end", "outcome": string(outcome)})
}

func (r *Reporter) publish(cmd queue.Command, loc queue.Location, data map[string]any) {
	if r.bus == nil {
		return
	}
	data["command_id"] = cmd.ID
	data["label"] = cmd.Label
	data["location"] = string(loc)
	data["at"] = r.now().UTC().Format(time.RFC3339Nano)
	r.bus.Publish(events.EventCommandProgress, data)
}
