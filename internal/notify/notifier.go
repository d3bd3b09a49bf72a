package notify

import (
	"github.com/msageha/dbtpilot/internal/events"
	"github.com/msageha/dbtpilot/internal/log"
)

// DefaultTitle heads every notification.
const DefaultTitle = "dbtpilot"

// Notifier surfaces messages to the user. Errors are always logged and
// published as command_error; desktop delivery is optional and its failures
// are never fatal.
type Notifier struct {
	title   string
	desktop bool
	bus     *events.Bus
	send    func(title, message string) error
	logger  log.Logger
}

// NewNotifier returns a Notifier. When desktop is false only the log and the
// bus are used.
func NewNotifier(desktop bool, bus *events.Bus) *Notifier {
	return &Notifier{
		title:   DefaultTitle,
		desktop: desktop,
		bus:     bus,
		send:    Send,
		logger:  log.WithName("notify"),
	}
}

// NotifyError reports a failed command.
func (n *Notifier) NotifyError(label, message string) {
	n.logger.Warn(message, "label", label)
	if n.bus != nil {
		n.bus.Publish(events.EventCommandError, map[string]any{
			"label":   label,
			"message": message,
		})
	}
	n.deliver(n.title+": error", message)
}

// Info shows an informational message.
func (n *Notifier) Info(message string) {
	n.logger.Info(message)
	n.deliver(n.title, message)
}

func (n *Notifier) deliver(title, message string) {
	if !n.desktop {
		return
	}
	if err := n.send(title, message); err != nil {
		n.logger.Debug("desktop notification failed", "error", err.Error())
	}
}
