package queue

import (
	"context"
)

// Location says where the progress of a command is shown.
type Location string

const (
	// LocationWindow is the quiet, background indicator.
	LocationWindow Location = "window"
	// LocationNotification interrupts the user with a modal indicator.
	LocationNotification Location = "notification"
)

// Action is the work behind a Command. ctx is cancelled when the user asks to
// cancel the command; honouring it is up to the action. The returned error is
// the completion signal.
type Action func(ctx context.Context) error

// Command is a unit of work accepted by the Queue.
type Command struct {
	// ID is assigned on Submit when empty.
	ID     string
	Label  string
	Focus  bool
	Action Action
}

// Location derives the progress location from the focus flag. It never
// affects ordering.
func (c Command) Location() Location {
	if c.Focus {
		return LocationNotification
	}
	return LocationWindow
}

// ProgressReporter shows a command while it runs.
type ProgressReporter interface {
	Begin(cmd Command, loc Location)
	End(cmd Command, loc Location, outcome Outcome)
}

// ErrorNotifier surfaces a failed command to the user.
type ErrorNotifier interface {
	NotifyError(label, message string)
}

type nopProgress struct{}

func (nopProgress) Begin(Command, Location)          {}
func (nopProgress) End(Command, Location, Outcome) {}
