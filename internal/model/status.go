package model

// QueueState is the state of the single-flight command queue.
type QueueState string

const (
	QueueStateIdle    QueueState = "idle"
	QueueStateRunning QueueState = "running"
)

// Outcome is how a dequeued command finished.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// IsValid reports whether o is one of the known outcomes.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeCancelled:
		return true
	}
	return false
}
