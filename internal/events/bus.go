// Package events carries queue and daemon notifications between components.
package events

import (
	"sync"
	"time"

	"github.com/msageha/dbtpilot/internal/log"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventCommandQueued is published when a command is appended to the queue.
	EventCommandQueued EventType = "command_queued"
	// EventCommandStarted is published when the consumer dequeues a command.
	EventCommandStarted EventType = "command_started"
	// EventCommandCompleted is published once per dequeued command, whatever the outcome.
	EventCommandCompleted EventType = "command_completed"
	// EventCommandProgress is published by progress reporters on begin and end.
	EventCommandProgress EventType = "command_progress"
	// EventCommandError is published when a failure is surfaced to the user.
	EventCommandError EventType = "command_error"
	// EventTerminalShow asks clients to reveal the dbt terminal output.
	EventTerminalShow EventType = "terminal_show"
	// EventDBTDetection is published after each dbt installation check.
	EventDBTDetection EventType = "dbt_detection"
	// EventProjectReloaded is published when dbt_project.yml is re-read.
	EventProjectReloaded EventType = "project_reloaded"
)

// CommandEventTypes lists the event types describing the queue lifecycle.
var CommandEventTypes = []EventType{
	EventCommandQueued,
	EventCommandStarted,
	EventCommandCompleted,
	EventCommandError,
}

// Event represents a system event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe hub.
// Each subscriber owns a buffered channel drained by its own goroutine; when
// the channel is full the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	logger      log.Logger
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
		logger:      log.WithName("events"),
	}
}

// Subscribe registers fn for eventType and returns the unsubscribe function.
// fn runs on a dedicated goroutine; a panic inside fn is logged and swallowed.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			b.deliver(fn, event)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// SubscribeMany registers fn for every type in eventTypes.
func (b *Bus) SubscribeMany(eventTypes []EventType, fn Subscriber) func() {
	unsubs := make([]func(), 0, len(eventTypes))
	for _, t := range eventTypes {
		unsubs = append(unsubs, b.Subscribe(t, fn))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (b *Bus) deliver(fn Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("subscriber panicked", "event", string(event.Type), "panic", r)
		}
	}()
	fn(event)
}

// Publish sends an event to all subscribers of the given type without blocking.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("subscriber channel full, event dropped", "event", string(eventType))
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
