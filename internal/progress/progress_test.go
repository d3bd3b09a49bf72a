package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/dbtpilot/internal/events"
	"github.com/msageha/dbtpilot/internal/model"
	"github.com/msageha/dbtpilot/internal/queue"
)

type recordingAnnouncer struct {
	mu       sync.Mutex
	messages []string
}

func (a *recordingAnnouncer) Info(message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
}

func TestReporter_NotificationIsAnnounced(t *testing.T) {
	ann := &recordingAnnouncer{}
	r := NewReporter(nil, ann)

	focused := queue.Command{Label: "Running dbt model...", Focus: true}
	background := queue.Command{Label: "Detecting dbt version..."}

	r.Begin(focused, focused.Location())
	r.End(focused, focused.Location(), model.OutcomeSucceeded)
	r.Begin(background, background.Location())
	r.End(background, background.Location(), model.OutcomeSucceeded)

	assert.Equal(t, []string{"Running dbt model..."}, ann.messages)
}

func TestReporter_PublishesProgress(t *testing.T) {
	bus := events.NewBus(8)
	defer bus.Close()

	var mu sync.Mutex
	var got []events.Event
	unsub := bus.Subscribe(events.EventCommandProgress, func(e events.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	defer unsub()

	r := NewReporter(bus, nil)
	cmd := queue.Command{ID: "cmd_1700000000_00000000", Label: "dbt build", Focus: true}
	r.Begin(cmd, cmd.Location())
	r.End(cmd, cmd.Location(), model.OutcomeCancelled)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "begin", got[0].Data["phase"])
	assert.Equal(t, "notification", got[0].Data["location"])
	assert.Equal(t, "end", got[1].Data["phase"])
	assert.Equal(t, "cancelled", got[1].Data["outcome"])
	assert.Equal(t, cmd.ID, got[1].Data["command_id"])
}
