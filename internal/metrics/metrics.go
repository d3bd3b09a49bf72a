// Package metrics exposes queue metrics in the Prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/msageha/dbtpilot/internal/events"
	"github.com/msageha/dbtpilot/internal/model"
)

const namespace = "dbtpilot"

// Metrics owns a private registry so tests and multiple daemons in one
// process never collide.
type Metrics struct {
	registry *prometheus.Registry

	commands   *prometheus.CounterVec
	duration   prometheus.Histogram
	detections *prometheus.CounterVec
}

// New registers the command collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Commands that left the queue, by outcome.",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Wall time of queued dbt commands.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
		),
		detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dbt_detections_total",
				Help:      "Completed dbt installation checks, by result.",
			},
			[]string{"installed"},
		),
	}
	m.registry.MustRegister(m.commands, m.duration, m.detections)
	return m
}

// Registry is the registry every collector lives in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveQueue exports the pending and running gauges, read from snapshot
// at scrape time.
func (m *Metrics) ObserveQueue(snapshot func() model.QueueStatus) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Commands waiting behind the in-flight one.",
		}, func() float64 {
			return float64(len(snapshot().Pending))
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_running",
			Help:      "1 while a command is in flight.",
		}, func() float64 {
			if snapshot().State == model.QueueStateRunning {
				return 1
			}
			return 0
		}),
	)
}

// Attach feeds the counters from bus.
func (m *Metrics) Attach(bus *events.Bus) func() {
	unsubCompleted := bus.Subscribe(events.EventCommandCompleted, m.observeCompleted)
	unsubDetection := bus.Subscribe(events.EventDBTDetection, m.observeDetection)
	return func() {
		unsubCompleted()
		unsubDetection()
	}
}

func (m *Metrics) observeCompleted(e events.Event) {
	outcome, _ := e.Data["outcome"].(string)
	if !model.Outcome(outcome).IsValid() {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()

	if dropped, _ := e.Data["dropped"].(bool); dropped {
		return
	}
	if ms, ok := e.Data["duration_ms"].(int64); ok {
		m.duration.Observe(float64(ms) / 1000)
	}
}

func (m *Metrics) observeDetection(e events.Event) {
	if inProgress, _ := e.Data["in_progress"].(bool); inProgress {
		return
	}
	installed, _ := e.Data["installed"].(bool)
	if installed {
		m.detections.WithLabelValues("true").Inc()
	} else {
		m.detections.WithLabelValues("false").Inc()
	}
}
