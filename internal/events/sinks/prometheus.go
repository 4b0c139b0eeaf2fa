package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/bacpac-orchestrator/internal/events"
)

// PrometheusSink exports operation metrics. It owns the collectors for runs
// started, completed, running and their progress.
type PrometheusSink struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	running   *prometheus.GaugeVec
	runtime   *prometheus.HistogramVec
	percent   *prometheus.GaugeVec
	messages  *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bacpac_operations_started_total",
			Help: "Operations that entered Running.",
		}, []string{"kind"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bacpac_operations_completed_total",
			Help: "Operations that reached a terminal state, by result.",
		}, []string{"kind", "result"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bacpac_operations_running",
			Help: "Operations currently running.",
		}, []string{"kind"}),
		runtime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bacpac_operation_runtime_seconds",
			Help:    "Wall time per finished operation.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"kind", "result"}),
		percent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bacpac_operation_progress_percent",
			Help: "Last reported progress of the current operation.",
		}, []string{"kind"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bacpac_progress_messages_total",
			Help: "Engine diagnostic messages delivered to the activity log.",
		}, []string{"kind"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.started,
		s.completed,
		s.running,
		s.runtime,
		s.percent,
		s.messages,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register operation collector: %w", err)
		}
	}
	return s, nil
}

// Name implements events.Named.
func (s *PrometheusSink) Name() string { return "prometheus" }

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	kind := evt.Kind
	if delta := s.tracker.messages(evt.RunID, evt.Messages); delta > 0 {
		s.messages.WithLabelValues(kind).Add(float64(delta))
	}

	switch {
	case evt.Stage == events.StageStarted:
		s.started.WithLabelValues(kind).Inc()
		s.percent.WithLabelValues(kind).Set(evt.Percent)
		if s.tracker.start(evt.RunID) {
			s.running.WithLabelValues(kind).Inc()
		}
	case evt.Stage == events.StageProgress:
		s.percent.WithLabelValues(kind).Set(evt.Percent)
	case evt.Stage.Terminal():
		result := evt.Stage.Result()
		s.completed.WithLabelValues(kind, result).Inc()
		s.percent.WithLabelValues(kind).Set(evt.Percent)
		if evt.Dur > 0 {
			s.runtime.WithLabelValues(kind, result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.running.WithLabelValues(kind).Dec()
		}
	}
}

// Close implements events.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu       sync.Mutex
	running  map[[16]byte]struct{}
	lastSeen map[[16]byte]int64
}

func newRunTracker() *runTracker {
	return &runTracker{
		running:  make(map[[16]byte]struct{}),
		lastSeen: make(map[[16]byte]int64),
	}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSeen, id)
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

// messages returns how many messages were added since the last event of the
// same run.
func (t *runTracker) messages(id [16]byte, total int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	delta := total - t.lastSeen[id]
	if delta <= 0 {
		return 0
	}
	t.lastSeen[id] = total
	return delta
}
