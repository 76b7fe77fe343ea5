package observability

import "sync"

// Metrics provides counters, gauges, and histogram recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string)       {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)         {}

// ReplayMetricsSnapshot captures replay-focused runtime counters.
type ReplayMetricsSnapshot struct {
	EventsReplayed map[string]int `json:"events_replayed"`
	StaleUpdates   int            `json:"stale_updates"`
	RunsCompleted  int            `json:"runs_completed"`
	RunsFailed     int            `json:"runs_failed"`
}

// RuntimeMetrics accumulates replay metrics in-memory for periodic export.
type RuntimeMetrics struct {
	mu     sync.Mutex
	replay ReplayMetricsSnapshot
}

// NewRuntimeMetrics constructs a metrics accumulator with empty maps.
func NewRuntimeMetrics() *RuntimeMetrics {
	metrics := new(RuntimeMetrics)
	metrics.replay = ReplayMetricsSnapshot{
		EventsReplayed: make(map[string]int),
	}
	return metrics
}

// IncrementEventsReplayed counts one replayed market event for an instrument.
func (m *RuntimeMetrics) IncrementEventsReplayed(instrument string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replay.EventsReplayed[instrument]++
}

// IncrementStaleUpdates counts one ignored stale order update.
func (m *RuntimeMetrics) IncrementStaleUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replay.StaleUpdates++
}

// IncrementRunsCompleted counts one finished backtest run.
func (m *RuntimeMetrics) IncrementRunsCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replay.RunsCompleted++
}

// IncrementRunsFailed counts one backtest run aborted by a fatal error.
func (m *RuntimeMetrics) IncrementRunsFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replay.RunsFailed++
}

// Snapshot copies the current replay metrics state for reporting.
func (m *RuntimeMetrics) Snapshot() ReplayMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := ReplayMetricsSnapshot{
		EventsReplayed: make(map[string]int, len(m.replay.EventsReplayed)),
		StaleUpdates:   m.replay.StaleUpdates,
		RunsCompleted:  m.replay.RunsCompleted,
		RunsFailed:     m.replay.RunsFailed,
	}
	for k, v := range m.replay.EventsReplayed {
		snapshot.EventsReplayed[k] = v
	}
	return snapshot
}
