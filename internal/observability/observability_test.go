package observability

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
	fields  [][]Field
}

func (l *recordingLogger) record(msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, msg)
	l.fields = append(l.fields, fields)
}

func (l *recordingLogger) Debug(msg string, fields ...Field) { l.record(msg, fields) }
func (l *recordingLogger) Info(msg string, fields ...Field)  { l.record(msg, fields) }
func (l *recordingLogger) Error(msg string, fields ...Field) { l.record(msg, fields) }

func TestSetLoggerNilRestoresNoop(t *testing.T) {
	logger := new(recordingLogger)
	SetLogger(logger)
	defer SetLogger(nil)

	Log().Info("hello")
	if len(logger.entries) != 1 || logger.entries[0] != "hello" {
		t.Fatalf("entries = %v", logger.entries)
	}

	SetLogger(nil)
	Log().Info("dropped")
	if len(logger.entries) != 1 {
		t.Fatalf("noop logger must swallow entries: %v", logger.entries)
	}
}

func TestAggregateErrorsFiltersNilAndLogs(t *testing.T) {
	logger := new(recordingLogger)
	SetLogger(logger)
	defer SetLogger(nil)

	if err := AggregateErrors("batch", []error{nil, nil}); err != nil {
		t.Fatalf("all-nil input must aggregate to nil, got %v", err)
	}
	if len(logger.entries) != 0 {
		t.Fatalf("no log entry expected for the nil case")
	}

	first := errors.New("first")
	second := errors.New("second")
	err := AggregateErrors("batch", []error{first, nil, second})
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("joined error lost a member: %v", err)
	}
	if !strings.Contains(err.Error(), "batch failed") {
		t.Fatalf("error = %v", err)
	}
	if len(logger.entries) != 1 {
		t.Fatalf("entries = %v", logger.entries)
	}
}

func TestRuntimeMetricsSnapshotCopies(t *testing.T) {
	metrics := NewRuntimeMetrics()
	metrics.IncrementEventsReplayed("BTC-USDT")
	metrics.IncrementEventsReplayed("BTC-USDT")
	metrics.IncrementStaleUpdates()
	metrics.IncrementRunsCompleted()

	snapshot := metrics.Snapshot()
	if snapshot.EventsReplayed["BTC-USDT"] != 2 || snapshot.StaleUpdates != 1 || snapshot.RunsCompleted != 1 {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	// mutating the snapshot must not leak back into the accumulator
	snapshot.EventsReplayed["BTC-USDT"] = 99
	if metrics.Snapshot().EventsReplayed["BTC-USDT"] != 2 {
		t.Fatalf("snapshot shares state with the accumulator")
	}
}
