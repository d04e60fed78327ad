package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordsTaskCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegisterer(reg)

	m.RecordTaskClaimed("researcher")
	m.RecordTaskCompleted("researcher")
	m.RecordTaskFailed("researcher", "executor_transient")
	m.RecordTaskFailed("researcher", "executor_transient")

	if got := testutil.ToFloat64(m.tasksClaimed.WithLabelValues("researcher")); got != 1 {
		t.Fatalf("expected tasksClaimed = 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.tasksCompleted.WithLabelValues("researcher")); got != 1 {
		t.Fatalf("expected tasksCompleted = 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.tasksFailed.WithLabelValues("researcher", "executor_transient")); got != 2 {
		t.Fatalf("expected tasksFailed = 2, got %v", got)
	}
}

func TestMetricsRecordsJanitorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegisterer(reg)

	m.RecordZombieRecovered()
	m.RecordZombieRecovered()
	m.RecordEventsPurged(5)

	if got := testutil.ToFloat64(m.zombiesRecovered); got != 2 {
		t.Fatalf("expected zombiesRecovered = 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.eventsPurged); got != 5 {
		t.Fatalf("expected eventsPurged = 5, got %v", got)
	}
}

func TestMetricsRecordsPhaseDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegisterer(reg)

	m.ObservePhaseDuration("researcher", "executing", 0.5)

	count := testutil.CollectAndCount(m.phaseDuration)
	if count != 1 {
		t.Fatalf("expected one histogram series, got %d", count)
	}
}
