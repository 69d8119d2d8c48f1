package sessionstore

import "testing"

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.Inc(MetricSessionCreated)
	m.Inc(MetricSessionCreated)
	m.Add(MetricSessionSwept, 5)

	if got := m.Get(MetricSessionCreated); got != 2 {
		t.Fatalf("created = %d, want 2", got)
	}
	snap := m.Snapshot()
	if snap[MetricSessionSwept] != 5 {
		t.Fatalf("swept = %d, want 5", snap[MetricSessionSwept])
	}
	if snap[MetricSessionDeleted] != 0 {
		t.Fatalf("deleted = %d, want 0", snap[MetricSessionDeleted])
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	m.Inc(MetricSessionCreated)
	if got := m.Get(MetricSessionCreated); got != 0 {
		t.Fatalf("nil metrics must record nothing, got %d", got)
	}
	if snap := m.Snapshot(); len(snap) != 0 {
		t.Fatalf("nil snapshot must be empty, got %v", snap)
	}
}
