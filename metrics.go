package sessionstore

import "sync/atomic"

// MetricID identifies one internal counter.
type MetricID uint16

const (
	// MetricSessionCreated counts successful Create calls.
	MetricSessionCreated MetricID = iota
	// MetricSessionUpdated counts successful Update / UpdateLastActive calls.
	MetricSessionUpdated
	// MetricSessionDeleted counts sessions removed by explicit delete paths.
	MetricSessionDeleted
	// MetricSessionLazyExpired counts sessions removed by lazy expiry on a
	// read path.
	MetricSessionLazyExpired
	// MetricSessionSwept counts sessions removed by DeleteExpired.
	MetricSessionSwept
	// MetricCreateConflict counts Create calls rejected on id collision.
	MetricCreateConflict
	// MetricBackendError counts operations failed by the underlying storage.
	MetricBackendError
	// MetricCorruptRecord counts reads that hit an undecodable record.
	MetricCorruptRecord

	metricCount
)

// Metrics is a fixed set of process-local atomic counters shared by all
// backends. A nil *Metrics is valid and records nothing, so wiring metrics
// is opt-in per store.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

// NewMetrics returns an empty counter set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc increments one counter. Safe on a nil receiver.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add increments one counter by n. Safe on a nil receiver.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || id >= metricCount {
		return
	}
	m.counters[id].Add(n)
}

// Get returns the current value of one counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id >= metricCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot returns a point-in-time copy of every counter. The snapshot is
// not atomic across counters; individual values are.
func (m *Metrics) Snapshot() map[MetricID]uint64 {
	out := make(map[MetricID]uint64, metricCount)
	if m == nil {
		return out
	}
	for id := MetricID(0); id < metricCount; id++ {
		out[id] = m.counters[id].Load()
	}
	return out
}
