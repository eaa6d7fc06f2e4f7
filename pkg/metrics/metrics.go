// Package metrics defines the Collector interface the engine reports
// through and a Prometheus-backed implementation.
package metrics

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// Stats is a point-in-time snapshot of the engine's operational counters
// (spec §9 supplemented feature, grounded on pylsm's db.py counters), so
// callers can read DB.Stats() without holding a Prometheus client.
type Stats struct {
	BytesWritten         int64
	BytesRead            int64
	KeysWritten          int64
	CompactionsRun       int64
	FlushesRun           int64
	BloomFalsePositives  int64
	BloomTrueNegatives   int64
	L0FileCount          int
	PerLevelFileCount    []int
	PerLevelBytes        []int64
}
