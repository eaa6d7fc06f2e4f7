package db

import (
	"github.com/prometheus/client_golang/prometheus"

	"lsmdb/pkg/metrics"
)

// MetricsRegistry exposes the underlying Prometheus registry, if the
// configured collector is a *metrics.PromCollector, so a caller can wire it
// into its own /metrics handler. Returns nil for any other collector.
func (db *DB) MetricsRegistry() *prometheus.Registry {
	if pc, ok := db.metricsCollector.(*metrics.PromCollector); ok {
		return pc.Registry()
	}
	return nil
}

// Stats returns a point-in-time snapshot of operational counters and the
// current level shape, independent of whatever metrics backend is wired in
// (spec §9 supplemented feature: a caller embedding the engine can inspect
// it without a Prometheus scraper).
func (db *DB) Stats() (metrics.Stats, error) {
	if err := db.checkOpen(); err != nil {
		return metrics.Stats{}, err
	}
	v := db.man.Current()

	s := metrics.Stats{
		BytesWritten:        db.counters.bytesWritten.Load(),
		BytesRead:           db.counters.bytesRead.Load(),
		KeysWritten:         db.counters.keysWritten.Load(),
		CompactionsRun:      db.counters.compactionsRun.Load(),
		FlushesRun:          db.counters.flushesRun.Load(),
		BloomFalsePositives: db.counters.bloomFP.Load(),
		BloomTrueNegatives:  db.counters.bloomTN.Load(),
		PerLevelFileCount:   make([]int, v.NumLevels()),
		PerLevelBytes:       make([]int64, v.NumLevels()),
	}
	if v.NumLevels() > 0 {
		s.L0FileCount = len(v.Levels[0])
	}
	for level := 0; level < v.NumLevels(); level++ {
		s.PerLevelFileCount[level] = len(v.Levels[level])
		s.PerLevelBytes[level] = v.TotalBytes(level)
	}
	return s, nil
}
