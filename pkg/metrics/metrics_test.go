package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromCollector_IncCounterRegistersLazily(t *testing.T) {
	c := NewPromCollector()
	c.IncCounter("writes_total", map[string]string{"op": "put"}, 1)
	c.IncCounter("writes_total", map[string]string{"op": "put"}, 2)

	got := testutil.ToFloat64(mustCounter(t, c, "writes_total", map[string]string{"op": "put"}))
	if got != 3 {
		t.Fatalf("writes_total = %v, want 3", got)
	}
}

func TestPromCollector_SetGauge(t *testing.T) {
	c := NewPromCollector()
	c.SetGauge("l0_files", nil, 4)
	c.SetGauge("l0_files", nil, 7)

	got := testutil.ToFloat64(mustGauge(t, c, "l0_files"))
	if got != 7 {
		t.Fatalf("l0_files = %v, want 7 (SetGauge should overwrite, not accumulate)", got)
	}
}

func TestPromCollector_ObserveHistogramDoesNotPanic(t *testing.T) {
	c := NewPromCollector()
	c.ObserveHistogram("get_latency_seconds", nil, 0.01)
	c.ObserveHistogram("get_latency_seconds", nil, 0.02)
	// Registering and observing without a panic is the behavior under test;
	// histogram bucket internals aren't asserted on here.
}

func TestPromCollector_RegistryExposesRegisteredMetrics(t *testing.T) {
	c := NewPromCollector()
	c.IncCounter("x", nil, 1)

	mfs, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "x" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected registry to expose metric 'x'")
	}
}

func mustCounter(t *testing.T, c *PromCollector, name string, labels map[string]string) prometheus.Counter {
	t.Helper()
	cv, ok := c.counters[name]
	if !ok {
		t.Fatalf("counter %q was never registered", name)
	}
	return cv.With(labels)
}

func mustGauge(t *testing.T, c *PromCollector, name string) prometheus.Gauge {
	t.Helper()
	gv, ok := c.gauges[name]
	if !ok {
		t.Fatalf("gauge %q was never registered", name)
	}
	return gv.With(nil)
}
