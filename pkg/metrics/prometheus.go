package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PromCollector implements Collector on top of real prometheus vector
// metrics, registered lazily per metric name on first use so callers don't
// need to pre-declare every counter/gauge/histogram up front.
type PromCollector struct {
	reg *prometheus.Registry

	mu          sync.Mutex
	counters    map[string]*prometheus.CounterVec
	gauges      map[string]*prometheus.GaugeVec
	histograms  map[string]*prometheus.HistogramVec
}

// NewPromCollector creates a collector backed by a fresh registry.
func NewPromCollector() *PromCollector {
	return &PromCollector{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying Prometheus registry, e.g. for wiring
// into a /metrics handler on cmd/lsmdb's debug HTTP server.
func (c *PromCollector) Registry() *prometheus.Registry { return c.reg }

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (c *PromCollector) IncCounter(name string, labels map[string]string, delta float64) {
	c.mu.Lock()
	cv, ok := c.counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labelNames(labels))
		c.reg.MustRegister(cv)
		c.counters[name] = cv
	}
	c.mu.Unlock()
	cv.With(labels).Add(delta)
}

func (c *PromCollector) SetGauge(name string, labels map[string]string, value float64) {
	c.mu.Lock()
	gv, ok := c.gauges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labelNames(labels))
		c.reg.MustRegister(gv)
		c.gauges[name] = gv
	}
	c.mu.Unlock()
	gv.With(labels).Set(value)
}

func (c *PromCollector) ObserveHistogram(name string, labels map[string]string, value float64) {
	c.mu.Lock()
	hv, ok := c.histograms[name]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: name}, labelNames(labels))
		c.reg.MustRegister(hv)
		c.histograms[name] = hv
	}
	c.mu.Unlock()
	hv.With(labels).Observe(value)
}
