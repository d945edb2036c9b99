// Package promadapters provides a Prometheus implementation of the
// eventstore.MetricsCollector interface for users who want plug-and-play
// metrics without implementing the interface themselves.
package promadapters

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// defaultBuckets cover sub-millisecond file writes up to slow database appends.
var defaultBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}

// MetricsCollector implements eventstore.MetricsCollector on top of
// prometheus/client_golang. Collectors are created lazily per metric name
// on first observation; the label keys of that first observation become the
// metric's label schema.
type MetricsCollector struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewMetricsCollector creates a collector registering its metrics with the
// given registerer.
func NewMetricsCollector(registerer prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		registerer: registerer,
		histograms: make(map[string]*prometheus.HistogramVec),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// RecordDuration observes a duration in seconds on the metric's histogram.
func (c *MetricsCollector) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	keys, values := splitLabels(labels)

	c.mu.Lock()
	histogram, ok := c.histograms[metric]
	if !ok {
		histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metric + "_seconds",
			Help:    "Duration of " + metric + " in seconds.",
			Buckets: defaultBuckets,
		}, keys)
		c.registerer.MustRegister(histogram)
		c.histograms[metric] = histogram
	}
	c.mu.Unlock()

	histogram.WithLabelValues(values...).Observe(duration.Seconds())
}

// IncrementCounter increments the metric's counter.
func (c *MetricsCollector) IncrementCounter(metric string, labels map[string]string) {
	keys, values := splitLabels(labels)

	c.mu.Lock()
	counter, ok := c.counters[metric]
	if !ok {
		counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metric,
			Help: "Total number of " + metric + " occurrences.",
		}, keys)
		c.registerer.MustRegister(counter)
		c.counters[metric] = counter
	}
	c.mu.Unlock()

	counter.WithLabelValues(values...).Inc()
}

// RecordValue sets the metric's gauge to the given value.
func (c *MetricsCollector) RecordValue(metric string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)

	c.mu.Lock()
	gauge, ok := c.gauges[metric]
	if !ok {
		gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metric,
			Help: "Current value of " + metric + ".",
		}, keys)
		c.registerer.MustRegister(gauge)
		c.gauges[metric] = gauge
	}
	c.mu.Unlock()

	gauge.WithLabelValues(values...).Set(value)
}

// splitLabels flattens a label map into deterministic key and value slices.
func splitLabels(labels map[string]string) ([]string, []string) {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	values := make([]string, len(keys))
	for i, key := range keys {
		values[i] = labels[key]
	}

	return keys, values
}
