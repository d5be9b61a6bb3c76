// Package prometheus exports goTokenly engine activity as Prometheus metrics.
//
// Concurrency: Collector is safe for concurrent use.
package prometheus

import (
	"github.com/keksclan/goTokenly/tokenly"
	"github.com/prometheus/client_golang/prometheus"
)

var _ tokenly.MetricsCollector = (*Collector)(nil)

// Collector implements tokenly.MetricsCollector with Prometheus counters.
type Collector struct {
	extracted *prometheus.CounterVec
	missed    *prometheus.CounterVec
	injected  *prometheus.CounterVec
}

// NewCollector creates the counters under namespace and registers them with reg.
// A nil reg registers nothing, which is useful when the caller gathers via Describe/Collect.
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		extracted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "tokens_extracted_total",
				Help:      "Number of tokens extracted from macro responses",
			},
			[]string{"action"},
		),
		missed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "extraction_misses_total",
				Help:      "Number of macro runs whose responses held no token",
			},
			[]string{"action"},
		),
		injected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "tokens_injected_total",
				Help:      "Number of token injections into outgoing requests",
			},
			[]string{"action", "target"},
		),
	}
	if reg != nil {
		for _, col := range []prometheus.Collector{c.extracted, c.missed, c.injected} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// TokenExtracted implements tokenly.MetricsCollector.
func (c *Collector) TokenExtracted(action string) {
	c.extracted.WithLabelValues(action).Inc()
}

// TokenMissed implements tokenly.MetricsCollector.
func (c *Collector) TokenMissed(action string) {
	c.missed.WithLabelValues(action).Inc()
}

// TokenInjected implements tokenly.MetricsCollector.
func (c *Collector) TokenInjected(action, target string) {
	c.injected.WithLabelValues(action, target).Inc()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.extracted.Describe(ch)
	c.missed.Describe(ch)
	c.injected.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.extracted.Collect(ch)
	c.missed.Collect(ch)
	c.injected.Collect(ch)
}
