package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WikipediaMetrics covers species information lookups.
type WikipediaMetrics struct {
	operationMetrics
	cache *prometheus.CounterVec
}

// NewWikipediaMetrics creates and registers Wikipedia lookup metrics.
func NewWikipediaMetrics(registry *prometheus.Registry) (*WikipediaMetrics, error) {
	m := &WikipediaMetrics{
		operationMetrics: newOperationMetrics("wikipedia", prometheus.ExponentialBuckets(0.02, 2, 10)),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wikipedia",
			Name:      "cache_requests_total",
			Help:      "Summary cache lookups by result",
		}, []string{"result"}),
	}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register wikipedia metrics: %w", err)
	}
	return m, nil
}

// RecordCache counts a cache hit or miss.
func (m *WikipediaMetrics) RecordCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *WikipediaMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.describe(ch)
	m.cache.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *WikipediaMetrics) Collect(ch chan<- prometheus.Metric) {
	m.collect(ch)
	m.cache.Collect(ch)
}
