package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// HistoryMetrics covers the in-memory identification history.
type HistoryMetrics struct {
	operationMetrics
	entries prometheus.Gauge
}

// NewHistoryMetrics creates and registers history metrics.
func NewHistoryMetrics(registry *prometheus.Registry) (*HistoryMetrics, error) {
	m := &HistoryMetrics{
		operationMetrics: newOperationMetrics("history", prometheus.ExponentialBuckets(0.05, 2, 10)),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "entries",
			Help:      "Number of identifications currently held in history",
		}),
	}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register history metrics: %w", err)
	}
	return m, nil
}

// SetEntries records the current history size.
func (m *HistoryMetrics) SetEntries(n int) {
	m.entries.Set(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *HistoryMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.describe(ch)
	m.entries.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *HistoryMetrics) Collect(ch chan<- prometheus.Metric) {
	m.collect(ch)
	m.entries.Collect(ch)
}
