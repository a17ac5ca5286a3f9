package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// BackendMetrics covers the identification backend: pings, uploads and
// the status monitor's view of reachability.
type BackendMetrics struct {
	operationMetrics
	online          prometheus.Gauge
	lastCheck       prometheus.Gauge
	confidence      prometheus.Histogram
	rejectedUploads *prometheus.CounterVec
}

// NewBackendMetrics creates and registers backend metrics.
func NewBackendMetrics(registry *prometheus.Registry) (*BackendMetrics, error) {
	m := &BackendMetrics{
		operationMetrics: newOperationMetrics("backend", prometheus.ExponentialBuckets(0.05, 2, 10)),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "online",
			Help:      "Whether the last status check reached the backend (1) or not (0)",
		}),
		lastCheck: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "last_check_timestamp_seconds",
			Help:      "Unix time of the last completed status check",
		}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "identification_confidence",
			Help:      "Confidence of returned identifications",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		rejectedUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "rejected_uploads_total",
			Help:      "Uploads refused before any request was sent",
		}, []string{"reason"}),
	}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register backend metrics: %w", err)
	}
	return m, nil
}

// SetOnline records the outcome of a status check.
func (m *BackendMetrics) SetOnline(online bool) {
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
	m.lastCheck.SetToCurrentTime()
}

// ObserveConfidence records the confidence of a successful identification.
func (m *BackendMetrics) ObserveConfidence(confidence float64) {
	m.confidence.Observe(confidence)
}

// RecordRejection counts an upload refused locally, e.g. "too_short".
func (m *BackendMetrics) RecordRejection(reason string) {
	m.rejectedUploads.WithLabelValues(reason).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *BackendMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.describe(ch)
	m.online.Describe(ch)
	m.lastCheck.Describe(ch)
	m.confidence.Describe(ch)
	m.rejectedUploads.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *BackendMetrics) Collect(ch chan<- prometheus.Metric) {
	m.collect(ch)
	m.online.Collect(ch)
	m.lastCheck.Collect(ch)
	m.confidence.Collect(ch)
	m.rejectedUploads.Collect(ch)
}
