package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPClientMetrics covers outbound HTTP requests made through the shared client.
type HTTPClientMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec

	inflight sync.Map // *http.Request -> time.Time
}

// NewHTTPClientMetrics creates and registers outbound HTTP metrics.
func NewHTTPClientMetrics(registry *prometheus.Registry) (*HTTPClientMetrics, error) {
	m := &HTTPClientMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Outbound HTTP requests by host, method and status code",
		}, []string{"host", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Outbound HTTP request latency until response headers",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"host"}),
	}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP client metrics: %w", err)
	}
	return m, nil
}

// BeforeRequest marks the start of req. Pair with AfterResponse.
func (m *HTTPClientMetrics) BeforeRequest(req *http.Request) {
	m.inflight.Store(req, time.Now())
}

// AfterResponse records the outcome of req; code is "error" on transport failure.
func (m *HTTPClientMetrics) AfterResponse(req *http.Request, resp *http.Response, err error) {
	host := req.URL.Host
	code := "error"
	if err == nil && resp != nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	m.requests.WithLabelValues(host, req.Method, code).Inc()

	if started, ok := m.inflight.LoadAndDelete(req); ok {
		if t, ok := started.(time.Time); ok {
			m.duration.WithLabelValues(host).Observe(time.Since(t).Seconds())
		}
	}
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPClientMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requests.Describe(ch)
	m.duration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPClientMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requests.Collect(ch)
	m.duration.Collect(ch)
}
