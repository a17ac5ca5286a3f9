// Package observability provides Prometheus metrics for chirpid.
// Error telemetry to Sentry lives in the errors package.
package observability

import (
	"fmt"
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chirpid/chirpid/internal/httpclient"
	"github.com/chirpid/chirpid/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	Backend    *metrics.BackendMetrics
	Wikipedia  *metrics.WikipediaMetrics
	History    *metrics.HistoryMetrics
	MQTT       *metrics.MQTTMetrics
	HTTPClient *metrics.HTTPClientMetrics
}

// NewMetrics creates a new instance of Metrics on a private registry,
// initializing all metric collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	backendMetrics, err := metrics.NewBackendMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend metrics: %w", err)
	}

	wikipediaMetrics, err := metrics.NewWikipediaMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create wikipedia metrics: %w", err)
	}

	historyMetrics, err := metrics.NewHistoryMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create history metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPClientMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		Backend:    backendMetrics,
		Wikipedia:  wikipediaMetrics,
		History:    historyMetrics,
		MQTT:       mqttMetrics,
		HTTPClient: httpMetrics,
	}, nil
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// InstrumentHTTPClient attaches request counting and latency hooks to c.
func (m *Metrics) InstrumentHTTPClient(c *httpclient.Client) {
	c.SetBeforeRequestHook(m.HTTPClient.BeforeRequest)
	c.SetAfterResponseHook(m.HTTPClient.AfterResponse)
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}
