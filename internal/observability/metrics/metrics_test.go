package metrics

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, registry *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestBackendMetrics_RecordsOperationsAndState(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewBackendMetrics(registry)
	require.NoError(t, err)

	var rec Recorder = m
	rec.RecordOperation(OpUpload, StatusSuccess)
	rec.RecordOperation(OpUpload, StatusSuccess)
	rec.RecordOperation(OpPing, StatusError)
	rec.RecordError(OpPing, "network")
	rec.RecordDuration(OpUpload, 0.4)

	m.SetOnline(true)
	m.ObserveConfidence(0.92)
	m.RecordRejection("too_short")

	assert.InDelta(t, 2, testutil.ToFloat64(m.operations.WithLabelValues(OpUpload, StatusSuccess)), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.operations.WithLabelValues(OpPing, StatusError)), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.errors.WithLabelValues(OpPing, "network")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.online), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.rejectedUploads.WithLabelValues("too_short")), 0.001)

	family := findFamily(t, registry, "chirpid_backend_identification_confidence")
	require.NotNil(t, family)
	require.Len(t, family.GetMetric(), 1)
	assert.Equal(t, uint64(1), family.GetMetric()[0].GetHistogram().GetSampleCount())

	m.SetOnline(false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.online), 0.001)
}

func TestNewBackendMetrics_DuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewBackendMetrics(registry)
	require.NoError(t, err)

	_, err = NewBackendMetrics(registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to register backend metrics")
}

func TestWikipediaMetrics_CacheCounter(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewWikipediaMetrics(registry)
	require.NoError(t, err)

	m.RecordCache(true)
	m.RecordCache(false)
	m.RecordCache(false)

	assert.InDelta(t, 1, testutil.ToFloat64(m.cache.WithLabelValues("hit")), 0.001)
	assert.InDelta(t, 2, testutil.ToFloat64(m.cache.WithLabelValues("miss")), 0.001)
}

func TestHistoryMetrics_Entries(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewHistoryMetrics(registry)
	require.NoError(t, err)

	m.SetEntries(3)
	assert.InDelta(t, 3, testutil.ToFloat64(m.entries), 0.001)
	m.SetEntries(0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.entries), 0.001)
}

func TestMQTTMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewMQTTMetrics(registry)
	require.NoError(t, err)

	m.UpdateConnectionStatus(true)
	m.IncrementMessagesDelivered()
	m.IncrementErrors()
	m.IncrementReconnectAttempts()
	m.ObserveMessageSize(256)
	m.StartPublishTimer().ObserveDuration()
	m.RecordOperation(OpPublish, StatusSuccess)

	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectionStatus), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesDelivered), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.operations.WithLabelValues(OpPublish, StatusSuccess)), 0.001)
	assert.Equal(t, 7, testutil.CollectAndCount(m))
}

func TestHTTPClientMetrics_HookPair(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewHTTPClientMetrics(registry)
	require.NoError(t, err)

	req := &http.Request{Method: http.MethodGet, URL: &url.URL{Scheme: "http", Host: "backend:3000", Path: "/ping"}}
	m.BeforeRequest(req)
	m.AfterResponse(req, &http.Response{StatusCode: http.StatusOK}, nil)

	failed := &http.Request{Method: http.MethodPost, URL: &url.URL{Scheme: "http", Host: "backend:3000"}}
	m.BeforeRequest(failed)
	m.AfterResponse(failed, nil, assert.AnError)

	assert.InDelta(t, 1, testutil.ToFloat64(m.requests.WithLabelValues("backend:3000", http.MethodGet, "200")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.requests.WithLabelValues("backend:3000", http.MethodPost, "error")), 0.001)

	family := findFamily(t, registry, "chirpid_http_client_request_duration_seconds")
	require.NotNil(t, family)
	assert.Equal(t, uint64(2), family.GetMetric()[0].GetHistogram().GetSampleCount())

	_, pending := m.inflight.Load(req)
	assert.False(t, pending, "start time must be released after the response")
}

func TestTestRecorder(t *testing.T) {
	t.Parallel()

	rec := NewTestRecorder()
	rec.RecordOperation(OpLookup, StatusSuccess)
	rec.RecordOperation(OpLookup, StatusSuccess)
	rec.RecordDuration(OpLookup, 0.1)
	rec.RecordError(OpLookup, "not-found")

	assert.Equal(t, 2, rec.OperationCount(OpLookup, StatusSuccess))
	assert.Equal(t, 0, rec.OperationCount(OpLookup, StatusError))
	assert.Equal(t, 1, rec.DurationCount(OpLookup))
	assert.Equal(t, 1, rec.ErrorCount(OpLookup, "not-found"))
}

func TestOrNoOp(t *testing.T) {
	t.Parallel()

	assert.IsType(t, NoOpRecorder{}, OrNoOp(nil))

	rec := NewTestRecorder()
	assert.Same(t, rec, OrNoOp(rec))
}
