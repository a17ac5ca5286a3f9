package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chirpid/chirpid/internal/conf"
	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/history"
	"github.com/chirpid/chirpid/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type message struct {
	topic   string
	payload string
	retain  bool
}

// fakeClient records publishes in memory.
type fakeClient struct {
	mu       sync.Mutex
	messages []message
	fail     error
	notify   chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{notify: make(chan struct{}, 64)}
}

func (f *fakeClient) Connect(context.Context) error { return nil }
func (f *fakeClient) IsConnected() bool             { return true }
func (f *fakeClient) Disconnect()                   {}

func (f *fakeClient) Publish(ctx context.Context, topic, payload string) error {
	return f.PublishWithRetain(ctx, topic, payload, false)
}

func (f *fakeClient) PublishWithRetain(_ context.Context, topic, payload string, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.messages = append(f.messages, message{topic: topic, payload: payload, retain: retain})
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeClient) published() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.messages...)
}

func (f *fakeClient) onTopic(topic string) []message {
	var out []message
	for _, m := range f.published() {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1883"
	cfg.Topic = "birds/ids"
	return cfg
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	cfg := ConfigFromSettings(&conf.MQTTSettings{
		Broker: "tcp://broker:1883",
		Topic:  "birds/ids",
		QoS:    2,
		Retain: true,
	})
	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, "birds/ids", cfg.Topic)
	assert.Equal(t, "birds/ids/status", cfg.StatusTopic())
	assert.Equal(t, "chirpid", cfg.ClientID, "client id falls back to the default")
	assert.Equal(t, byte(2), cfg.QoS)
	assert.True(t, cfg.Retain)
	assert.Equal(t, 10*time.Second, cfg.PublishTimeout)
}

func TestNewIdentificationDTO(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 5, 1, 6, 30, 15, 0, time.UTC)
	dto := NewIdentificationDTO(history.Event{
		Type: history.EventEnriched,
		Entry: history.Entry{
			ID:                "id-1",
			Species:           "Northern Cardinal",
			ScientificName:    "Cardinalis cardinalis",
			Confidence:        0.92,
			AudioURI:          "/tmp/rec.wav",
			Timestamp:         ts,
			WikipediaImageURL: "https://upload.wikimedia.org/cardinal.jpg",
		},
	})

	data, err := json.Marshal(dto)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "enriched", got["event"])
	assert.Equal(t, "2026-05-01", got["date"])
	assert.Equal(t, "06:30:15", got["time"])
	assert.Equal(t, "2026-05-01T06:30:15Z", got["timestamp"])
	assert.Equal(t, "Northern Cardinal", got["commonName"])
	assert.Equal(t, "Cardinalis cardinalis", got["scientificName"])
	assert.InDelta(t, 0.92, got["confidence"], 1e-9)
	assert.Equal(t, "https://upload.wikimedia.org/cardinal.jpg", got["imageUrl"])
}

func TestPublisher_Handle(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	recorder := metrics.NewTestRecorder()
	p := NewPublisher(client, testConfig(), recorder)

	entry := history.Entry{ID: "id-1", Species: "Blue Jay", Confidence: 0.7, Timestamp: time.Now()}
	require.NoError(t, p.Handle(t.Context(), history.Event{Type: history.EventAppended, Entry: entry}))
	require.NoError(t, p.Handle(t.Context(), history.Event{Type: history.EventCleared}))

	msgs := client.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "birds/ids", msgs[0].topic)
	assert.Contains(t, msgs[0].payload, `"commonName":"Blue Jay"`)
	assert.Equal(t, 1, recorder.OperationCount(metrics.OpPublish, metrics.StatusSuccess))
	assert.Equal(t, 1, recorder.OperationCount(metrics.OpPublish, metrics.StatusSkipped))
}

func TestPublisher_HandleError(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.fail = errors.Newf("not connected to MQTT broker").Category(errors.CategoryMQTTPublish).Build()
	recorder := metrics.NewTestRecorder()
	p := NewPublisher(client, testConfig(), recorder)

	err := p.Handle(t.Context(), history.Event{Type: history.EventAppended, Entry: history.Entry{ID: "x"}})
	require.Error(t, err)
	assert.Equal(t, 1, recorder.OperationCount(metrics.OpPublish, metrics.StatusError))
	assert.Equal(t, 1, recorder.ErrorCount(metrics.OpPublish, string(errors.CategoryMQTTPublish)))
}

func TestPublisher_RunForwardsHistoryEvents(t *testing.T) {
	t.Parallel()

	store := history.NewStore(nil)
	defer store.Close()

	client := newFakeClient()
	p := NewPublisher(client, testConfig(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, store) }()

	// Wait for the availability announcement, which follows Subscribe.
	require.Eventually(t, func() bool { return len(client.onTopic("birds/ids/status")) == 1 },
		time.Second, time.Millisecond)

	entry := store.Append(history.NewEntry{Species: "Northern Cardinal", Confidence: 0.92})
	store.Enrich(entry.ID, "https://upload.wikimedia.org/cardinal.jpg")
	store.Clear()

	require.Eventually(t, func() bool { return len(client.onTopic("birds/ids")) == 2 },
		time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	ids := client.onTopic("birds/ids")
	assert.Contains(t, ids[0].payload, `"event":"appended"`)
	assert.Contains(t, ids[1].payload, `"event":"enriched"`)
	assert.Contains(t, ids[1].payload, `"imageUrl":"https://upload.wikimedia.org/cardinal.jpg"`)

	status := client.onTopic("birds/ids/status")
	require.Len(t, status, 2)
	assert.Equal(t, message{topic: "birds/ids/status", payload: "online", retain: true}, status[0])
	assert.Equal(t, message{topic: "birds/ids/status", payload: "offline", retain: true}, status[1])
}

func TestPublisher_RunStopsWhenSubscriptionCloses(t *testing.T) {
	t.Parallel()

	store := history.NewStore(nil)
	client := newFakeClient()
	p := NewPublisher(client, testConfig(), nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), store) }()
	require.Eventually(t, func() bool { return len(client.published()) == 1 }, time.Second, time.Millisecond)

	store.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the store closed")
	}
}

func TestSanitizeID(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"chirpid":        "chirpid",
		"my phone!":      "my_phone",
		"__a//b__":       "a_b",
		"???":            "unknown",
		"node-1_kitchen": "node-1_kitchen",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeID(in), "input %q", in)
	}
}

func TestDiscovery_PublishAndRemove(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	p := NewDiscoveryPublisher(client, &DiscoveryConfig{
		DiscoveryPrefix: "homeassistant",
		BaseTopic:       "birds/ids",
		DeviceName:      "ChirpID",
		NodeID:          "garden phone",
		Version:         "1.2.3",
	})

	require.NoError(t, p.PublishDiscovery(t.Context()))

	msgs := client.published()
	require.Len(t, msgs, 1+len(AllSensorTypes))
	for _, m := range msgs {
		assert.True(t, m.retain, "discovery on %s must be retained", m.topic)
		assert.True(t, strings.HasPrefix(m.topic, "homeassistant/"))
	}
	assert.Equal(t, "homeassistant/binary_sensor/garden_phone/status/config", msgs[0].topic)
	assert.Equal(t, "homeassistant/sensor/garden_phone/garden_phone_species/config", msgs[1].topic)

	var species DiscoveryPayload
	require.NoError(t, json.Unmarshal([]byte(msgs[1].payload), &species))
	assert.Equal(t, "chirpid_garden_phone_species", species.UniqueID)
	assert.Equal(t, "birds/ids", species.StateTopic)
	assert.Equal(t, "birds/ids/status", species.AvailabilityTopic)
	assert.Equal(t, "{{ value_json.commonName }}", species.ValueTemplate)
	assert.Equal(t, []string{"chirpid_garden_phone"}, species.Device.Identifiers)
	assert.Equal(t, "1.2.3", species.Origin.SWVersion)

	p.RemoveDiscovery(t.Context())
	removals := client.published()[len(msgs):]
	require.Len(t, removals, len(msgs))
	for _, m := range removals {
		assert.Empty(t, m.payload)
		assert.True(t, m.retain)
	}
}

func TestClient_PublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	c := NewClient(testConfig(), m)
	assert.False(t, c.IsConnected())

	err = c.Publish(t.Context(), "birds/ids", "{}")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))

	c.Disconnect()
}

func TestClient_ConnectRejectsInvalidBroker(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Broker = "not a url"
	c := NewClient(cfg, nil)

	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestClient_ConnectCooldown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Broker = "::bad"
	cfg.ReconnectCooldown = time.Hour
	c := NewClient(cfg, nil)

	require.Error(t, c.Connect(t.Context()))
	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnect))
	assert.Contains(t, err.Error(), "too recent")
}
