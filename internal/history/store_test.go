package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/observability/metrics"
	"github.com/chirpid/chirpid/internal/wikipedia"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeLookup returns a fixed result, optionally blocking until released.
type fakeLookup struct {
	info    *wikipedia.Info
	err     error
	release chan struct{}

	mu    sync.Mutex
	calls [][2]string
}

func (f *fakeLookup) Lookup(ctx context.Context, common, scientific string) (*wikipedia.Info, error) {
	f.mu.Lock()
	f.calls = append(f.calls, [2]string{common, scientific})
	f.mu.Unlock()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.info, f.err
}

func (f *fakeLookup) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

const thumb = "https://upload.wikimedia.org/cardinal.jpg"

func cardinal() NewEntry {
	return NewEntry{
		Species:        "Northern Cardinal",
		ScientificName: "Cardinalis cardinalis",
		Confidence:     0.92,
		AudioURI:       "/tmp/recording.wav",
	}
}

func TestAppend_InsertsAtHeadWithFreshIDs(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 5, 1, 6, 30, 0, 0, time.UTC)
	store := NewStore(nil, WithClock(func() time.Time { return fixed }))
	defer store.Close()

	seen := make(map[string]bool)
	for i, species := range []string{"Blue Jay", "American Robin", "Northern Cardinal"} {
		entry := store.Append(NewEntry{Species: species, Confidence: 0.5})

		require.NotEmpty(t, entry.ID)
		assert.False(t, seen[entry.ID], "id %s reused", entry.ID)
		seen[entry.ID] = true

		list := store.List()
		require.Len(t, list, i+1)
		assert.Equal(t, entry, list[0], "newest entry must be at position 0")
		assert.Equal(t, fixed, list[0].Timestamp)
	}

	list := store.List()
	assert.Equal(t, "Northern Cardinal", list[0].Species)
	assert.Equal(t, "American Robin", list[1].Species)
	assert.Equal(t, "Blue Jay", list[2].Species)
}

func TestAppend_CopiesFields(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	defer store.Close()

	entry := store.Append(cardinal())
	assert.Equal(t, "Northern Cardinal", entry.Species)
	assert.Equal(t, "Cardinalis cardinalis", entry.ScientificName)
	assert.InDelta(t, 0.92, entry.Confidence, 1e-9)
	assert.Equal(t, "/tmp/recording.wav", entry.AudioURI)
	assert.Empty(t, entry.WikipediaImageURL)
}

func TestList_ReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	defer store.Close()

	store.Append(cardinal())
	list := store.List()
	list[0].Species = "mutated"

	assert.Equal(t, "Northern Cardinal", store.List()[0].Species)
}

func TestAppend_BackgroundEnrichment(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{info: &wikipedia.Info{Title: "Northern cardinal", ThumbnailURL: thumb}}
	recorder := metrics.NewTestRecorder()
	store := NewStore(lookup, WithRecorder(recorder))
	defer store.Close()

	entry := store.Append(cardinal())
	store.Wait()

	got, ok := store.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, thumb, got.WikipediaImageURL)
	assert.Equal(t, [][2]string{{"Northern Cardinal", "Cardinalis cardinalis"}}, lookup.calls)
	assert.Equal(t, 1, recorder.OperationCount(metrics.OpEnrich, metrics.StatusSuccess))
}

func TestAppend_EnrichmentFailureIsSuppressed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		lookup *fakeLookup
	}{
		{name: "lookup error", lookup: &fakeLookup{err: errors.NewStd("no Wikipedia page found")}},
		{name: "no thumbnail", lookup: &fakeLookup{info: &wikipedia.Info{Title: "Rare bird"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := NewStore(tt.lookup)
			defer store.Close()

			entry := store.Append(cardinal())
			store.Wait()

			got, ok := store.Get(entry.ID)
			require.True(t, ok)
			assert.Empty(t, got.WikipediaImageURL)
			assert.Equal(t, 1, store.Len())
		})
	}
}

func TestClear_ThenPendingEnrichmentDoesNotResurrect(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{
		info:    &wikipedia.Info{ThumbnailURL: thumb},
		release: make(chan struct{}),
	}
	store := NewStore(lookup)
	defer store.Close()

	entry := store.Append(cardinal())
	require.Eventually(t, func() bool { return lookup.callCount() == 1 }, time.Second, time.Millisecond)

	store.Clear()
	close(lookup.release)
	store.Wait()

	assert.Zero(t, store.Len())
	assert.Empty(t, store.List())
	_, ok := store.Get(entry.ID)
	assert.False(t, ok)
}

// entriesGauge reads the history size gauge from registry.
func entriesGauge(t *testing.T, registry *prometheus.Registry) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "chirpid_history_entries" {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("history entries gauge not registered")
	return 0
}

func TestEntriesGauge_TracksConcurrentAppendAndClear(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewHistoryMetrics(registry)
	require.NoError(t, err)
	store := NewStore(nil, WithMetrics(m))
	defer store.Close()

	for range 50 {
		var wg sync.WaitGroup
		wg.Go(func() { store.Append(NewEntry{Species: "Northern Cardinal", Confidence: 0.9}) })
		wg.Go(func() { store.Clear() })
		wg.Wait()

		assert.InDelta(t, float64(store.Len()), entriesGauge(t, registry), 0.001)
		store.Clear()
	}

	store.Append(NewEntry{Species: "Blue Jay", Confidence: 0.8})
	store.Append(NewEntry{Species: "American Robin", Confidence: 0.7})
	assert.InDelta(t, 2, entriesGauge(t, registry), 0.001)
	store.Clear()
	assert.InDelta(t, 0, entriesGauge(t, registry), 0.001)
}

func TestEnrich_AtMostOnce(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	defer store.Close()

	entry := store.Append(cardinal())

	assert.False(t, store.Enrich(entry.ID, ""), "empty URL is ignored")
	assert.True(t, store.Enrich(entry.ID, thumb))
	assert.False(t, store.Enrich(entry.ID, "https://example.org/other.jpg"))
	assert.False(t, store.Enrich("missing-id", thumb))

	got, _ := store.Get(entry.ID)
	assert.Equal(t, thumb, got.WikipediaImageURL)
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	defer store.Close()

	events, cancel := store.Subscribe()
	defer cancel()

	entry := store.Append(cardinal())
	store.Enrich(entry.ID, thumb)
	store.Clear()

	want := []EventType{EventAppended, EventEnriched, EventCleared}
	for _, typ := range want {
		select {
		case ev := <-events:
			assert.Equal(t, typ, ev.Type, "got %s", ev.Type)
			if typ != EventCleared {
				assert.Equal(t, entry.ID, ev.Entry.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	defer store.Close()

	events, cancel := store.Subscribe()
	cancel()
	cancel()

	_, open := <-events
	assert.False(t, open)

	// Publishing after cancel must not panic.
	store.Append(cardinal())
}

func TestSubscribe_SlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	defer store.Close()

	_, cancel := store.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range subscriberBuffer * 3 {
			store.Append(cardinal())
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked on a full subscriber")
	}
	assert.Equal(t, subscriberBuffer*3, store.Len())
}

func TestClose_CancelsPendingEnrichment(t *testing.T) {
	t.Parallel()

	lookup := &fakeLookup{info: &wikipedia.Info{ThumbnailURL: thumb}, release: make(chan struct{})}
	store := NewStore(lookup)

	entry := store.Append(cardinal())
	events, _ := store.Subscribe()

	store.Close()

	got, ok := store.Get(entry.ID)
	require.True(t, ok)
	assert.Empty(t, got.WikipediaImageURL)

	_, open := <-events
	assert.False(t, open)

	store.Append(cardinal())
	store.Wait()
	assert.Equal(t, 1, lookup.callCount(), "no enrichment after Close")
}

func TestEventType_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "appended", EventAppended.String())
	assert.Equal(t, "enriched", EventEnriched.String())
	assert.Equal(t, "cleared", EventCleared.String())
	assert.Equal(t, "unknown", EventType(42).String())
}
