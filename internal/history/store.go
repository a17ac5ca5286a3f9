// Package history holds the process-lifetime list of identifications. Entries
// are inserted most recent first and enriched in the background with a
// Wikipedia thumbnail.
package history

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chirpid/chirpid/internal/logger"
	"github.com/chirpid/chirpid/internal/observability/metrics"
	"github.com/chirpid/chirpid/internal/wikipedia"
)

// DefaultEnrichTimeout bounds a single background enrichment.
const DefaultEnrichTimeout = 30 * time.Second

const subscriberBuffer = 16

// NewEntry is what the caller supplies; ID and Timestamp are assigned on Append.
type NewEntry struct {
	Species        string
	ScientificName string
	Confidence     float64
	AudioURI       string
}

// Entry is one identification in the history.
type Entry struct {
	ID                string    `json:"id"`
	Species           string    `json:"species"`
	ScientificName    string    `json:"scientificName,omitempty"`
	Confidence        float64   `json:"confidence"`
	AudioURI          string    `json:"audioUri,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	WikipediaImageURL string    `json:"wikipediaImageUrl,omitempty"`
}

// EventType says what changed.
type EventType int

const (
	EventAppended EventType = iota
	EventEnriched
	EventCleared
)

func (t EventType) String() string {
	switch t {
	case EventAppended:
		return "appended"
	case EventEnriched:
		return "enriched"
	case EventCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers. Entry is zero for EventCleared.
type Event struct {
	Type  EventType
	Entry Entry
}

// SpeciesLookup resolves a species to reference info; *wikipedia.Client
// satisfies it.
type SpeciesLookup interface {
	Lookup(ctx context.Context, commonName, scientificName string) (*wikipedia.Info, error)
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics reports history size and enrichment outcomes.
func WithMetrics(m *metrics.HistoryMetrics) Option {
	return func(s *Store) {
		s.metrics = m
		if m != nil {
			s.recorder = m
		}
	}
}

// WithRecorder overrides the operation recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Store) { s.recorder = metrics.OrNoOp(r) }
}

// WithEnrichTimeout bounds each background lookup.
func WithEnrichTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.enrichTimeout = d
		}
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the shared, in-memory identification history. Safe for
// concurrent use.
type Store struct {
	mu          sync.RWMutex
	entries     []Entry // most recent first
	subscribers map[int]chan Event
	nextSubID   int

	lookup        SpeciesLookup
	enrichTimeout time.Duration
	now           func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics  *metrics.HistoryMetrics
	recorder metrics.Recorder
	log      logger.Logger
}

// NewStore creates an empty store. lookup may be nil to disable enrichment.
func NewStore(lookup SpeciesLookup, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		subscribers:   make(map[int]chan Event),
		lookup:        lookup,
		enrichTimeout: DefaultEnrichTimeout,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
		recorder:      metrics.NoOpRecorder{},
		log:           logger.Global().Module("history"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append inserts a new entry at the head and returns it. Enrichment, when
// a lookup is configured, continues in the background.
func (s *Store) Append(n NewEntry) Entry {
	entry := Entry{
		ID:             uuid.NewString(),
		Species:        n.Species,
		ScientificName: n.ScientificName,
		Confidence:     n.Confidence,
		AudioURI:       n.AudioURI,
		Timestamp:      s.now(),
	}

	s.mu.Lock()
	s.entries = slices.Insert(s.entries, 0, entry)
	s.setSizeLocked()
	s.publishLocked(Event{Type: EventAppended, Entry: entry})
	enrich := s.lookup != nil && s.ctx.Err() == nil
	if enrich {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	s.recorder.RecordOperation(metrics.OpAppend, metrics.StatusSuccess)
	s.log.Info("identification added to history",
		logger.String("id", entry.ID),
		logger.String("species", entry.Species),
		logger.Float64("confidence", entry.Confidence))

	if enrich {
		go s.enrich(entry)
	}
	return entry
}

// enrich runs the species lookup for entry and applies a thumbnail if found.
// Failures are logged at debug level only.
func (s *Store) enrich(entry Entry) {
	defer s.wg.Done()

	start := time.Now()
	ctx, cancel := context.WithTimeout(wikipedia.WithBackground(s.ctx), s.enrichTimeout)
	defer cancel()

	info, err := s.lookup.Lookup(ctx, entry.Species, entry.ScientificName)
	s.recorder.RecordDuration(metrics.OpEnrich, time.Since(start).Seconds())
	if err != nil {
		s.recorder.RecordOperation(metrics.OpEnrich, metrics.StatusNotFound)
		s.log.Debug("history enrichment failed",
			logger.String("id", entry.ID),
			logger.String("species", entry.Species),
			logger.Error(err))
		return
	}
	if info == nil || info.ThumbnailURL == "" {
		s.recorder.RecordOperation(metrics.OpEnrich, metrics.StatusSkipped)
		return
	}

	if s.Enrich(entry.ID, info.ThumbnailURL) {
		s.recorder.RecordOperation(metrics.OpEnrich, metrics.StatusSuccess)
	} else {
		s.recorder.RecordOperation(metrics.OpEnrich, metrics.StatusSkipped)
	}
}

// Enrich sets the thumbnail of entry id. It reports false, changing nothing,
// when the id is absent (for example after Clear), the URL is empty, or the
// entry already has a thumbnail.
func (s *Store) Enrich(id, thumbnailURL string) bool {
	if thumbnailURL == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.entries, func(e Entry) bool { return e.ID == id })
	if i < 0 || s.entries[i].WikipediaImageURL != "" {
		return false
	}
	s.entries[i].WikipediaImageURL = thumbnailURL
	s.publishLocked(Event{Type: EventEnriched, Entry: s.entries[i]})
	return true
}

// Clear removes every entry. In-flight enrichments for removed entries
// become no-ops.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.setSizeLocked()
	s.publishLocked(Event{Type: EventCleared})
	s.mu.Unlock()

	s.log.Info("history cleared")
}

// List returns a copy of the entries, most recent first.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries)
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Get returns the entry with id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := slices.IndexFunc(s.entries, func(e Entry) bool { return e.ID == id })
	if i < 0 {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Subscribe returns a channel of changes and a cancel func that closes it.
// Delivery never blocks the store: a subscriber that falls behind misses
// events and should re-read List.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
		})
	}
}

func (s *Store) publishLocked(ev Event) {
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Wait blocks until in-flight enrichments have finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close cancels pending enrichments, waits for them and closes every
// subscriber channel.
func (s *Store) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

// setSizeLocked updates the entries gauge; s.mu must be held for writing.
func (s *Store) setSizeLocked() {
	if s.metrics != nil {
		s.metrics.SetEntries(len(s.entries))
	}
}
