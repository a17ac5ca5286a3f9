// Package backendstatus tracks backend reachability with a periodic ping and
// on-demand refreshes. It is observational; uploads run their own probe.
package backendstatus

import (
	"context"
	"sync"
	"time"

	"github.com/chirpid/chirpid/internal/backend"
	"github.com/chirpid/chirpid/internal/logger"
	"github.com/chirpid/chirpid/internal/observability/metrics"
	"github.com/chirpid/chirpid/internal/periodic"
)

// DefaultInterval is the time between automatic checks.
const DefaultInterval = 30 * time.Second

// Pinger is the reachability probe; *backend.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) (*backend.PingResponse, error)
}

// Status is the last known backend state. LastChecked is nil until the
// first check completes.
type Status struct {
	IsOnline    bool
	IsLoading   bool
	LastChecked *time.Time
	Error       string
}

// Initial is the status before any check.
func Initial() Status {
	return Status{IsOnline: false, IsLoading: true}
}

func (s Status) clone() Status {
	if s.LastChecked != nil {
		t := *s.LastChecked
		s.LastChecked = &t
	}
	return s
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the automatic check interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMetrics exports online state and check outcomes.
func WithMetrics(bm *metrics.BackendMetrics) Option {
	return func(m *Monitor) { m.metrics = bm }
}

// WithClock replaces time.Now for LastChecked.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor polls the backend and publishes Status changes.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	now      func() time.Time
	metrics  *metrics.BackendMetrics
	log      logger.Logger

	task    *periodic.Task
	checkMu sync.Mutex // serializes checks

	mu          sync.RWMutex
	status      Status
	subscribers map[int]chan Status
	nextSubID   int
}

// NewMonitor creates a stopped monitor in the Initial state.
func NewMonitor(pinger Pinger, opts ...Option) *Monitor {
	m := &Monitor{
		pinger:      pinger,
		interval:    DefaultInterval,
		now:         time.Now,
		log:         logger.Global().Module("backendstatus"),
		status:      Initial(),
		subscribers: make(map[int]chan Status),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.task = periodic.New(m.interval, func(ctx context.Context) {
		m.Refresh(ctx)
	}, periodic.RunImmediately())
	return m
}

// Start checks immediately and then every interval until Stop or ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	m.task.Start(ctx)
}

// Stop halts automatic checks and waits for a running check to return.
func (m *Monitor) Stop() {
	m.task.Stop()
}

// Refresh runs one check now and returns the resulting status. While it
// runs, the published status has IsLoading set and Error cleared.
func (m *Monitor) Refresh(ctx context.Context) Status {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	m.update(func(s *Status) {
		s.IsLoading = true
		s.Error = ""
	})

	start := time.Now()
	resp, err := m.pinger.Ping(ctx)
	checked := m.now()

	if m.metrics != nil {
		m.metrics.SetOnline(err == nil)
		if err != nil {
			m.metrics.RecordOperation(metrics.OpStatusPoll, metrics.StatusError)
		} else {
			m.metrics.RecordOperation(metrics.OpStatusPoll, metrics.StatusSuccess)
		}
		m.metrics.RecordDuration(metrics.OpStatusPoll, time.Since(start).Seconds())
	}

	return m.update(func(s *Status) {
		s.IsLoading = false
		s.LastChecked = &checked
		if err != nil {
			if s.IsOnline {
				m.log.Warn("backend went offline", logger.Error(err))
			}
			s.IsOnline = false
			s.Error = err.Error()
			return
		}
		if !s.IsOnline {
			fields := []logger.Field{}
			if resp != nil && resp.Message != "" {
				fields = append(fields, logger.String("message", resp.Message))
			}
			m.log.Info("backend online", fields...)
		}
		s.IsOnline = true
		s.Error = ""
	})
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.clone()
}

// Subscribe returns a channel carrying the latest status and a cancel func
// that closes it. Only the newest undelivered status is kept.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = ch
	ch <- m.status.clone()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(sub)
			}
		})
	}
}

func (m *Monitor) update(fn func(*Status)) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn(&m.status)
	snapshot := m.status.clone()
	for _, ch := range m.subscribers {
		// Replace any stale value so the subscriber sees the latest one.
		select {
		case <-ch:
		default:
		}
		ch <- snapshot.clone()
	}
	return snapshot
}
