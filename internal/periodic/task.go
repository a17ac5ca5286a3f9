// Package periodic runs a function at a fixed interval on a background
// goroutine with an explicit Start/Stop lifecycle.
package periodic

import (
	"context"
	"sync"
	"time"
)

// Task invokes fn every interval until stopped. Ticks that arrive while fn
// is still running are dropped, so a slow fn never queues up work.
type Task struct {
	interval  time.Duration
	immediate bool
	fn        func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Task.
type Option func(*Task)

// RunImmediately makes the first run happen at Start instead of after one interval.
func RunImmediately() Option {
	return func(t *Task) {
		t.immediate = true
	}
}

// New returns a stopped task. interval must be positive.
func New(interval time.Duration, fn func(ctx context.Context), opts ...Option) *Task {
	if interval <= 0 {
		panic("periodic: non-positive interval")
	}
	t := &Task{interval: interval, fn: fn}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the loop under ctx. Starting a running task is a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go t.loop(ctx, done)
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if t.immediate {
		t.fn(ctx)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			t.fn(ctx)
		}
	}
}

// Stop cancels the loop and waits for it to exit. Stop is idempotent and
// safe to call on a task that was never started. It must not be called from fn.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the task has been started and not stopped.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}
