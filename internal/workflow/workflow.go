// Package workflow drives one identification flow: record or pick a file,
// upload it, and on success record the result in history and navigate to
// the details view. Failed uploads are put to the user as Retry/Cancel.
package workflow

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chirpid/chirpid/internal/backend"
	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/history"
	"github.com/chirpid/chirpid/internal/logger"
	"github.com/chirpid/chirpid/internal/myaudio"
	"github.com/chirpid/chirpid/internal/periodic"
)

const (
	// DefaultMaxRecording caps capture length; the recording stops itself.
	DefaultMaxRecording = 60 * time.Second
	// DefaultMeterInterval is the metering sample period.
	DefaultMeterInterval = 100 * time.Millisecond
)

// ErrInvalidState is wrapped by errors for operations not allowed in the
// current state.
var ErrInvalidState = errors.NewStd("operation not allowed in current state")

// Uploader runs the identification sequence; *backend.Client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, path string) (*backend.IdentificationResponse, error)
}

// Capture is the microphone recorder; *myaudio.Recorder satisfies it.
type Capture interface {
	Start(ctx context.Context) error
	Stop() (string, error)
	Cancel()
	Level() float64
}

// History receives successful identifications; *history.Store satisfies it.
type History interface {
	Append(history.NewEntry) history.Entry
}

// Prompter asks the user what to do about a failed upload. It blocks until
// the user answers; a cancelled ctx counts as DecisionCancel.
type Prompter interface {
	Confirm(ctx context.Context, message string) Decision
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, message string) Decision

// Confirm implements Prompter.
func (f PrompterFunc) Confirm(ctx context.Context, message string) Decision {
	return f(ctx, message)
}

// Config wires a Workflow. Uploader and History are required; Capture is
// only needed for StartRecording, Prompter defaults to always Cancel.
type Config struct {
	Uploader Uploader
	Capture  Capture
	History  History
	Prompter Prompter

	// Navigate is called once per successful identification.
	Navigate func(Navigation)

	MaxRecording  time.Duration
	MeterInterval time.Duration
}

// Workflow is the identification state machine. Methods are safe for
// concurrent use; at most one upload runs at a time.
type Workflow struct {
	uploader      Uploader
	capture       Capture
	history       History
	prompter      Prompter
	navigate      func(Navigation)
	maxRecording  time.Duration
	meterInterval time.Duration
	log           logger.Logger

	mu        sync.Mutex
	state     State
	audioPath string
	level     float64
	result    *backend.Result
	lastErr   string
	inFlight  bool
	stopping  bool
	meter     *periodic.Task
	autoStop  *time.Timer

	subscribers map[int]chan Snapshot
	nextSubID   int
}

// New returns a Workflow in StateIdle.
func New(cfg Config) (*Workflow, error) {
	if cfg.Uploader == nil || cfg.History == nil {
		return nil, errors.Newf("workflow requires an uploader and a history").
			Component("workflow").
			Category(errors.CategoryConfiguration).
			Build()
	}

	w := &Workflow{
		uploader:      cfg.Uploader,
		capture:       cfg.Capture,
		history:       cfg.History,
		prompter:      cfg.Prompter,
		navigate:      cfg.Navigate,
		maxRecording:  cfg.MaxRecording,
		meterInterval: cfg.MeterInterval,
		log:           logger.Global().Module("workflow"),
		state:         StateIdle,
		level:         myaudio.SilenceDBFS,
		subscribers:   make(map[int]chan Snapshot),
	}
	if w.prompter == nil {
		w.prompter = PrompterFunc(func(context.Context, string) Decision { return DecisionCancel })
	}
	if w.maxRecording <= 0 {
		w.maxRecording = DefaultMaxRecording
	}
	if w.meterInterval <= 0 {
		w.meterInterval = DefaultMeterInterval
	}
	return w, nil
}

func invalidState(op string, s State) error {
	return errors.New(fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, op, s)).
		Component("workflow").
		Category(errors.CategoryState).
		Context("operation", op).
		Context("state", s.String()).
		Build()
}

// StartRecording moves Idle to Recording. It starts capture, the metering
// task and the auto-stop timer.
func (w *Workflow) StartRecording(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateIdle {
		return invalidState("start recording", w.state)
	}
	if w.capture == nil {
		return errors.Newf("no audio capture configured").
			Component("workflow").
			Category(errors.CategoryAudioSource).
			Build()
	}

	if err := w.capture.Start(ctx); err != nil {
		return err
	}

	w.state = StateRecording
	w.audioPath = ""
	w.result = nil
	w.lastErr = ""
	w.level = myaudio.SilenceDBFS

	w.meter = periodic.New(w.meterInterval, w.sampleLevel)
	w.meter.Start(ctx)
	w.autoStop = time.AfterFunc(w.maxRecording, func() {
		w.log.Debug("recording reached maximum length", logger.Duration("max", w.maxRecording))
		if err := w.StopRecording(); err != nil {
			w.log.Warn("automatic stop failed", logger.Error(err))
		}
	})

	w.publishLocked()
	return nil
}

func (w *Workflow) sampleLevel(context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRecording || w.stopping {
		return
	}
	w.level = w.capture.Level()
	w.publishLocked()
}

// StopRecording moves Recording to Recorded. The manual stop and the
// auto-stop timer race; whichever comes second returns nil and does nothing.
func (w *Workflow) StopRecording() error {
	w.mu.Lock()
	if w.state != StateRecording || w.stopping {
		w.mu.Unlock()
		return nil
	}
	w.stopping = true
	meter, timer := w.meter, w.autoStop
	w.meter, w.autoStop = nil, nil
	w.mu.Unlock()

	timer.Stop()
	meter.Stop()
	path, err := w.capture.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopping = false
	w.level = myaudio.SilenceDBFS
	if err != nil {
		w.state = StateIdle
		w.lastErr = err.Error()
		w.publishLocked()
		return err
	}

	w.state = StateRecorded
	w.audioPath = path
	w.publishLocked()
	return nil
}

// CancelRecording abandons a recording in progress and returns to Idle.
func (w *Workflow) CancelRecording() {
	w.mu.Lock()
	if w.state != StateRecording || w.stopping {
		w.mu.Unlock()
		return
	}
	w.stopping = true
	meter, timer := w.meter, w.autoStop
	w.meter, w.autoStop = nil, nil
	w.mu.Unlock()

	timer.Stop()
	meter.Stop()
	w.capture.Cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopping = false
	w.state = StateIdle
	w.level = myaudio.SilenceDBFS
	w.publishLocked()
}

// LoadFile selects an existing audio file, moving Idle, Recorded or Result
// to Recorded.
func (w *Workflow) LoadFile(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is a directory", path)
		}
		return errors.New(fmt.Errorf("%w: %w", backend.ErrFileNotFound, err)).
			Component("workflow").
			Category(errors.CategoryValidation).
			FileContext(path, 0).
			Build()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateIdle, StateRecorded, StateResult:
	default:
		return invalidState("load a file", w.state)
	}

	w.state = StateRecorded
	w.audioPath = path
	w.result = nil
	w.lastErr = ""
	w.publishLocked()
	return nil
}

// Clear discards the recorded file reference without uploading it.
func (w *Workflow) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateRecorded {
		return invalidState("clear", w.state)
	}
	w.state = StateIdle
	w.audioPath = ""
	w.lastErr = ""
	w.publishLocked()
	return nil
}

// Send uploads the recorded file. On failure the Prompter decides between
// Retry, which calls Retry with the same request, and Cancel, which returns
// to Recorded. The returned error is the last upload error, or nil once an
// attempt succeeds.
func (w *Workflow) Send(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateRecorded {
		state := w.state
		w.mu.Unlock()
		return invalidState("send", state)
	}
	req := backend.Request{AudioPath: w.audioPath}
	w.mu.Unlock()

	return w.Retry(ctx, req)
}

// Retry runs the full validation and upload sequence for req. It is how
// Send makes its first attempt and how every user-chosen retry re-runs.
func (w *Workflow) Retry(ctx context.Context, req backend.Request) error {
	for {
		err := w.attempt(ctx, req)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidState) {
			return err
		}

		if w.prompter.Confirm(ctx, err.Error()) != DecisionRetry || ctx.Err() != nil {
			w.cancelUpload(req)
			return err
		}
		w.log.Info("retrying upload", logger.String("path", req.AudioPath))
	}
}

// attempt performs one upload of req and applies its outcome.
func (w *Workflow) attempt(ctx context.Context, req backend.Request) error {
	w.mu.Lock()
	switch {
	case w.inFlight:
		w.mu.Unlock()
		return invalidState("send", StateUploading)
	case w.state != StateRecorded && w.state != StateUploading:
		state := w.state
		w.mu.Unlock()
		return invalidState("send", state)
	}
	w.inFlight = true
	w.state = StateUploading
	w.audioPath = req.AudioPath
	w.lastErr = ""
	w.publishLocked()
	w.mu.Unlock()

	resp, err := w.uploader.Upload(ctx, req.AudioPath)
	if err == nil && (!resp.Success || resp.Result == nil) {
		msg := resp.Message
		if msg == "" {
			msg = "identification failed"
		}
		err = errors.Newf("%s", msg).
			Component("workflow").
			Category(errors.CategoryHTTP).
			Build()
	}

	if err != nil {
		w.mu.Lock()
		w.inFlight = false
		w.lastErr = err.Error()
		w.publishLocked()
		w.mu.Unlock()

		w.log.Warn("upload failed",
			logger.String("path", req.AudioPath),
			logger.String("category", string(errors.CategoryOf(err))),
			logger.Error(err))
		return err
	}

	result := *resp.Result
	entry := w.history.Append(history.NewEntry{
		Species:        result.Species,
		ScientificName: result.ScientificName,
		Confidence:     result.Confidence,
		AudioURI:       req.AudioPath,
	})

	w.mu.Lock()
	w.inFlight = false
	w.state = StateResult
	w.result = &result
	w.publishLocked()
	w.mu.Unlock()

	if w.navigate != nil {
		w.navigate(Navigation{
			EntryID:        entry.ID,
			Species:        result.Species,
			ScientificName: result.ScientificName,
			Confidence:     result.Confidence,
			AudioPath:      req.AudioPath,
		})
	}
	return nil
}

// cancelUpload returns a failed upload to Recorded, keeping the file.
func (w *Workflow) cancelUpload(req backend.Request) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateUploading && !w.inFlight {
		w.state = StateRecorded
		w.audioPath = req.AudioPath
		w.publishLocked()
	}
}

// RecordAnother leaves the result view and returns to Idle.
func (w *Workflow) RecordAnother() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateResult {
		return invalidState("record another", w.state)
	}
	w.state = StateIdle
	w.audioPath = ""
	w.result = nil
	w.lastErr = ""
	w.publishLocked()
	return nil
}

// State returns the current state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Result returns the last identification, or nil outside StateResult.
func (w *Workflow) Result() *backend.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return nil
	}
	r := *w.result
	return &r
}

// Snapshot returns the full observable state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Workflow) snapshotLocked() Snapshot {
	s := Snapshot{
		State:     w.state,
		AudioPath: w.audioPath,
		Level:     w.level,
		Error:     w.lastErr,
	}
	if w.result != nil {
		r := *w.result
		s.Result = &r
	}
	return s
}

// Subscribe returns a channel that always holds the newest snapshot and a
// cancel func that closes it.
func (w *Workflow) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	w.mu.Lock()
	id := w.nextSubID
	w.nextSubID++
	w.subscribers[id] = ch
	ch <- w.snapshotLocked()
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if sub, ok := w.subscribers[id]; ok {
				delete(w.subscribers, id)
				close(sub)
			}
		})
	}
}

func (w *Workflow) publishLocked() {
	snapshot := w.snapshotLocked()
	for _, ch := range w.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

// Close abandons any recording and closes subscriber channels.
func (w *Workflow) Close() {
	w.CancelRecording()

	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ch := range w.subscribers {
		delete(w.subscribers, id)
		close(ch)
	}
}
