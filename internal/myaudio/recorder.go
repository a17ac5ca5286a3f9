package myaudio

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/logger"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Dir         string        // directory for finished WAV files
	MaxDuration time.Duration // capture buffer is sized for this much audio
}

// Recorder captures one recording at a time from a Source into a ring buffer
// and writes it out as WAV when stopped.
type Recorder struct {
	source Source
	config RecorderConfig
	log    logger.Logger

	mu        sync.Mutex
	buffer    *ringbuffer.RingBuffer
	recording bool
	startedAt time.Time

	level   atomic.Uint64 // math.Float64bits of the latest dBFS
	dropped atomic.Int64  // bytes lost because the buffer was full
	now     func() time.Time
}

// NewRecorder returns a Recorder reading from source.
func NewRecorder(source Source, config RecorderConfig) *Recorder {
	if config.MaxDuration <= 0 {
		config.MaxDuration = 60 * time.Second
	}
	if config.Dir == "" {
		config.Dir = "recordings"
	}

	r := &Recorder{
		source: source,
		config: config,
		log:    GetLogger().Module("recorder"),
		now:    time.Now,
	}
	r.level.Store(math.Float64bits(SilenceDBFS))
	return r
}

// Start begins a new recording. It fails if one is already in progress.
func (r *Recorder) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return errors.Newf("recording already in progress").
			Component("myaudio").
			Category(errors.CategoryState).
			Build()
	}

	format := r.source.Format()
	// one extra second absorbs callback jitter around the auto-stop
	capacity := format.bytesPerSecond() * (int(r.config.MaxDuration/time.Second) + 1)
	r.buffer = ringbuffer.New(capacity)
	r.dropped.Store(0)
	r.level.Store(math.Float64bits(SilenceDBFS))

	buffer := r.buffer
	if err := r.source.Start(func(pcm []byte) { r.onData(buffer, pcm) }); err != nil {
		r.buffer = nil
		return err
	}

	r.recording = true
	r.startedAt = r.now()
	r.log.Debug("recording started", logger.Int("buffer_bytes", capacity))
	return nil
}

// onData runs on the audio callback thread; it must not block.
func (r *Recorder) onData(buffer *ringbuffer.RingBuffer, pcm []byte) {
	n, err := buffer.Write(pcm)
	if err != nil && n < len(pcm) {
		r.dropped.Add(int64(len(pcm) - n))
	}
	r.level.Store(math.Float64bits(CalculateLevel(pcm).DBFS))
}

// Stop ends the recording and writes it to a new WAV file, returning its path.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return "", errors.Newf("no recording in progress").
			Component("myaudio").
			Category(errors.CategoryState).
			Build()
	}
	r.recording = false

	stopErr := r.source.Stop()

	pcm := make([]byte, r.buffer.Length())
	if _, err := r.buffer.Read(pcm); err != nil && len(pcm) > 0 {
		return "", errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Context("operation", "drain_capture_buffer").
			Build()
	}
	r.buffer = nil

	format := r.source.Format()
	if limit := format.maxBytes(r.config.MaxDuration); len(pcm) > limit {
		r.dropped.Add(int64(len(pcm) - limit))
		pcm = pcm[:limit]
	}

	path := filepath.Join(r.config.Dir, fmt.Sprintf("recording-%s.wav", r.startedAt.Format("20060102-150405.000")))
	if err := SavePCMDataToWAV(path, pcm, format); err != nil {
		return "", err
	}

	if dropped := r.dropped.Load(); dropped > 0 {
		r.log.Warn("capture exceeded the maximum duration", logger.Int64("dropped_bytes", dropped))
	}
	if stopErr != nil {
		r.log.Warn("capture device did not stop cleanly", logger.Error(stopErr))
	}

	r.log.Info("recording saved",
		logger.String("path", path),
		logger.Duration("length", r.now().Sub(r.startedAt)))
	return path, nil
}

// Cancel discards an in-progress recording without writing a file.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return
	}
	r.recording = false
	if err := r.source.Stop(); err != nil {
		r.log.Warn("capture device did not stop cleanly", logger.Error(err))
	}
	r.buffer = nil
}

// Level returns the most recent metering value in dBFS.
func (r *Recorder) Level() float64 {
	return math.Float64frombits(r.level.Load())
}

// Recording reports whether a recording is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}
