package myaudio

import (
	"context"
	"os"
	"time"

	"github.com/go-audio/wav"

	"github.com/chirpid/chirpid/internal/errors"
)

// DefaultProbeTimeout bounds how long a duration read may take.
const DefaultProbeTimeout = 2 * time.Second

// ErrProbeTimeout is returned when reading the duration exceeds the probe timeout.
var ErrProbeTimeout = errors.NewStd("timed out reading audio duration")

// ReadDuration returns the duration of a WAV file in seconds, computed from
// the size of its PCM data chunk.
func ReadDuration(path string) (float64, error) {
	file, err := os.Open(path) //nolint:gosec // caller supplies the recording path
	if err != nil {
		return 0, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	defer file.Close() //nolint:errcheck // read only

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return 0, errors.Newf("invalid WAV file format").
			Component("myaudio").
			Category(errors.CategoryValidation).
			FileContext(path, 0).
			Build()
	}

	// the RIFF size includes header chunks, so measure the data chunk itself
	if err := decoder.FwdToPCM(); err != nil {
		return 0, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryValidation).
			Context("operation", "read_wav_duration").
			Build()
	}

	bytesPerSecond := int64(decoder.SampleRate) * int64(decoder.NumChans) * int64(decoder.BitDepth) / 8
	if bytesPerSecond <= 0 {
		return 0, errors.Newf("invalid WAV format: %d Hz, %d channels, %d bits",
			decoder.SampleRate, decoder.NumChans, decoder.BitDepth).
			Component("myaudio").
			Category(errors.CategoryValidation).
			FileContext(path, 0).
			Build()
	}

	return float64(decoder.PCMLen()) / float64(bytesPerSecond), nil
}

// Prober reads audio durations with an upper bound on how long the read may take.
type Prober struct {
	// Timeout defaults to DefaultProbeTimeout.
	Timeout time.Duration
	// Read defaults to ReadDuration.
	Read func(path string) (float64, error)
}

type probeResult struct {
	seconds float64
	err     error
}

// Probe returns the duration of path in seconds. A read that outlives the
// timeout yields ErrProbeTimeout; ctx cancellation yields ctx.Err().
func (p *Prober) Probe(ctx context.Context, path string) (float64, error) {
	timeout := DefaultProbeTimeout
	read := ReadDuration
	if p != nil {
		if p.Timeout > 0 {
			timeout = p.Timeout
		}
		if p.Read != nil {
			read = p.Read
		}
	}

	done := make(chan probeResult, 1)
	go func() {
		seconds, err := read(path)
		done <- probeResult{seconds: seconds, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.seconds, res.err
	case <-timer.C:
		return 0, errors.New(ErrProbeTimeout).
			Component("myaudio").
			Category(errors.CategoryTimeout).
			Timing("probe_duration", timeout).
			Build()
	case <-ctx.Done():
		return 0, errors.New(ctx.Err()).
			Component("myaudio").
			Category(errors.CategoryCancellation).
			Build()
	}
}
