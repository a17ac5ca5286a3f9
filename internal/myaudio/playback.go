package myaudio

import (
	"encoding/binary"
	"os"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/go-audio/wav"

	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/logger"
)

// ReadPCM decodes a WAV file into little-endian 16-bit PCM. Other bit
// depths are rescaled to 16 bits.
func ReadPCM(path string) ([]byte, Format, error) {
	file, err := os.Open(path) //nolint:gosec // caller supplies the recording path
	if err != nil {
		return nil, Format{}, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	defer file.Close() //nolint:errcheck // read only

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, Format{}, errors.Newf("invalid WAV file format").
			Component("myaudio").
			Category(errors.CategoryValidation).
			FileContext(path, 0).
			Build()
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Context("operation", "decode_wav").
			FileContext(path, 0).
			Build()
	}

	format := Format{SampleRate: int(decoder.SampleRate), Channels: int(decoder.NumChans)}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, Format{}, errors.Newf("invalid WAV format: %d Hz, %d channels", format.SampleRate, format.Channels).
			Component("myaudio").
			Category(errors.CategoryValidation).
			FileContext(path, 0).
			Build()
	}

	depth := int(decoder.BitDepth)
	pcm := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(toInt16(sample, depth))) //nolint:gosec // two's complement
	}
	return pcm, format, nil
}

// toInt16 rescales a sample of the given bit depth to 16 bits. 8-bit WAV
// samples are unsigned.
func toInt16(sample, depth int) int16 {
	switch {
	case depth == 8:
		return int16((sample - 128) << 8) //nolint:gosec // 8-bit range
	case depth > 16:
		return int16(sample >> (depth - 16)) //nolint:gosec // shifted into range
	case depth < 16 && depth > 0:
		return int16(sample << (16 - depth)) //nolint:gosec // shifted into range
	default:
		return int16(sample) //nolint:gosec // 16-bit range
	}
}

// Sink plays 16-bit PCM. Play returns once playback has started and calls
// finished, from another goroutine, when the audio has run out.
type Sink interface {
	Play(pcm []byte, format Format, finished func()) error
	Stop() error
}

// Player plays one WAV file at a time. Starting a new clip stops the
// current one.
type Player struct {
	sink Sink
	read func(path string) ([]byte, Format, error)
	log  logger.Logger

	mu      sync.Mutex
	current string
	gen     uint64
}

// NewPlayer returns a Player writing to sink.
func NewPlayer(sink Sink) *Player {
	return &Player{
		sink: sink,
		read: ReadPCM,
		log:  GetLogger().Module("playback"),
	}
}

// Play starts path from the beginning, replacing any clip already playing.
func (p *Player) Play(path string) error {
	pcm, format, err := p.read(path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.gen++
	gen := p.gen
	if err := p.sink.Play(pcm, format, func() { p.finished(gen) }); err != nil {
		return err
	}
	p.current = path
	p.log.Debug("playback started", logger.String("path", path))
	return nil
}

// Toggle stops playback when path is the clip playing, and otherwise starts
// it from the beginning. It reports whether path is playing afterwards.
func (p *Player) Toggle(path string) (bool, error) {
	p.mu.Lock()
	if p.current != "" && p.current == path {
		p.stopLocked()
		p.mu.Unlock()
		return false, nil
	}
	p.mu.Unlock()

	if err := p.Play(path); err != nil {
		return false, err
	}
	return true, nil
}

// Stop ends playback. It is a no-op when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Playing returns the path being played, or "" when idle.
func (p *Player) Playing() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Player) stopLocked() {
	if p.current == "" {
		return
	}
	p.current = ""
	p.gen++
	if err := p.sink.Stop(); err != nil {
		p.log.Warn("playback device did not stop cleanly", logger.Error(err))
	}
}

// finished handles the end of the clip started as generation gen.
func (p *Player) finished(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return
	}
	p.stopLocked()
}

// MalgoSink plays through a system output device via miniaudio.
type MalgoSink struct {
	log logger.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewMalgoSink returns a sink for the default output device.
func NewMalgoSink() *MalgoSink {
	return &MalgoSink{log: GetLogger().Module("playback")}
}

// Play implements Sink.
func (s *MalgoSink) Play(pcm []byte, format Format, finished func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.releaseLocked(); err != nil {
		s.log.Warn("previous playback did not stop cleanly", logger.Error(err))
	}

	ctx, err := malgo.InitContext(captureBackends(), malgo.ContextConfig{}, func(message string) {
		s.log.Trace("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Context("operation", "init_playback_context").
			Build()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	// pos and done are only touched from the device callback
	var pos int
	var done bool
	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			n := copy(output, pcm[pos:])
			pos += n
			clear(output[n:])
			if pos >= len(pcm) && !done {
				done = true
				// the device cannot be stopped from its own callback
				go finished()
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		uninitContext(ctx)
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Context("operation", "init_playback_device").
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		uninitContext(ctx)
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Context("operation", "start_playback_device").
			Build()
	}

	s.ctx = ctx
	s.device = device
	return nil
}

// Stop implements Sink. Calling it when idle is a no-op.
func (s *MalgoSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked()
}

func (s *MalgoSink) releaseLocked() error {
	if s.device == nil {
		return nil
	}

	var stopErr error
	if err := s.device.Stop(); err != nil {
		stopErr = errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Context("operation", "stop_playback_device").
			Build()
	}
	s.device.Uninit()
	s.device = nil
	uninitContext(s.ctx)
	s.ctx = nil
	return stopErr
}
