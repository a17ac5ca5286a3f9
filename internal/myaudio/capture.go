package myaudio

import (
	"runtime"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/logger"
)

// Source delivers captured 16-bit PCM to onData until Stop is called.
type Source interface {
	Start(onData func(pcm []byte)) error
	Stop() error
	Format() Format
}

// MalgoSource captures from a system audio device through miniaudio.
type MalgoSource struct {
	deviceName string
	format     Format
	log        logger.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running bool
}

// NewMalgoSource returns a mono capture source. An empty deviceName selects
// the system default input.
func NewMalgoSource(deviceName string, sampleRate int) *MalgoSource {
	return &MalgoSource{
		deviceName: deviceName,
		format:     Format{SampleRate: sampleRate, Channels: 1},
		log:        GetLogger().Module("capture"),
	}
}

// Format returns the PCM format delivered to onData.
func (s *MalgoSource) Format() Format {
	return s.format
}

// captureBackends picks the native backend per platform; nil lets miniaudio decide.
func captureBackends() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

// Start initializes the audio context and begins capturing.
func (s *MalgoSource) Start(onData func(pcm []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.Newf("capture already running").
			Component("myaudio").
			Category(errors.CategoryState).
			Build()
	}

	ctx, err := malgo.InitContext(captureBackends(), malgo.ContextConfig{}, func(message string) {
		s.log.Trace("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Build()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(s.format.Channels)
	deviceConfig.SampleRate = uint32(s.format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if s.deviceName != "" {
		id, err := findCaptureDevice(ctx, s.deviceName)
		if err != nil {
			uninitContext(ctx)
			return err
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onData(input)
		},
		Stop: func() {
			s.log.Debug("capture device stopped")
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		uninitContext(ctx)
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_device").
			Context("device", s.deviceName).
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		uninitContext(ctx)
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "start_device").
			Build()
	}

	s.ctx = ctx
	s.device = device
	s.running = true
	s.log.Info("capture started",
		logger.String("device", s.deviceName),
		logger.Int("sample_rate", s.format.SampleRate))
	return nil
}

// Stop halts capture and releases the device. Calling Stop when not running is a no-op.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	var stopErr error
	if err := s.device.Stop(); err != nil {
		stopErr = errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "stop_device").
			Build()
	}
	s.device.Uninit()
	s.device = nil
	uninitContext(s.ctx)
	s.ctx = nil

	return stopErr
}

func uninitContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// findCaptureDevice matches name case-insensitively against capture device names.
func findCaptureDevice(ctx *malgo.AllocatedContext, name string) (malgo.DeviceID, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "list_devices").
			Build()
	}

	want := strings.ToLower(name)
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), want) {
			return infos[i].ID, nil
		}
	}

	return malgo.DeviceID{}, errors.Newf("capture device %q not found", name).
		Component("myaudio").
		Category(errors.CategoryNotFound).
		Context("available_devices", len(infos)).
		Build()
}

// ListCaptureDevices returns the names of available capture devices.
func ListCaptureDevices() ([]string, error) {
	ctx, err := malgo.InitContext(captureBackends(), malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Build()
	}
	defer uninitContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("operation", "list_devices").
			Build()
	}

	names := make([]string, 0, len(infos))
	for i := range infos {
		names = append(names, infos[i].Name())
	}
	return names, nil
}
