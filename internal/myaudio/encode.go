package myaudio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/chirpid/chirpid/internal/errors"
)

// Format describes captured PCM. Only 16-bit samples are produced.
type Format struct {
	SampleRate int
	Channels   int
}

// BitDepth is the sample size of every recording.
const BitDepth = 16

// bytesPerSecond returns the PCM byte rate for f.
func (f Format) bytesPerSecond() int {
	return f.SampleRate * f.Channels * BitDepth / 8
}

// maxBytes is the PCM length of d, rounded down to whole frames.
func (f Format) maxBytes(d time.Duration) int {
	frame := f.Channels * BitDepth / 8
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return frames * frame
}

// SavePCMDataToWAV writes little-endian 16-bit PCM to filePath as a WAV file.
func SavePCMDataToWAV(filePath string, pcmData []byte, format Format) error {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return errors.Newf("invalid audio format: %d Hz, %d channels", format.SampleRate, format.Channels).
			Component("myaudio").
			Category(errors.CategoryValidation).
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("operation", "create_recording_dir").
			Build()
	}

	outFile, err := os.Create(filePath) //nolint:gosec // path built from configured recording dir
	if err != nil {
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			FileContext(filePath, 0).
			Build()
	}
	defer outFile.Close() //nolint:errcheck // encoder Close reports write errors

	enc := wav.NewEncoder(outFile, format.SampleRate, BitDepth, format.Channels, 1)

	buf := &audio.IntBuffer{
		Data:           pcmToInts(pcmData),
		Format:         &audio.Format{SampleRate: format.SampleRate, NumChannels: format.Channels},
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("operation", "wav_encode").
			Build()
	}

	if err := enc.Close(); err != nil {
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("operation", "wav_finalize").
			Build()
	}
	return nil
}

// pcmToInts converts little-endian 16-bit PCM to the encoder's int samples.
func pcmToInts(pcmData []byte) []int {
	samples := make([]int, len(pcmData)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcmData[2*i:])))
	}
	return samples
}
