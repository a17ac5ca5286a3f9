// Package myaudio records bird song from the microphone, writes it as 16-bit
// PCM WAV and reads WAV durations for upload validation.
package myaudio

import "github.com/chirpid/chirpid/internal/logger"

// GetLogger returns the myaudio logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("myaudio")
}
