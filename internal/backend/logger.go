package backend

import "github.com/chirpid/chirpid/internal/logger"

// GetLogger returns the backend module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("backend")
}
