package wikipedia

import "github.com/chirpid/chirpid/internal/logger"

// GetLogger returns the wikipedia module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("wikipedia")
}
