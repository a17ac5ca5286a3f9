package observability

import "github.com/chirpid/chirpid/internal/logger"

// log is the package-level logger for observability.
var log = logger.Global().Module("observability")
