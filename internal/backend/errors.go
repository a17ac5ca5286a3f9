package backend

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chirpid/chirpid/internal/errors"
)

// Sentinel causes wrapped by the enhanced errors this package returns.
var (
	ErrNotReachable      = errors.NewStd("backend not reachable")
	ErrFileNotFound      = errors.NewStd("audio file does not exist")
	ErrRecordingTooLong  = errors.NewStd("recording too long")
	ErrRecordingTooShort = errors.NewStd("recording too short")
	ErrMissingResult     = errors.NewStd("identification response has success=true but no result")
	ErrBaseURLRequired   = errors.NewStd("backend base URL is required")
)

// ServerError is a non-2xx upload response. Message is the server's
// {"error": ...} text when present, otherwise the HTTP status text.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return e.Message
}

func newServerError(statusCode int, body []byte) *ServerError {
	msg := http.StatusText(statusCode)
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		msg = parsed.Error
	}
	if msg == "" {
		msg = fmt.Sprintf("unexpected status %d", statusCode)
	}
	return &ServerError{StatusCode: statusCode, Message: msg}
}
