package workflow

import (
	"github.com/chirpid/chirpid/internal/backend"
)

// State is the position of the identification flow.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateRecorded
	StateUploading
	StateResult
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateRecorded:
		return "recorded"
	case StateUploading:
		return "uploading"
	case StateResult:
		return "result"
	default:
		return "unknown"
	}
}

// Snapshot is an observer's view of the workflow.
type Snapshot struct {
	State     State
	AudioPath string
	// Level is the latest metering sample in dBFS while recording.
	Level  float64
	Result *backend.Result
	// Error is the message of the last failed upload, cleared on the next attempt.
	Error string
}

// Navigation is emitted once per successful identification, carrying what
// the details view needs.
type Navigation struct {
	EntryID        string
	Species        string
	ScientificName string
	Confidence     float64
	AudioPath      string
}

// Decision is the user's answer to a failed upload.
type Decision int

const (
	DecisionCancel Decision = iota
	DecisionRetry
)

func (d Decision) String() string {
	if d == DecisionRetry {
		return "Retry"
	}
	return "Cancel"
}
