package metrics

import "time"

// Operation names recorded through Recorder.
const (
	OpPing        = "ping"
	OpUpload      = "upload"
	OpValidate    = "validate"
	OpSummary     = "summary"
	OpLookup      = "lookup"
	OpAttribution = "attribution"
	OpEnrich      = "enrich"
	OpAppend      = "append"
	OpPublish     = "publish"
	OpStatusPoll  = "status_poll"
)

// Status values recorded through Recorder.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRejected = "rejected"
	StatusNotFound = "not_found"
	StatusSkipped  = "skipped"
)

const namespace = "chirpid"

// ShutdownTimeout bounds graceful shutdown of the metrics endpoint.
const ShutdownTimeout = 5 * time.Second
