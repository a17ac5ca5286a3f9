package backend

// PingResponse is the body of GET /ping.
type PingResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Result is a single species prediction.
type Result struct {
	Species        string  `json:"species"`
	Confidence     float64 `json:"confidence"` // probability in [0,1], not necessarily calibrated
	ScientificName string  `json:"scientificName,omitempty"`
}

// IdentificationResponse is the body of a 2xx upload response. When
// Success is true, Result is non-nil.
type IdentificationResponse struct {
	Success bool    `json:"success"`
	ID      string  `json:"id,omitempty"`
	Message string  `json:"message,omitempty"`
	Result  *Result `json:"result,omitempty"`
}

// Request is a validated identification request: a local audio file and its
// duration in seconds.
type Request struct {
	AudioPath       string
	DurationSeconds float64
}

// errorBody is the optional JSON body of a non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}
