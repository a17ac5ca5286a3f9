package mqtt

import (
	"time"

	"github.com/chirpid/chirpid/internal/history"
)

// IdentificationDTO is the JSON payload published for each identification.
// The Home Assistant value templates in discovery.go read these field names.
type IdentificationDTO struct {
	Event          string  `json:"event"` // "appended" or "enriched"
	ID             string  `json:"id"`
	Date           string  `json:"date"` // "2026-05-01"
	Time           string  `json:"time"` // "06:30:00"
	Timestamp      string  `json:"timestamp"`
	CommonName     string  `json:"commonName"`
	ScientificName string  `json:"scientificName"`
	Confidence     float64 `json:"confidence"`
	AudioURI       string  `json:"audioUri,omitempty"`
	ImageURL       string  `json:"imageUrl,omitempty"`
}

// NewIdentificationDTO creates the payload for a history event.
func NewIdentificationDTO(ev history.Event) *IdentificationDTO {
	e := ev.Entry
	return &IdentificationDTO{
		Event:          ev.Type.String(),
		ID:             e.ID,
		Date:           e.Timestamp.Format("2006-01-02"),
		Time:           e.Timestamp.Format("15:04:05"),
		Timestamp:      e.Timestamp.Format(time.RFC3339),
		CommonName:     e.Species,
		ScientificName: e.ScientificName,
		Confidence:     e.Confidence,
		AudioURI:       e.AudioURI,
		ImageURL:       e.WikipediaImageURL,
	}
}
