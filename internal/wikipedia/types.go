package wikipedia

import "github.com/chirpid/chirpid/internal/errors"

// Info is the reference information shown for a species.
type Info struct {
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	ThumbnailURL string       `json:"thumbnailUrl,omitempty"` // empty when the page has no lead image
	PageURL      string       `json:"pageUrl,omitempty"`
	Attribution  *Attribution `json:"attribution,omitempty"` // image credit; set by Describe only
}

// Lookup failures. Summary and Lookup return enhanced errors wrapping these.
var (
	ErrNotFound  = errors.NewStd("no Wikipedia page found")
	ErrAmbiguous = errors.NewStd("title is ambiguous")
)

// disambiguationMarker in an extract identifies a disambiguation page.
const disambiguationMarker = "may refer to:"
