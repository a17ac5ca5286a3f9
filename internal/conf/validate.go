// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/chirpid/chirpid/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("configuration errors: %s", strings.Join(ve.Errors, "; "))
}

// ErrBackendURLMissing is returned when no backend base URL is configured.
var ErrBackendURLMissing = errors.NewStd("backend URL is not configured: set backend.url in config.yaml or CHIRPID_API_URL")

// ValidateSettings validates the entire Settings struct. The returned error
// is categorized as a configuration error.
func ValidateSettings(settings *Settings) error {
	if settings == nil {
		return errors.Newf("settings are nil").
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if strings.TrimSpace(settings.Backend.URL) == "" {
		return errors.New(ErrBackendURLMissing).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("setting", "backend.url").
			Build()
	}

	ve := ValidationError{}

	if err := validateBackendSettings(&settings.Backend); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateRecordingSettings(&settings.Recording); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateWikipediaSettings(&settings.Wikipedia); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if settings.Status.Interval <= 0 {
		ve.Errors = append(ve.Errors, "status.interval must be positive")
	}
	if settings.MQTT.Enabled {
		if err := validateMQTTSettings(&settings.MQTT); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("error_count", len(ve.Errors)).
			Build()
	}

	return nil
}

func validateBackendSettings(b *BackendSettings) error {
	// trailing slashes would produce //ping
	b.URL = strings.TrimRight(strings.TrimSpace(b.URL), "/")

	if err := validateEnvURL(b.URL); err != nil {
		return fmt.Errorf("backend.url: %w", err)
	}
	u, _ := url.Parse(b.URL)
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url: unsupported scheme %q", u.Scheme)
	}
	if b.ProbeTimeout <= 0 {
		return fmt.Errorf("backend.probetimeout must be positive")
	}
	return nil
}

func validateRecordingSettings(r *RecordingSettings) error {
	if r.SampleRate < 8000 || r.SampleRate > 192000 {
		return fmt.Errorf("recording.samplerate must be between 8000 and 192000, got %d", r.SampleRate)
	}
	if r.MaxDuration <= 0 {
		return fmt.Errorf("recording.maxduration must be positive")
	}
	if r.MeterInterval <= 0 {
		return fmt.Errorf("recording.meterinterval must be positive")
	}
	return nil
}

func validateWikipediaSettings(w *WikipediaSettings) error {
	w.BaseURL = strings.TrimRight(strings.TrimSpace(w.BaseURL), "/")
	if err := validateEnvURL(w.BaseURL); err != nil {
		return fmt.Errorf("wikipedia.baseurl: %w", err)
	}
	w.APIURL = strings.TrimSpace(w.APIURL)
	if w.APIURL != "" {
		if err := validateEnvURL(w.APIURL); err != nil {
			return fmt.Errorf("wikipedia.apiurl: %w", err)
		}
	}
	if w.RateLimit <= 0 {
		return fmt.Errorf("wikipedia.ratelimit must be positive")
	}
	return nil
}

func validateMQTTSettings(m *MQTTSettings) error {
	if m.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if m.Topic == "" {
		return fmt.Errorf("mqtt.topic is required when mqtt is enabled")
	}
	if m.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if m.HomeAssistant.Enabled && m.HomeAssistant.DiscoveryPrefix == "" {
		return fmt.Errorf("mqtt.homeassistant.discoveryprefix is required when discovery is enabled")
	}
	return nil
}
