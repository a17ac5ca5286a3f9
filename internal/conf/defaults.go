// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with components that are constructed without Settings.
const (
	DefaultProbeTimeout   = 2 * time.Second
	DefaultStatusInterval = 30 * time.Second
	DefaultMeterInterval  = 100 * time.Millisecond
	DefaultMaxRecording   = 60 * time.Second
	DefaultWikipediaBase  = "https://en.wikipedia.org/api/rest_v1"
)

// setDefaults registers default values for the configuration on v.
// backend.url deliberately has no default.
func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("backend.timeout", 60*time.Second)
	v.SetDefault("backend.pingtimeout", 5*time.Second)
	v.SetDefault("backend.probetimeout", DefaultProbeTimeout)

	v.SetDefault("recording.dir", "recordings")
	v.SetDefault("recording.device", "")
	v.SetDefault("recording.samplerate", 44100)
	v.SetDefault("recording.maxduration", DefaultMaxRecording)
	v.SetDefault("recording.meterinterval", DefaultMeterInterval)

	v.SetDefault("wikipedia.baseurl", DefaultWikipediaBase)
	v.SetDefault("wikipedia.apiurl", "")
	v.SetDefault("wikipedia.timeout", 10*time.Second)
	v.SetDefault("wikipedia.cachettl", 24*time.Hour)
	v.SetDefault("wikipedia.negativettl", 15*time.Minute)
	v.SetDefault("wikipedia.ratelimit", 2.0)
	v.SetDefault("wikipedia.burst", 2)

	v.SetDefault("status.interval", DefaultStatusInterval)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "chirpid/identifications")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.clientid", "chirpid")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.homeassistant.enabled", false)
	v.SetDefault("mqtt.homeassistant.discoveryprefix", "homeassistant")
	v.SetDefault("mqtt.homeassistant.devicename", "ChirpID")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")

	v.SetDefault("sentry.dsn", "")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/chirpid.log")
	v.SetDefault("logging.file_output.level", "debug")
}
