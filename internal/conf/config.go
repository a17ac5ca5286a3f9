// Package conf loads chirpid settings from config.yaml, environment variables
// and command-line flags through viper.
package conf

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/logger"
)

// BackendSettings contains settings for the identification backend
type BackendSettings struct {
	URL          string        `yaml:"url" mapstructure:"url"`                   // base URL, e.g. http://192.168.1.10:5001
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`           // upload request timeout
	PingTimeout  time.Duration `yaml:"pingtimeout" mapstructure:"pingtimeout"`   // reachability probe timeout
	ProbeTimeout time.Duration `yaml:"probetimeout" mapstructure:"probetimeout"` // bound on reading the audio duration
}

// RecordingSettings contains microphone capture settings
type RecordingSettings struct {
	Dir           string        `yaml:"dir" mapstructure:"dir"`                     // where recordings are written
	Device        string        `yaml:"device" mapstructure:"device"`               // capture device name, empty for system default
	SampleRate    int           `yaml:"samplerate" mapstructure:"samplerate"`       // capture sample rate in Hz
	MaxDuration   time.Duration `yaml:"maxduration" mapstructure:"maxduration"`     // auto-stop after this long
	MeterInterval time.Duration `yaml:"meterinterval" mapstructure:"meterinterval"` // metering poll interval
}

// WikipediaSettings contains settings for the species information lookup
type WikipediaSettings struct {
	BaseURL     string        `yaml:"baseurl" mapstructure:"baseurl"`         // REST API base
	APIURL      string        `yaml:"apiurl" mapstructure:"apiurl"`           // action API for image credits; derived from baseurl when empty
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`         // per-request timeout
	CacheTTL    time.Duration `yaml:"cachettl" mapstructure:"cachettl"`       // how long found pages are cached
	NegativeTTL time.Duration `yaml:"negativettl" mapstructure:"negativettl"` // how long misses are cached
	RateLimit   float64       `yaml:"ratelimit" mapstructure:"ratelimit"`     // background lookups per second
	Burst       int           `yaml:"burst" mapstructure:"burst"`             // background lookup burst
}

// StatusSettings contains settings for the backend status monitor
type StatusSettings struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"` // how often the backend is pinged
}

// MQTTSettings contains settings for publishing identifications to a broker
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	ClientID string `yaml:"clientid" mapstructure:"clientid"`
	QoS      byte   `yaml:"qos" mapstructure:"qos"`
	Retain   bool   `yaml:"retain" mapstructure:"retain"`

	HomeAssistant HomeAssistantSettings `yaml:"homeassistant" mapstructure:"homeassistant"`
}

// HomeAssistantSettings controls Home Assistant MQTT auto-discovery
type HomeAssistantSettings struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	DiscoveryPrefix string `yaml:"discoveryprefix" mapstructure:"discoveryprefix"` // usually "homeassistant"
	DeviceName      string `yaml:"devicename" mapstructure:"devicename"`
}

// MetricsSettings contains settings for the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"` // host:port for /metrics
}

// SentrySettings contains settings for error telemetry
type SentrySettings struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"` // empty disables reporting
}

// Settings is the complete chirpid configuration
type Settings struct {
	Debug     bool                 `yaml:"debug" mapstructure:"debug"`
	Backend   BackendSettings      `yaml:"backend" mapstructure:"backend"`
	Recording RecordingSettings    `yaml:"recording" mapstructure:"recording"`
	Wikipedia WikipediaSettings    `yaml:"wikipedia" mapstructure:"wikipedia"`
	Status    StatusSettings       `yaml:"status" mapstructure:"status"`
	MQTT      MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
	Metrics   MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Sentry    SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads config.yaml (from configFile when set, otherwise the default
// search paths), applies environment overrides and validates the result.
// A missing config file is not an error; a missing backend URL is.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settings, nil
}

// initViper registers defaults, env bindings and config paths, then reads the config file.
func initViper(configFile string) error {
	setDefaults(viper.GetViper())

	if err := bindEnvVars(); err != nil {
		return errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "bind-env").
			Build()
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, path := range GetDefaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Build()
	}

	return nil
}

// ConfigFileUsed returns the path of the config file that was read, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in priority order.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return append(paths, filepath.Join(appData, "chirpid"))
		}
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "chirpid"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "chirpid"))
	}
	return paths
}

// GetSettings returns the settings from the last successful Load, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
