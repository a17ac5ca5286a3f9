// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every generic override, e.g. CHIRPID_STATUS_INTERVAL.
const EnvPrefix = "CHIRPID"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVars   []string           // Environment variable names, first set wins
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicit environment bindings.
// EXPO_PUBLIC_API_URL is the variable name used by the mobile client builds.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"backend.url", []string{"CHIRPID_API_URL", "EXPO_PUBLIC_API_URL"}, validateEnvURL},
		{"backend.probetimeout", []string{"CHIRPID_PROBE_TIMEOUT"}, validateEnvDuration},
		{"status.interval", []string{"CHIRPID_STATUS_INTERVAL"}, validateEnvDuration},
		{"wikipedia.baseurl", []string{"CHIRPID_WIKIPEDIA_URL"}, validateEnvURL},
		{"mqtt.enabled", []string{"CHIRPID_MQTT_ENABLED"}, validateEnvBool},
		{"mqtt.broker", []string{"CHIRPID_MQTT_BROKER"}, validateEnvURL},
		{"metrics.enabled", []string{"CHIRPID_METRICS_ENABLED"}, validateEnvBool},
		{"sentry.dsn", []string{"CHIRPID_SENTRY_DSN", "SENTRY_DSN"}, nil},
		{"debug", []string{"CHIRPID_DEBUG"}, validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var warnings []string

	for _, binding := range getEnvBindings() {
		args := append([]string{binding.ConfigKey}, binding.EnvVars...)
		if err := viper.BindEnv(args...); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.ConfigKey, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		for _, env := range binding.EnvVars {
			value := os.Getenv(env)
			if value == "" {
				continue
			}
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value '%s': %v", env, value, err))
			}
			break
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

// validateEnvDuration accepts Go duration strings such as "30s" or "1m".
func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

// validateEnvURL requires an absolute URL with a scheme and host.
func validateEnvURL(value string) error {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL must include scheme and host, e.g. http://host:5001")
	}
	return nil
}
