package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/chirpid/chirpid/internal/errors"
)

// DefaultSettings returns the built-in defaults with backendURL filled in.
func DefaultSettings(backendURL string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.Set("backend.url", backendURL)

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling defaults: %w", err)
	}
	return settings, nil
}

// SaveYAMLConfig writes settings to configPath atomically. An existing file is
// only replaced when overwrite is set.
func SaveYAMLConfig(configPath string, settings *Settings, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(configPath); err == nil {
			return errors.Newf("config file already exists: %s", configPath).
				Component("configuration").
				Category(errors.CategoryValidation).
				Build()
		}
	}

	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(err).
			Component("configuration").
			Category(errors.CategoryFileIO).
			FileContext(dir, 0).
			Build()
	}

	tempFile, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempName := tempFile.Name()
	defer os.Remove(tempName) //nolint:errcheck // best effort; gone after rename

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}
	if err := os.Chmod(tempName, 0o600); err != nil {
		return fmt.Errorf("error setting config file permissions: %w", err)
	}
	if err := os.Rename(tempName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}
