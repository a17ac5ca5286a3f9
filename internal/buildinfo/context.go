// Package buildinfo carries build-time metadata injected at startup, separate
// from user configuration.
package buildinfo

import (
	"fmt"
	"runtime"
)

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

const (
	// AppName is the product name used in User-Agent strings.
	AppName = "ChirpID-App"
	// ContactURL is the contact reference Wikimedia's User-Agent policy asks for.
	ContactURL = "https://chirpid.app"
)

// Context contains build-time metadata that is not user-configurable.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string
}

// NewContext creates a build context.
func NewContext(version, buildDate string) *Context {
	return &Context{Version: version, BuildDate: buildDate}
}

// GetVersion returns the version, or UnknownValue.
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date, or UnknownValue.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// UserAgent builds a User-Agent following the Wikimedia policy format:
// <client name>/<version> (<contact information>) <library>/<version>
func (c *Context) UserAgent() string {
	version := c.GetVersion()
	if version == UnknownValue {
		version = "1.0"
	}
	return fmt.Sprintf("%s/%s (%s) Go-http-client/%s", AppName, version, ContactURL, runtime.Version())
}

// String renders the metadata for `chirpid --version`.
func (c *Context) String() string {
	return fmt.Sprintf("%s (built %s, %s)", c.GetVersion(), c.GetBuildDate(), runtime.Version())
}
