// Package app holds the state shared by the CLI commands: build metadata,
// loaded settings and the service graph built from them.
package app

import (
	"net/http"

	"github.com/chirpid/chirpid/internal/backend"
	"github.com/chirpid/chirpid/internal/buildinfo"
	"github.com/chirpid/chirpid/internal/conf"
	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/httpclient"
	"github.com/chirpid/chirpid/internal/logger"
	"github.com/chirpid/chirpid/internal/myaudio"
	"github.com/chirpid/chirpid/internal/observability"
	"github.com/chirpid/chirpid/internal/wikipedia"
)

// Context is created in main and filled in by the root command before any
// subcommand runs.
type Context struct {
	Build      *buildinfo.Context
	ConfigFile string
	Settings   *conf.Settings
	Metrics    *observability.Metrics

	// Transport replaces the network transport of every HTTP client; tests
	// set it to an httpmock transport.
	Transport http.RoundTripper

	logger *logger.CentralLogger
}

// NewContext returns a Context carrying build metadata.
func NewContext(build *buildinfo.Context) *Context {
	return &Context{Build: build}
}

// Services are the clients a command needs to talk to the outside world.
type Services struct {
	HTTP      *httpclient.Client
	Backend   *backend.Client
	Wikipedia *wikipedia.Client
}

// NewServices builds the HTTP, backend and Wikipedia clients from settings.
func (c *Context) NewServices() (*Services, error) {
	if c.Settings == nil {
		return nil, errors.Newf("settings not loaded").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	s := c.Settings

	httpClient := httpclient.New(&httpclient.Config{
		DefaultTimeout: s.Backend.Timeout,
		UserAgent:      c.Build.UserAgent(),
		Transport:      c.Transport,
	})

	backendCfg := backend.Config{
		BaseURL:     s.Backend.URL,
		HTTPClient:  httpClient,
		Prober:      &myaudio.Prober{Timeout: s.Backend.ProbeTimeout},
		PingTimeout: s.Backend.PingTimeout,
	}
	wikiCfg := wikipedia.Config{
		BaseURL:     s.Wikipedia.BaseURL,
		APIURL:      s.Wikipedia.APIURL,
		HTTPClient:  httpClient,
		UserAgent:   c.Build.UserAgent(),
		Timeout:     s.Wikipedia.Timeout,
		CacheTTL:    s.Wikipedia.CacheTTL,
		NegativeTTL: s.Wikipedia.NegativeTTL,
		RateLimit:   s.Wikipedia.RateLimit,
		Burst:       s.Wikipedia.Burst,
	}
	if c.Metrics != nil {
		c.Metrics.InstrumentHTTPClient(httpClient)
		backendCfg.Metrics = c.Metrics.Backend
		wikiCfg.Metrics = c.Metrics.Wikipedia
	}

	backendClient, err := backend.NewClient(backendCfg)
	if err != nil {
		httpClient.Close()
		return nil, err
	}

	return &Services{
		HTTP:      httpClient,
		Backend:   backendClient,
		Wikipedia: wikipedia.NewClient(wikiCfg),
	}, nil
}

// Close releases idle connections.
func (s *Services) Close() {
	if s != nil && s.HTTP != nil {
		s.HTTP.Close()
	}
}

// NewRecorder returns a microphone recorder for the configured device.
func (c *Context) NewRecorder() *myaudio.Recorder {
	rec := c.Settings.Recording
	return myaudio.NewRecorder(
		myaudio.NewMalgoSource(rec.Device, rec.SampleRate),
		myaudio.RecorderConfig{Dir: rec.Dir, MaxDuration: rec.MaxDuration},
	)
}

// NewPlayer returns a player for the default output device.
func (c *Context) NewPlayer() *myaudio.Player {
	return myaudio.NewPlayer(myaudio.NewMalgoSink())
}
