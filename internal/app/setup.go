package app

import (
	"io"
	"time"

	"github.com/chirpid/chirpid/internal/conf"
	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/logger"
	"github.com/chirpid/chirpid/internal/observability"
)

// telemetryFlushTimeout bounds how long Shutdown waits for Sentry.
const telemetryFlushTimeout = 2 * time.Second

// Initialize loads and validates the configuration, then sets up logging,
// error telemetry and metrics. When interactive is set console logging is
// turned off and the log file is forced on, since stderr belongs to the
// terminal UI.
func (c *Context) Initialize(interactive bool, console io.Writer) error {
	settings, err := conf.Load(c.ConfigFile)
	if err != nil {
		return err
	}
	c.Settings = settings

	if err := c.setupLogging(interactive, console); err != nil {
		return err
	}

	if err := errors.InitSentry(settings.Sentry.DSN, c.Build.GetVersion()); err != nil {
		logger.Global().Module("app").Warn("error telemetry disabled", logger.Error(err))
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	c.Metrics = m

	log := logger.Global().Module("app")
	log.Debug("configuration loaded",
		logger.String("config_file", conf.ConfigFileUsed()),
		logger.String("backend_url", settings.Backend.URL),
		logger.String("version", c.Build.GetVersion()))
	return nil
}

func (c *Context) setupLogging(interactive bool, console io.Writer) error {
	cfg := c.Settings.Logging
	if c.Settings.Debug {
		cfg.DefaultLevel = string(logger.LogLevelDebug)
		if cfg.Console != nil {
			out := *cfg.Console
			out.Level = cfg.DefaultLevel
			cfg.Console = &out
		}
	}
	if interactive {
		cfg.Console = &logger.ConsoleOutput{Enabled: false}
		file := logger.FileOutput{Enabled: true, Level: cfg.DefaultLevel, Path: logger.DefaultLogPath}
		if cfg.FileOutput != nil {
			file.Path = cfg.FileOutput.Path
			if cfg.FileOutput.Level != "" {
				file.Level = cfg.FileOutput.Level
			}
		}
		cfg.FileOutput = &file
	}

	var opts []logger.Option
	if console != nil {
		opts = append(opts, logger.WithConsoleWriter(console))
	}
	cl, err := logger.NewCentralLogger(&cfg, opts...)
	if err != nil {
		return err
	}
	logger.SetGlobal(cl)
	c.logger = cl
	return nil
}

// Shutdown flushes telemetry and closes the log file.
func (c *Context) Shutdown() {
	errors.FlushTelemetry(telemetryFlushTimeout)
	if c.logger != nil {
		_ = c.logger.Close()
	}
}
