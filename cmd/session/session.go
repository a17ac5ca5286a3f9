// Package session implements the interactive terminal session.
package session

import (
	"context"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chirpid/chirpid/internal/app"
	"github.com/chirpid/chirpid/internal/backendstatus"
	"github.com/chirpid/chirpid/internal/history"
	"github.com/chirpid/chirpid/internal/logger"
	"github.com/chirpid/chirpid/internal/mqtt"
	"github.com/chirpid/chirpid/internal/observability"
	"github.com/chirpid/chirpid/internal/ui"
	"github.com/chirpid/chirpid/internal/workflow"
)

// Command creates the session command.
func Command(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Start the interactive identification session",
		Long: `Open the terminal UI: record or load audio, identify it, browse the
session history and read species information. Logs go to the log file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), ctx)
		},
	}
}

// Run wires the session services and blocks until the UI exits or ctx is
// done. The status monitor, metrics endpoint and MQTT publisher stop with it.
func Run(parent context.Context, appCtx *app.Context) error {
	log := logger.Global().Module("session")
	settings := appCtx.Settings

	services, err := appCtx.NewServices()
	if err != nil {
		return err
	}
	defer services.Close()

	store := history.NewStore(services.Wikipedia,
		history.WithMetrics(appCtx.Metrics.History))
	defer store.Close()

	monitor := backendstatus.NewMonitor(services.Backend,
		backendstatus.WithInterval(settings.Status.Interval),
		backendstatus.WithMetrics(appCtx.Metrics.Backend))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	player := appCtx.NewPlayer()
	defer player.Stop()

	factory := newFactory(gctx, appCtx, services.Backend, appCtx.NewRecorder(), store, monitor, services.Wikipedia)
	factory.player = player
	defer factory.close()

	monitor.Start(gctx)
	defer monitor.Stop()

	if settings.Metrics.Enabled {
		endpoint, err := observability.NewEndpoint(settings, appCtx.Metrics)
		if err != nil {
			return err
		}
		if err := endpoint.Start(gctx); err != nil {
			// metrics are optional; the session still runs
			log.Warn("metrics endpoint unavailable", logger.Error(err))
		} else {
			defer endpoint.Shutdown()
		}
	}

	if settings.MQTT.Enabled {
		g.Go(func() error {
			runMQTT(gctx, appCtx, store)
			return nil
		})
	}

	g.Go(func() error {
		// the UI owns the session; leaving it ends everything else
		defer cancel()
		return ui.Run(gctx, factory.build)
	})

	err = g.Wait()
	log.Info("session ended", logger.Int("identifications", store.Len()))
	return err
}

// runMQTT connects to the broker and publishes history events until ctx is
// done. A broker that cannot be reached is logged and skipped.
func runMQTT(ctx context.Context, appCtx *app.Context, store *history.Store) {
	log := mqtt.GetLogger()
	settings := appCtx.Settings.MQTT
	cfg := mqtt.ConfigFromSettings(&settings)

	client := mqtt.NewClient(cfg, appCtx.Metrics.MQTT)
	if err := client.Connect(ctx); err != nil {
		log.Warn("MQTT disabled for this session", logger.Error(err))
		return
	}
	defer client.Disconnect()

	if settings.HomeAssistant.Enabled {
		discovery := mqtt.NewDiscoveryPublisher(client, &mqtt.DiscoveryConfig{
			DiscoveryPrefix: settings.HomeAssistant.DiscoveryPrefix,
			BaseTopic:       cfg.Topic,
			DeviceName:      settings.HomeAssistant.DeviceName,
			NodeID:          cfg.ClientID,
			Version:         appCtx.Build.GetVersion(),
		})
		if err := discovery.PublishDiscovery(ctx); err != nil {
			log.Warn("Home Assistant discovery failed", logger.Error(err))
		}
	}

	publisher := mqtt.NewPublisher(client, cfg, appCtx.Metrics.MQTT)
	if err := publisher.Run(ctx, store); err != nil {
		log.Warn("MQTT publisher stopped", logger.Error(err))
	}
}

// factory builds a fresh workflow and UI session for each (re)start of the
// UI. The history, monitor, recorder and player outlive restarts.
type factory struct {
	ctx      context.Context
	appCtx   *app.Context
	uploader workflow.Uploader
	capture  workflow.Capture
	store    *history.Store
	monitor  *backendstatus.Monitor
	lookup   ui.SpeciesLookup
	player   ui.Player

	mu      sync.Mutex
	current *workflow.Workflow
}

func newFactory(ctx context.Context, appCtx *app.Context, uploader workflow.Uploader, capture workflow.Capture,
	store *history.Store, monitor *backendstatus.Monitor, lookup ui.SpeciesLookup,
) *factory {
	return &factory{
		ctx:      ctx,
		appCtx:   appCtx,
		uploader: uploader,
		capture:  capture,
		store:    store,
		monitor:  monitor,
		lookup:   lookup,
	}
}

func (f *factory) build() *ui.Session {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current != nil {
		f.current.Close()
	}

	settings := f.appCtx.Settings
	prompter := ui.NewPrompter()
	navigator := ui.NewNavigator()

	wf, err := workflow.New(workflow.Config{
		Uploader:      f.uploader,
		Capture:       f.capture,
		History:       f.store,
		Prompter:      prompter,
		Navigate:      navigator.Navigate,
		MaxRecording:  settings.Recording.MaxDuration,
		MeterInterval: settings.Recording.MeterInterval,
	})
	if err != nil {
		// uploader and history are always set here
		panic(err)
	}
	f.current = wf

	return ui.NewSession(ui.Options{
		Context:   f.ctx,
		Workflow:  wf,
		Monitor:   f.monitor,
		History:   f.store,
		Wikipedia: f.lookup,
		Prompter:  prompter,
		Navigator: navigator,
		Player:    f.player,
		Version:   f.appCtx.Build.GetVersion(),
	})
}

func (f *factory) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil {
		f.current.Close()
		f.current = nil
	}
}
