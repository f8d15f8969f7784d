// Package app wires the pipeline, storage, plugins and HTTP server into the
// running LyraPointer application.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/lyrapointer/internal/capture"
	"github.com/ayusman/lyrapointer/internal/config"
	"github.com/ayusman/lyrapointer/internal/detector"
	"github.com/ayusman/lyrapointer/internal/dispatch"
	"github.com/ayusman/lyrapointer/internal/events"
	"github.com/ayusman/lyrapointer/internal/pipeline"
	"github.com/ayusman/lyrapointer/internal/plugin"
	"github.com/ayusman/lyrapointer/internal/pointer"
	"github.com/ayusman/lyrapointer/internal/recording"
	"github.com/ayusman/lyrapointer/internal/server"
	"github.com/ayusman/lyrapointer/internal/store"
)

// Acquisition timing.
const (
	// ActiveIdleTimeout is how long the camera stays at the active rate after
	// the last motion.
	ActiveIdleTimeout = 2 * time.Second
)

// mockScreen is the virtual display used when no real pointer is driven.
var mockScreen = pointer.Screen{Width: 1920, Height: 1080}

// Options holds the command line choices the application is built from.
type Options struct {
	ConfigPath string
	DBPath     string
	Addr       string
	PluginDir  string
	StaticDir  string
	// Camera overrides camera.index when it is not negative.
	Camera int
	// Mock replaces the camera with a gesture script and the OS pointer with
	// a logging sink.
	Mock bool
	// Script is the gesture script used in mock mode. Empty means the demo.
	Script string
	// Record, when set, stores every acquired frame under this recording name.
	Record string
}

// App is the composed application.
type App struct {
	opts Options

	loader       *config.Loader
	store        *store.Store
	bus          *events.Bus
	plugins      *plugin.Manager
	pluginRunner *plugin.Runner
	provider     detector.Provider
	camera       *detector.CameraProvider
	runner       *pipeline.Runner
	server       *server.Server
}

// New builds the application. Nothing runs until Run is called.
func New(opts Options) (*App, error) {
	a := &App{opts: opts}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	a.loader = config.NewLoader(a.opts.ConfigPath)
	if _, err := a.loader.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.New(a.opts.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = st

	if err := a.applyStoredSettings(); err != nil {
		return err
	}
	cfg := a.loader.Config()

	a.bus = events.NewBus(events.DefaultHistory)
	a.bus.Subscribe(events.LogObserver{})

	a.plugins = plugin.NewManager(a.opts.PluginDir)
	if err := a.plugins.Discover(); err != nil {
		log.Warn().Err(err).Str("dir", a.opts.PluginDir).Msg("discovering plugins")
	}
	a.pluginRunner = plugin.NewRunner(a.plugins, plugin.NewExecutor(plugin.DefaultTimeout), st.Bindings(), plugin.DefaultQueueSize)
	a.bus.Subscribe(a.pluginRunner, events.TypeAction, events.TypeTransition)

	settings, err := pipeline.SettingsFrom(cfg)
	if err != nil {
		return fmt.Errorf("pipeline settings: %w", err)
	}

	sink, screen := a.pointerSink()
	provider, err := a.buildProvider(cfg)
	if err != nil {
		return err
	}
	a.provider = provider

	a.runner = pipeline.NewRunner(provider, dispatch.New(sink, screen, settings.Mapping), settings,
		pipeline.WithBus(a.bus),
		pipeline.WithSessionLog(st.Sessions()),
	)

	a.loader.OnChange(a.onConfigChange)

	a.server = server.New(server.Config{
		StaticDir:    a.opts.StaticDir,
		Store:        st,
		Pipeline:     a.runner,
		Settings:     a.loader,
		Plugins:      a.plugins,
		PluginRunner: a.pluginRunner,
		Bus:          a.bus,
	})
	return nil
}

// applyStoredSettings layers settings saved through the API over the file.
func (a *App) applyStoredSettings() error {
	stored := a.loader.Config().Clone()
	err := a.store.Settings().GetJSON(store.SettingsKeyConfig, stored)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read stored settings: %w", err)
	}
	if err := a.loader.Set(stored); err != nil {
		log.Warn().Err(err).Msg("ignoring invalid stored settings")
	}
	return nil
}

func (a *App) pointerSink() (pointer.Sink, pointer.Screen) {
	if a.opts.Mock {
		return pointer.LogSink{}, mockScreen
	}
	screen, err := pointer.PrimaryScreen()
	if err != nil {
		log.Warn().Err(err).Msg("primary screen unavailable, logging pointer actions instead")
		return pointer.LogSink{}, mockScreen
	}
	return pointer.NewRobotSink(), screen
}

func (a *App) buildProvider(cfg *config.Config) (detector.Provider, error) {
	var provider detector.Provider
	if a.opts.Mock {
		script := detector.DemoScript()
		if a.opts.Script != "" {
			s, err := detector.LoadScript(a.opts.Script)
			if err != nil {
				return nil, fmt.Errorf("load gesture script: %w", err)
			}
			script = s
		}
		log.Info().Str("script", script.Name).Msg("using scripted landmarks")
		provider = script.Provider(time.Now())
	} else {
		a.camera = a.cameraProvider(cfg)
		provider = a.camera
	}

	if a.opts.Record == "" {
		return provider, nil
	}
	rec, err := recording.Start(a.store.Recordings(), a.opts.Record, "")
	if err != nil {
		provider.Close()
		return nil, err
	}
	log.Info().Str("recording", rec.ID()).Str("name", a.opts.Record).Msg("recording frames")
	return recording.NewTap(provider, rec), nil
}

func (a *App) cameraProvider(cfg *config.Config) *detector.CameraProvider {
	cam := cfg.Camera
	if a.opts.Camera >= 0 {
		cam.Index = a.opts.Camera
	}

	detCfg := detector.DefaultConfig()
	detCfg.MinConfidence = cam.DetectionConfidence

	// Try MediaPipe first, fall back to mock detector
	var det detector.Detector
	if mp, err := detector.NewMediaPipeDetector(detCfg); err == nil {
		det = mp
		log.Info().Msg("using MediaPipe hand detection")
	} else {
		log.Warn().Err(err).Msg("MediaPipe not available, using mock detector")
		det = detector.NewMockDetector()
	}

	return detector.NewCameraProvider(
		capture.NewCamera(capture.Settings{DeviceID: cam.Index, Width: cam.Width, Height: cam.Height, FPS: cam.FPS}),
		det,
		capture.NewMotionDetector(cam.MotionThreshold),
		capture.NewGate(cam.IdleFPS, cam.FPS, ActiveIdleTimeout),
	)
}

func (a *App) onConfigChange(old, cfg *config.Config) {
	if err := a.runner.Apply(cfg); err != nil {
		log.Error().Err(err).Msg("applying settings")
		return
	}
	msg := "settings applied"
	if config.RequiresRestart(old, cfg) {
		msg = "settings applied; camera changes need a restart"
	}
	a.bus.Publish(events.Event{Type: events.TypeSettingsChanged, Message: msg, Timestamp: time.Now()})
}

// Run starts the pipeline, the plugin runner and the HTTP server, and blocks
// until ctx is canceled or the server fails. A scripted or replayed stream
// ending does not stop the server.
func (a *App) Run(ctx context.Context) error {
	if a.camera != nil {
		if err := a.camera.Open(); err != nil {
			return err
		}
	}
	if a.opts.ConfigPath != "" {
		if err := a.loader.Watch(); err != nil {
			log.Warn().Err(err).Str("path", a.opts.ConfigPath).Msg("config hot reload disabled")
		}
	}

	a.pluginRunner.Start(ctx)
	defer a.pluginRunner.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runner.Run(ctx)
	})
	g.Go(func() error {
		return a.server.ListenAndServe(ctx, a.opts.Addr)
	})
	return g.Wait()
}

// Close releases everything New acquired. It is safe after a failed New.
func (a *App) Close() error {
	var errs []error
	if a.server != nil {
		a.server.Close()
	}
	if a.provider != nil {
		errs = append(errs, a.provider.Close())
	}
	if a.loader != nil {
		errs = append(errs, a.loader.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// Runner returns the pipeline runner.
func (a *App) Runner() *pipeline.Runner {
	return a.runner
}

// Store returns the application store.
func (a *App) Store() *store.Store {
	return a.store
}

// Bus returns the event bus.
func (a *App) Bus() *events.Bus {
	return a.bus
}

// Server returns the HTTP server.
func (a *App) Server() *server.Server {
	return a.server
}

// Config returns the live config.
func (a *App) Config() *config.Config {
	return a.loader.Config()
}

// Plugins returns the plugin manager.
func (a *App) Plugins() *plugin.Manager {
	return a.plugins
}
