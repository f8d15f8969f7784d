package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ayusman/lyrapointer/internal/app"
	"github.com/ayusman/lyrapointer/internal/logging"
	"github.com/ayusman/lyrapointer/internal/tray"
)

// CLI flags
var (
	configFlag   string
	dbFlag       string
	addrFlag     string
	pluginsFlag  string
	webFlag      string
	cameraFlag   int
	noTrayFlag   bool
	mockFlag     bool
	scriptFlag   string
	recordFlag   string
	logLevelFlag string
)

// rootCmd runs the pointer pipeline with its HTTP API and tray menu.
var rootCmd = &cobra.Command{
	Use:   "lyrapointer",
	Short: "Control the mouse pointer with hand gestures",
	Long: `LyraPointer reads hand landmarks from a camera and turns them into pointer
moves, clicks, drags and scrolls. An HTTP API on --addr exposes state,
settings, recordings, sessions and plugin bindings.

Examples:
  lyrapointer
  lyrapointer --camera 1 --no-tray
  lyrapointer --mock --log-level debug
  lyrapointer --record "calibration take"`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevelFlag)
	},
	RunE: runMain,
}

func init() {
	dataDir := defaultDataDir()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFlag, "config", filepath.Join(dataDir, "config.toml"), "Config file (TOML, YAML or JSON)")
	pf.StringVar(&dbFlag, "db", filepath.Join(dataDir, "lyrapointer.db"), "SQLite database path")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (default $LYRA_LOG_LEVEL or info)")

	f := rootCmd.Flags()
	f.StringVar(&addrFlag, "addr", "127.0.0.1:8080", "HTTP listen address")
	f.StringVar(&pluginsFlag, "plugins", "", "Plugin directory (default: ./plugins or ~/.lyrapointer/plugins)")
	f.StringVar(&webFlag, "web", "", "Static web directory (default: ./web or ~/.lyrapointer/web)")
	f.IntVar(&cameraFlag, "camera", -1, "Camera index, overriding camera.index")
	f.BoolVar(&noTrayFlag, "no-tray", false, "Run without the system tray menu")
	f.BoolVar(&mockFlag, "mock", false, "Use scripted landmarks and log pointer actions instead of moving the pointer")
	f.StringVar(&scriptFlag, "script", "", "Gesture script for --mock (default: built-in demo)")
	f.StringVar(&recordFlag, "record", "", "Record acquired frames under this name")

	rootCmd.AddCommand(validateCmd, replayCmd, recordingsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	if err := ensureParent(dbFlag); err != nil {
		return err
	}

	pluginDir := pluginsFlag
	if pluginDir == "" {
		pluginDir = findDir("plugins")
	}
	webDir := webFlag
	if webDir == "" {
		webDir = findDir("web")
	}

	a, err := app.New(app.Options{
		ConfigPath: configFlag,
		DBPath:     dbFlag,
		Addr:       addrFlag,
		PluginDir:  pluginDir,
		StaticDir:  webDir,
		Camera:     cameraFlag,
		Mock:       mockFlag,
		Script:     scriptFlag,
		Record:     recordFlag,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().
		Str("config", configFlag).
		Str("db", dbFlag).
		Str("plugins", pluginDir).
		Str("web", webDir).
		Bool("mock", mockFlag).
		Msg("starting LyraPointer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if noTrayFlag {
		return a.Run(ctx)
	}

	// The tray loop must own the main goroutine.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := tray.New()
	detach := a.AttachTray(t, cancel)
	defer detach()

	done := make(chan error, 1)
	go func() {
		err := a.Run(ctx)
		t.Quit()
		done <- err
	}()

	t.Run()
	cancel()
	return <-done
}

// defaultDataDir is ~/.lyrapointer, or the working directory when there is
// no home directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".lyrapointer")
}

func ensureParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// findDir searches for a directory named name in common locations.
// It checks: name, ../name, ../../name, and ~/.lyrapointer/name.
// Returns the first existing directory or empty string if none found.
func findDir(name string) string {
	for _, p := range []string{name, filepath.Join("..", name), filepath.Join("..", "..", name)} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	home := filepath.Join(defaultDataDir(), name)
	if info, err := os.Stat(home); err == nil && info.IsDir() {
		return home
	}
	return ""
}
