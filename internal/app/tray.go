package app

import (
	"fmt"
	"net"
	"os/exec"
	"runtime"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/lyrapointer/internal/control"
	"github.com/ayusman/lyrapointer/internal/events"
	"github.com/ayusman/lyrapointer/internal/tray"
)

// AttachTray connects the tray menu to the application. The menu follows
// the control state, its Enabled item toggles pause, and quit calls quit.
// The returned function detaches the tray from the bus.
func (a *App) AttachTray(t *tray.Tray, quit func()) func() {
	t.SetState(a.runner.State().String())
	t.SetEnabled(!a.runner.Paused())

	t.OnToggle(func(enabled bool) {
		if a.runner.Paused() == !enabled {
			return
		}
		if !a.runner.TogglePause() {
			log.Warn().Msg("pause toggle dropped")
		}
	})
	t.OnSettings(func() {
		openBrowser(settingsURL(a.opts.Addr))
	})
	t.OnQuit(quit)

	return a.bus.Subscribe(events.ObserverFunc("tray", func(ev events.Event) error {
		if ev.Transition == nil {
			return nil
		}
		t.SetState(ev.Transition.To.String())
		t.SetEnabled(ev.Transition.To != control.Paused)
		return nil
	}), events.TypeTransition)
}

// settingsURL turns a listen address such as ":8080" into a browsable URL.
func settingsURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s/", net.JoinHostPort(host, port))
}

func openBrowser(url string) {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		log.Warn().Str("os", runtime.GOOS).Msg("cannot open a browser on this platform")
		return
	}

	if err := exec.Command(cmd, args...).Start(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("opening browser")
	}
}
