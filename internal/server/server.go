// Package server provides the HTTP control API and live event feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/lyrapointer/internal/events"
	"github.com/ayusman/lyrapointer/internal/plugin"
	"github.com/ayusman/lyrapointer/internal/server/api"
	"github.com/ayusman/lyrapointer/internal/store"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 5 * time.Second

// Config holds the server dependencies. Routes are only registered for the
// dependencies that are set.
type Config struct {
	StaticDir    string
	Store        *store.Store
	Pipeline     api.Controller
	Settings     api.ConfigService
	Plugins      *plugin.Manager
	PluginRunner *plugin.Runner
	Bus          *events.Bus
}

// Server is the HTTP server for the LyraPointer API.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	events *EventsHandler
}

// New creates a Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Pipeline != nil {
		state := api.NewStateHandler(s.config.Pipeline)
		s.mux.HandleFunc("/api/state", state.State)
		s.mux.HandleFunc("/api/pause", state.Pause)
	}

	if s.config.Settings != nil {
		var persist api.SettingsStore
		if s.config.Store != nil {
			persist = s.config.Store.Settings()
		}
		s.mux.Handle("/api/settings", api.NewSettingsHandler(s.config.Settings, persist))
	}

	if s.config.Store != nil {
		recordings := api.NewRecordingHandler(s.config.Store.Recordings())
		s.mux.Handle("/api/recordings", recordings)
		s.mux.Handle("/api/recordings/", recordings)

		sessions := api.NewSessionHandler(s.config.Store.Sessions())
		s.mux.Handle("/api/sessions", sessions)
		s.mux.Handle("/api/sessions/", sessions)

		var validator api.ConfigValidator
		if s.config.Plugins != nil {
			validator = s.config.Plugins
		}
		bindings := api.NewBindingHandler(s.config.Store.Bindings(), validator)
		s.mux.Handle("/api/bindings", bindings)
		s.mux.Handle("/api/bindings/", bindings)
	}

	if s.config.Plugins != nil {
		s.mux.Handle("/api/plugins", api.NewPluginHandler(s.config.Plugins, s.config.PluginRunner))
	}

	if s.config.Bus != nil {
		s.events = NewEventsHandler(s.config.Bus)
		s.mux.Handle("/api/events", s.events)
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.events != nil {
		response["event_clients"] = s.events.Clients()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully and disconnects event feed clients.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disconnects event feed clients and stops observing the bus.
func (s *Server) Close() {
	if s.events != nil {
		s.events.Close()
	}
}
