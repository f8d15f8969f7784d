package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/lyrapointer/internal/config"
	"github.com/ayusman/lyrapointer/internal/store"
)

// ConfigService reads and replaces the live config. config.Loader implements it.
type ConfigService interface {
	Config() *config.Config
	Set(cfg *config.Config) error
}

// SettingsStore persists settings. store.SettingsRepository implements it.
type SettingsStore interface {
	PutJSON(key string, v any) error
}

// SettingsHandler serves GET and PUT /api/settings.
type SettingsHandler struct {
	config ConfigService
	store  SettingsStore
}

// NewSettingsHandler creates a SettingsHandler. A nil store skips persistence.
func NewSettingsHandler(c ConfigService, s SettingsStore) *SettingsHandler {
	return &SettingsHandler{config: c, store: s}
}

type settingsResponse struct {
	Settings        *config.Config `json:"settings"`
	RestartRequired bool           `json:"restart_required,omitempty"`
}

// ServeHTTP implements http.Handler.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, settingsResponse{Settings: h.config.Config()})
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// update applies a full or partial settings document over the current config.
// The result is validated and persisted before it is installed.
func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request) {
	old := h.config.Config()
	next := old.Clone()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(next); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	if err := next.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	if h.store != nil {
		if err := h.store.PutJSON(store.SettingsKeyConfig, next); err != nil {
			log.Error().Err(err).Msg("persisting settings")
			writeError(w, http.StatusInternalServerError, "Failed to save settings")
			return
		}
	}

	if err := h.config.Set(next); err != nil {
		writeValidationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settingsResponse{
		Settings:        next,
		RestartRequired: config.RequiresRestart(old, next),
	})
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs config.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, e := range verrs {
		fields[e.Field] = e.Message
	}
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "Invalid settings", Fields: fields})
}
