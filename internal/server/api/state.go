package api

import (
	"net/http"

	"github.com/ayusman/lyrapointer/internal/pipeline"
)

// Controller is the running pipeline as the API sees it.
type Controller interface {
	Stats() pipeline.Stats
	TogglePause() bool
}

// StateHandler serves GET /api/state and POST /api/pause.
type StateHandler struct {
	pipeline Controller
}

// NewStateHandler creates a StateHandler for c.
func NewStateHandler(c Controller) *StateHandler {
	return &StateHandler{pipeline: c}
}

// State handles GET /api/state.
func (h *StateHandler) State(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.pipeline.Stats())
}

type pauseResponse struct {
	Queued bool `json:"queued"`
	// Paused is the state before the toggle is applied.
	Paused bool `json:"paused"`
}

// Pause handles POST /api/pause. The processing loop applies the toggle
// asynchronously, so the response only confirms it was queued.
func (h *StateHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	before := h.pipeline.Stats().Paused
	if !h.pipeline.TogglePause() {
		writeError(w, http.StatusServiceUnavailable, "Pause toggle queue is full")
		return
	}
	writeJSON(w, http.StatusAccepted, pauseResponse{Queued: true, Paused: before})
}
