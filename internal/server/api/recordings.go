package api

import (
	"errors"
	"net/http"

	"github.com/ayusman/lyrapointer/internal/store"
)

// RecordingStore is the subset of store.RecordingRepository the API uses.
type RecordingStore interface {
	List() ([]*store.Recording, error)
	GetByID(id string) (*store.Recording, error)
	Frames(id string) ([]store.Frame, error)
	Delete(id string) error
}

// RecordingHandler serves /api/recordings and /api/recordings/{id}.
type RecordingHandler struct {
	recordings RecordingStore
}

// NewRecordingHandler creates a RecordingHandler.
func NewRecordingHandler(s RecordingStore) *RecordingHandler {
	return &RecordingHandler{recordings: s}
}

type recordingResponse struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	SessionID  string        `json:"session_id,omitempty"`
	FrameCount int           `json:"frame_count"`
	DurationMs int64         `json:"duration_ms"`
	CreatedAt  string        `json:"created_at"`
	Frames     []store.Frame `json:"frames,omitempty"`
}

type listRecordingsResponse struct {
	Recordings []recordingResponse `json:"recordings"`
}

func toRecordingResponse(rec *store.Recording) recordingResponse {
	return recordingResponse{
		ID:         rec.ID,
		Name:       rec.Name,
		SessionID:  rec.SessionID,
		FrameCount: rec.FrameCount,
		DurationMs: rec.Duration.Milliseconds(),
		CreatedAt:  formatTime(rec.CreatedAt),
	}
}

// ServeHTTP implements http.Handler.
func (h *RecordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := splitPath(r, "/api/recordings")

	if id == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *RecordingHandler) list(w http.ResponseWriter) {
	recs, err := h.recordings.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list recordings")
		return
	}
	resp := listRecordingsResponse{Recordings: make([]recordingResponse, 0, len(recs))}
	for _, rec := range recs {
		resp.Recordings = append(resp.Recordings, toRecordingResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// get returns one recording. ?frames=true includes the recorded frames.
func (h *RecordingHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := h.recordings.GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Recording not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get recording")
		return
	}

	resp := toRecordingResponse(rec)
	if r.URL.Query().Get("frames") == "true" {
		frames, err := h.recordings.Frames(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load frames")
			return
		}
		resp.Frames = frames
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RecordingHandler) delete(w http.ResponseWriter, id string) {
	if err := h.recordings.Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Recording not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete recording")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
