package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ayusman/lyrapointer/internal/store"
)

// defaultSessionLimit caps GET /api/sessions without a limit parameter.
const defaultSessionLimit = 50

// SessionStore is the subset of store.SessionRepository the API uses.
type SessionStore interface {
	List(limit int) ([]*store.Session, error)
	GetByID(id string) (*store.Session, error)
}

// SessionHandler serves /api/sessions and /api/sessions/{id}.
type SessionHandler struct {
	sessions SessionStore
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(s SessionStore) *SessionHandler {
	return &SessionHandler{sessions: s}
}

type listSessionsResponse struct {
	Sessions []*store.Session `json:"sessions"`
}

// ServeHTTP implements http.Handler.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := splitPath(r, "/api/sessions")
	if id != "" {
		s, err := h.sessions.GetByID(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "Session not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to get session")
			return
		}
		writeJSON(w, http.StatusOK, s)
		return
	}

	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	sessions, err := h.sessions.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: sessions})
}
