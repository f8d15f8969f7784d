package api

import (
	"net/http"

	"github.com/ayusman/lyrapointer/internal/plugin"
)

// PluginHandler serves GET /api/plugins.
type PluginHandler struct {
	manager *plugin.Manager
	runner  *plugin.Runner
}

// NewPluginHandler creates a PluginHandler. runner may be nil.
func NewPluginHandler(m *plugin.Manager, runner *plugin.Runner) *PluginHandler {
	return &PluginHandler{manager: m, runner: runner}
}

type listPluginsResponse struct {
	Plugins []plugin.Manifest   `json:"plugins"`
	Stats   *plugin.RunnerStats `json:"stats,omitempty"`
}

// ServeHTTP implements http.Handler. ?rescan=true rediscovers plugins first.
func (h *PluginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Query().Get("rescan") == "true" {
		if err := h.manager.Discover(); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to discover plugins")
			return
		}
	}

	plugins := h.manager.List()
	resp := listPluginsResponse{Plugins: make([]plugin.Manifest, 0, len(plugins))}
	for _, p := range plugins {
		resp.Plugins = append(resp.Plugins, p.Manifest)
	}
	if h.runner != nil {
		stats := h.runner.Stats()
		resp.Stats = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}
