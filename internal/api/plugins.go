package api

import (
	"net/http"

	"github.com/nerrad567/devicehub-core/internal/plugin"
)

// handleListPlugins returns the active plugins in invocation order.
func (s *Server) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	plugins := []plugin.Info{}
	if s.plugins != nil {
		plugins = s.plugins.Plugins()
	}
	writeData(w, http.StatusOK, map[string]any{"plugins": plugins, "count": len(plugins)}, nil)
}

// handleReloadPlugins re-reads the manifest directory. Manifests that fail to
// load are reported in errors; the rest of the set is still applied.
func (s *Server) handleReloadPlugins(w http.ResponseWriter, r *http.Request) {
	if s.plugins == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "plugin manager not configured")
		return
	}

	loaded, errs := s.plugins.Reload(r.Context())
	if loaded == nil {
		loaded = []string{}
	}
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}
	s.logger.Info("plugins reloaded", "loaded", len(loaded), "errors", len(errs))

	writeData(w, http.StatusOK, map[string]any{
		"loaded":  loaded,
		"errors":  messages,
		"plugins": s.plugins.Plugins(),
	}, nil)
}
