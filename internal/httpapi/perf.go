package httpapi

import "net/http"

func (s *Server) handlePerfRouting(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotRouteStages())
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "embedding cache not configured")
		return
	}
	stats := s.cache.Stats()
	if s.metrics != nil {
		s.metrics.ObserveCache(stats)
	}
	respondJSON(w, http.StatusOK, stats)
}
