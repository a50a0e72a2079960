package api

import (
	"net/http"
	"time"

	"binroute/internal/auth"
	"binroute/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, func(p auth.Principal) bool { return p.IsAdmin() }, "admin"); !ok {
		return
	}
	cfg := s.Config.Public()
	cfg["STORE_BACKEND"] = s.Store.Name()
	info := map[string]any{
		"build":  buildinfo.Info(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"config": cfg,
	}
	writeJSON(w, http.StatusOK, info)
}
