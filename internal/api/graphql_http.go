package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"binroute/internal/auth"
)

// Minimal GraphQL-like HTTP handler.
// Supports queries:
// - route(id: $id): the published route document
// - planMetrics: latest solver statistics (admin)
// Variables may contain {"id":"..."}
func (s *Server) GraphQLHTTPHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "", "", r.URL.Path)
		return
	}
	p, ok := s.authorize(w, r, anyRole, "")
	if !ok {
		return
	}
	var body struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	q := strings.ToLower(body.Query)
	switch {
	case strings.Contains(q, "route("):
		id, _ := body.Variables["id"].(string)
		if id == "" {
			writeProblem(w, http.StatusBadRequest, "Missing id", "", r.URL.Path)
			return
		}
		rt, ok := s.loadRoute(w, r, id)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"route": rt.Doc()}})
	case strings.Contains(q, "planmetrics"):
		if !p.IsAdmin() {
			writeProblem(w, http.StatusForbidden, "", auth.RoleAdmin+" required", r.URL.Path)
			return
		}
		id, _ := body.Variables["routeId"].(string)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"planMetrics": s.planMetrics(id)}})
	default:
		writeProblem(w, http.StatusBadRequest, "Unsupported query", "", r.URL.Path)
	}
}
