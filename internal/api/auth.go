// Package api implements the HTTP surface of the bin routing service.
package api

import (
	"net/http"

	"binroute/internal/auth"
)

// principal resolves the caller. In auth mode none every caller is admin.
func (s *Server) principal(r *http.Request) (auth.Principal, error) {
	return s.Auth.Authenticate(r.Header.Get("Authorization"))
}

// authorize writes 401/403 and returns false when the caller fails allow.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, allow func(auth.Principal) bool, need string) (auth.Principal, bool) {
	p, err := s.principal(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="binroute"`)
		writeProblem(w, http.StatusUnauthorized, "", err.Error(), r.URL.Path)
		return p, false
	}
	if allow != nil && !allow(p) {
		writeProblem(w, http.StatusForbidden, "", need+" required", r.URL.Path)
		return p, false
	}
	return p, true
}

func anyRole(auth.Principal) bool { return true }
