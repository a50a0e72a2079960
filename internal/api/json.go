package api

import (
	"encoding/json"
	"net/http"
)

const problemContentType = "application/problem+json"

// Problem is an RFC 7807 error body. Type stays about:blank; Title carries
// the status meaning and Detail the request-specific reason.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// RunResponse is the trigger endpoint's body.
type RunResponse struct {
	Status          string  `json:"status"`
	Message         string  `json:"message"`
	RouteID         string  `json:"route_id,omitempty"`
	RunID           string  `json:"run_id,omitempty"`
	TotalBins       int     `json:"total_bins"`
	TotalDistanceKm float64 `json:"total_distance_km"`
	TimedOut        bool    `json:"timed_out,omitempty"`
}

func encodeJSON(w http.ResponseWriter, contentType string, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	encodeJSON(w, "application/json", status, v)
}

// writeProblem falls back to the standard status text when title is empty.
func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	if title == "" {
		title = http.StatusText(status)
	}
	encodeJSON(w, problemContentType, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeRunError reports a failed trigger without leaking internals.
func writeRunError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, RunResponse{Status: "error", Message: message})
}
