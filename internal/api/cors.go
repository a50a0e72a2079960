package api

import (
	"net/http"

	"github.com/rs/cors"
)

// corsMiddleware lets browser clients on CORS_ORIGINS call the API.
// Preflight requests are answered here and never reach auth.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: s.Config.AllowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         600,
	}).Handler(next)
}
