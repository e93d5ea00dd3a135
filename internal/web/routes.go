package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/facescan/internal/constants"
	"github.com/kozaktomas/facescan/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	scanHandler := handlers.NewScanHandler(s.deps.Scanner)
	eventsHandler := handlers.NewEventsHandler(s.deps.Feeds, s.config.Web.AllowedOrigins)
	driveHandler := handlers.NewDriveHandler(s.deps.Files)
	authHandler := handlers.NewAuthHandler(s.deps.OAuth)
	healthHandler := handlers.NewHealthHandler(s.deps.Probes)

	s.router.Get("/api/v1/health", healthHandler.Check)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Streaming endpoints stay open for the whole scan.
		r.Get("/scan/{scanId}/events", eventsHandler.SSE(s.deps.Scanner))
		r.Get("/ws/updates", eventsHandler.WebSocket)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(constants.RequestTimeout))

			// Scans
			r.Post("/scan", scanHandler.Start)
			r.Get("/scan/{scanId}/status", scanHandler.Status)

			// Drive
			r.Get("/drive/image/{fileId}", driveHandler.Image)

			// Auth
			r.Get("/auth/google/url", authHandler.URL)
			r.Post("/auth/google/callback", authHandler.Callback)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
	})
}
