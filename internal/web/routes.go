package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/deepsecurity/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	facesHandler := handlers.NewFacesHandler(s.services.Faces, s.log)
	recognizeHandler := handlers.NewRecognizeHandler(s.services.Recognizer, s.log)
	systemHandler := handlers.NewSystemHandler(s.services.Info, s.services.Faces, s.services.Index, s.log)

	s.router.Get("/", handlers.HealthCheck)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Identities
		r.Get("/faces", facesHandler.List)
		r.Post("/faces/{name}", facesHandler.Register)
		r.Delete("/faces/{name}", facesHandler.Delete)

		// Recognition
		r.Post("/recognize", recognizeHandler.Recognize)

		// System
		r.Get("/system", systemHandler.Get)
		r.Post("/index/warm", systemHandler.WarmIndex)
	})
}
