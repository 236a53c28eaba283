package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/deepsecurity/internal/config"
	"github.com/kozaktomas/deepsecurity/internal/web/handlers"
	"github.com/kozaktomas/deepsecurity/internal/web/middleware"
	"github.com/sirupsen/logrus"
)

// Services are the components the HTTP API exposes.
type Services struct {
	Faces      handlers.FaceManager
	Recognizer handlers.FaceRecognizer
	Index      handlers.IndexController
	Info       handlers.SystemInfo
}

// Server represents the web server
type Server struct {
	config     *config.Config
	services   Services
	router     *chi.Mux
	httpServer *http.Server
	log        logrus.FieldLogger
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, services Services, log logrus.FieldLogger) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:   cfg,
		services: services,
		router:   r,
		log:      log,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.AccessLog(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(2 * time.Minute))
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // first match after a mutation rebuilds the gallery
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
