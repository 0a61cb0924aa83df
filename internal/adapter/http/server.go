package http

import (
	"net/http"

	"github.com/mvailland/scribe/internal/adapter/http/middleware"
)

type Server struct {
	mux      *http.ServeMux
	handlers *Handlers
}

func NewServer(jobSvc JobService, modelSvc ModelService, maxUploadBytes int64, version string) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		handlers: NewHandlers(jobSvc, modelSvc, maxUploadBytes, version),
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /jobs", s.handlers.Submit())
	s.mux.HandleFunc("GET /jobs", s.handlers.ListJobs())
	s.mux.HandleFunc("GET /jobs/{id}", s.handlers.Status())
	s.mux.HandleFunc("GET /jobs/{id}/output", s.handlers.Output())
	s.mux.HandleFunc("DELETE /jobs/{id}", s.handlers.Cancel())

	s.mux.HandleFunc("GET /models", s.handlers.Models())
	s.mux.HandleFunc("POST /models", s.handlers.SwitchModel())

	s.mux.HandleFunc("GET /health", s.handlers.Health())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	middleware.SecurityHeaders(s.mux).ServeHTTP(w, r)
}
