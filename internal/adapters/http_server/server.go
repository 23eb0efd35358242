package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type Server struct {
	mux         *chi.Mux
	readTimeout time.Duration
	runTimeout  time.Duration
}

// New builds the router. readTimeout bounds lookups; runTimeout bounds
// dispatch and bulk runs, which fan out to external services.
func New(readTimeout, runTimeout time.Duration) *Server {
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}
	m := chi.NewRouter()

	// All middlewares go here (before any routes are added)
	m.Use(chimw.RealIP)
	m.Use(chimw.RequestID)
	m.Use(chimw.Recoverer)
	m.Use(Metrics)
	m.Use(Logger(log.Logger))

	return &Server{mux: m, readTimeout: readTimeout, runTimeout: runTimeout}
}

func (s *Server) Mux() http.Handler { return s.mux }

// Mount attaches any extra handler (e.g., /metrics) to the router.
func (s *Server) Mount(path string, h http.Handler) {
	s.mux.Handle(path, h)
}
