package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

type Options struct {
	MaxStreams     int64         // concurrent export streams; <= 0 means 16
	RateLimitRPS   float64       // 0 disables the limiter
	AccountTimeout time.Duration // non-streamed routes only; 0 means 15s
}

type Server struct {
	mux     *chi.Mux
	opt     Options
	streams *semaphore.Weighted
}

func New(opt Options) *Server {
	if opt.MaxStreams <= 0 {
		opt.MaxStreams = 16
	}
	if opt.AccountTimeout <= 0 {
		opt.AccountTimeout = 15 * time.Second
	}

	m := chi.NewRouter()

	// All middlewares go here (before any routes are added).
	// Timeout is per-route: http.TimeoutHandler buffers the whole body.
	m.Use(chimw.RealIP)
	m.Use(chimw.RequestID)
	m.Use(chimw.Recoverer) // re-panics http.ErrAbortHandler
	m.Use(Metrics)
	m.Use(Logger(log.Logger))

	return &Server{mux: m, opt: opt, streams: semaphore.NewWeighted(opt.MaxStreams)}
}

func (s *Server) Mux() http.Handler { return s.mux }

// Mount attaches any extra handler (e.g., /metrics) to the router.
func (s *Server) Mount(path string, h http.Handler) {
	s.mux.Handle(path, h)
}
