// Package httpserver is the chi server every service runs: health, readiness,
// Prometheus metrics and whatever routes the service mounts.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/baechuer/event-booking/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"
)

type Config struct {
	Addr    string
	Service string
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Server struct {
	cfg    Config
	lg     zerolog.Logger
	router chi.Router
	srv    *http.Server

	mu     sync.RWMutex
	checks map[string]Check
}

func New(cfg Config, lg zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		lg:     lg.With().Str("component", "http_server").Logger(),
		checks: map[string]Check{},
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(AccessLog(s.lg))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	s.router = r
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router is where services mount their own routes.
func (s *Server) Router() chi.Router { return s.router }

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) AddCheck(name string, c Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

// Start listens until Close; it returns nil on a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.lg.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Close(ctx context.Context) error {
	s.lg.Info().Msg("http server shutting down")
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok", "service": s.cfg.Service})
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for n := range s.checks {
		names = append(names, n)
	}
	checks := s.checks
	s.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	out := readiness{Status: "ok", Checks: map[string]string{}}
	for _, n := range names {
		if err := checks[n](ctx); err != nil {
			out.Status = "unavailable"
			out.Checks[n] = err.Error()
			continue
		}
		out.Checks[n] = "ok"
	}
	if out.Status != "ok" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, out)
}

// ErrorBody is the JSON error shape of every service endpoint.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorBody{Error: code, Message: msg})
}
