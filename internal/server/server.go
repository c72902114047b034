// Package server exposes a small read-mostly HTTP surface for the scanner:
// liveness, scheduler and last-run status, and a manual run trigger.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"scanbot/internal/task/scheduler"
	"scanbot/internal/workflow"
	logx "scanbot/pkg/logx"
)

// Scheduler is the part of scheduler.Service the server reads and triggers.
type Scheduler interface {
	Snapshot() scheduler.Snapshot
	Trigger(name string) error
}

// Runs reports the most recent run.
type Runs interface {
	Last() (workflow.Summary, bool)
}

type Server struct {
	router  chi.Router
	log     logx.Logger
	sched   Scheduler
	runs    Runs
	jobName string
	started time.Time

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
}

type Option func(*Server)

func WithLogger(log logx.Logger) Option { return func(s *Server) { s.log = log } }

// WithScheduler enables /status scheduler data and POST /run for jobName.
func WithScheduler(sched Scheduler, jobName string) Option {
	return func(s *Server) {
		s.sched = sched
		s.jobName = jobName
	}
}

func New(runs Runs, opts ...Option) *Server {
	s := &Server{router: chi.NewRouter(), runs: runs, started: time.Now()}
	for _, opt := range opts {
		opt(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(s.log))
	r.Use(loggingMiddleware(s.log))

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/run", s.handleRun)
}

// Start listens on addr and serves in the background. The bound address is
// available from Addr (useful with ":0").
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("server: already started")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.srv, s.ln, s.addr = srv, ln, ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("http server error", logx.String("addr", ln.Addr().String()), logx.Err(err))
		}
	}()
	s.log.Info("http server started", logx.String("addr", s.addr))
	return nil
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the listener down gracefully, bounded by ctx (2s when ctx has no
// deadline).
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, addr := s.srv, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	s.log.Info("http server stopped", logx.String("addr", addr))
}
