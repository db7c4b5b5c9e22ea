package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/SCUT-HCC/TradeSwarm/internal/pool"
	"github.com/SCUT-HCC/TradeSwarm/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Options tunes request handling.
type Options struct {
	// InputTimeout bounds how long workflow stages wait for upstream outputs.
	InputTimeout time.Duration
	// DispatchTimeout is the default deadline for POST /v1/dispatch.
	DispatchTimeout time.Duration
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router *chi.Mux
	store  *store.Store
	pool   *pool.Pool
	opts   Options
	logger *slog.Logger
	addr   string

	// Background workflow runs are bound to baseCtx and tracked by runs.
	baseCtx context.Context
	cancel  context.CancelFunc
	runs    sync.WaitGroup
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, st *store.Store, p *pool.Pool, opts Options, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		router:  chi.NewRouter(),
		store:   st,
		pool:    p,
		opts:    opts,
		logger:  logger,
		addr:    addr,
		baseCtx: ctx,
		cancel:  cancel,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/agents", s.handleListAgents)
	s.router.Get("/v1/stats", s.handleGetStats)
	s.router.Post("/v1/dispatch", s.handleDispatch)

	s.router.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/{id}", s.handleGetSession)
		r.Post("/{id}/complete", s.handleCompleteSession)
		r.Get("/{id}/outputs", s.handleListOutputs)
		r.Post("/{id}/outputs", s.handlePublishOutput)
		r.Get("/{id}/outputs/{type}", s.handleWaitOutput)
		r.Get("/{id}/events", s.handleStreamEvents)
	})

	s.router.Route("/v1/workflows", func(r chi.Router) {
		r.Post("/", s.handleRunWorkflow)
		r.Post("/async", s.handleAsyncWorkflow)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Close cancels background workflow runs and waits for them to return.
func (s *Server) Close() {
	s.cancel()
	s.runs.Wait()
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		s.Close()
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(ctx)
	s.Close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
