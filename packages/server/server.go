package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/abdul-hamid-achik/hitsuite/packages/collection"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
	"github.com/abdul-hamid-achik/hitsuite/packages/export/metrics"
	"github.com/abdul-hamid-achik/hitsuite/packages/history"
	"github.com/abdul-hamid-achik/hitsuite/packages/notify"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	maxBodySize       = 1 << 20 // 1 MB
	keepAliveInterval = 15 * time.Second
	defaultMaxRuns    = 100
)

// Server wraps the chi router and the run machinery behind it.
type Server struct {
	router     *chi.Mux
	collection *collection.Collection
	engine     *testrun.Engine
	runs       *registry
	history    *history.Store
	metrics    *metrics.Recorder
	notifier   *notify.Manager
	envName    string
	logger     logrus.FieldLogger
	addr       string

	inFlight  atomic.Int64
	baseCtx   context.Context
	cancelAll context.CancelFunc
}

type Option func(*Server)

// WithHistory records every run started through the server.
func WithHistory(h *history.Store) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics serves rec on /metrics and counts HTTP requests with it. The
// engine should have been built with rec as its observer.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = rec }
}

// WithNotifier sends a notification when each run finishes.
func WithNotifier(m *notify.Manager) Option {
	return func(s *Server) { s.notifier = m }
}

// WithEnvironmentName names the environment runs execute against. It only
// labels notifications.
func WithEnvironmentName(name string) Option {
	return func(s *Server) { s.envName = name }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxRuns bounds how many runs are kept in memory. The oldest finished
// runs are forgotten first.
func WithMaxRuns(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.runs.max = n
		}
	}
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, col *collection.Collection, eng *testrun.Engine, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:     chi.NewRouter(),
		collection: col,
		engine:     eng,
		runs:       newRegistry(defaultMaxRuns),
		logger:     logrus.StandardLogger(),
		addr:       addr,
		baseCtx:    ctx,
		cancelAll:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware)
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/reload", s.handleReload)
		r.Get("/tests", s.handleListTests)
		r.Post("/tests/{name}/runs", s.handleStartTest)

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleStartRun)
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Get("/{id}/events", s.handleStreamEvents)
			r.Delete("/{id}", s.handleCancelRun)
		})
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// InFlight returns how many runs have started and not yet finished.
func (s *Server) InFlight() int64 {
	return s.inFlight.Load()
}

// Run serves until ctx is done, then cancels in-flight runs and shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.addr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case err := <-errCh:
		s.cancelAll()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	// Cancelling the runs closes their streams, which ends open event
	// subscriptions so Shutdown does not wait on them.
	s.cancelAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Close cancels every run started through the server.
func (s *Server) Close() {
	s.cancelAll()
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("request")
	})
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type statusResponse struct {
	Busy       bool   `json:"busy"`
	InFlight   int64  `json:"inFlight"`
	Runs       int    `json:"runs"`
	Collection string `json:"collection,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	n := s.inFlight.Load()
	s.writeJSON(w, http.StatusOK, statusResponse{
		Busy:       n > 0,
		InFlight:   n,
		Runs:       s.runs.len(),
		Collection: s.collection.Name(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.collection.Reload(); err != nil {
		s.logger.WithError(err).Warn("collection reload failed")
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tests": len(s.collection.Tests())})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("encode response")
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
