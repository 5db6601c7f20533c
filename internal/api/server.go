package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/event-dispatch/internal/app"
	"github.com/JakeFAU/event-dispatch/internal/metrics"
)

// Runs is the read side of app.App that the server reports on.
type Runs interface {
	Ready() bool
	Reports() []app.Report
	Current() (app.Snapshot, bool)
}

// RequestIDs issues the X-Request-ID attached to every response.
type RequestIDs interface {
	NewRequestID() string
}

// Options configures a Server. Gatherer defaults to the default Prometheus
// registry; Recorder is optional.
type Options struct {
	Gatherer   prometheus.Gatherer
	Recorder   *metrics.Recorder
	RequestIDs RequestIDs
	Logger     *zap.Logger
}

// Server wires HTTP handlers to the run reports.
type Server struct {
	router chi.Router
	runs   Runs
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runs Runs, opts Options) (*Server, error) {
	if runs == nil {
		return nil, fmt.Errorf("runs are required")
	}
	if opts.RequestIDs == nil {
		return nil, fmt.Errorf("request id generator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{runs: runs, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(opts.RequestIDs))
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if opts.Recorder != nil {
		r.Use(opts.Recorder.Middleware)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Get("/current", s.currentRun)
		r.Get("/{run_id}", s.getRun)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.runs.Ready() {
		s.writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listRuns(w http.ResponseWriter, _ *http.Request) {
	reports := s.runs.Reports()
	if reports == nil {
		reports = []app.Report{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": reports})
}

func (s *Server) currentRun(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.runs.Current()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no run in progress")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	for _, rep := range s.runs.Reports() {
		if rep.RunID == runID {
			s.writeJSON(w, http.StatusOK, rep)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "run not found")
}

func requestIDMiddleware(ids RequestIDs) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Request-ID", ids.NewRequestID())
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.String("request_id", w.Header().Get("X-Request-ID")),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
