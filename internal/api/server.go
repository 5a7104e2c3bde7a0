package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/Blackmvmba88/q2bs/internal/checkpoint"
	"github.com/Blackmvmba88/q2bs/internal/metrics"
	"github.com/Blackmvmba88/q2bs/internal/progress/sinks"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultRequestTimeout = 30 * time.Second
	readinessTimeout      = 3 * time.Second
)

// RunLister reports live crawl runs.
type RunLister interface {
	Runs() []sinks.RunStatus
}

// CheckpointReader loads the latest checkpoint.
type CheckpointReader interface {
	LoadLatest(ctx context.Context) (checkpoint.Snapshot, error)
}

// ReadinessCheck returns an error while a dependency is unusable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options configures the Server. Nil collaborators disable their routes'
// data: handlers answer 503.
type Options struct {
	APIKey         string
	RequestTimeout time.Duration
	Runs           RunLister
	Checkpoints    CheckpointReader
	Readiness      []ReadinessCheck
}

// Server wires HTTP handlers to run status and checkpoint state.
type Server struct {
	router chi.Router
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{run_id}", s.getRun)
		r.Get("/checkpoint", s.latestCheckpoint)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	failures := map[string]string{}
	for _, rc := range s.opts.Readiness {
		if err := rc.Check(ctx); err != nil {
			failures[rc.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listRuns(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.opts.Runs.Runs()})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run status unavailable")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return
	}
	for _, run := range s.opts.Runs.Runs() {
		if run.RunID == id.String() {
			writeJSON(w, http.StatusOK, run)
			return
		}
	}
	writeError(w, http.StatusNotFound, "run not found")
}

type checkpointResponse struct {
	Progress checkpoint.Progress `json:"progress"`
	Articles int                 `json:"articles"`
}

func (s *Server) latestCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.opts.Checkpoints == nil {
		writeError(w, http.StatusServiceUnavailable, "checkpoint store unavailable")
		return
	}
	snap, err := s.opts.Checkpoints.LoadLatest(r.Context())
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		writeError(w, http.StatusNotFound, "no checkpoint")
		return
	case err != nil:
		s.logger.Error("load checkpoint failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load checkpoint")
		return
	}
	writeJSON(w, http.StatusOK, checkpointResponse{Progress: snap.Progress, Articles: len(snap.Articles)})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			metrics.ObserveHTTPRequest(r.Method, route, ww.status, elapsed)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", ww.status),
				zap.Duration("duration", elapsed),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
