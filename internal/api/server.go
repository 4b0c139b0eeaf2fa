package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/bacpac"
	"github.com/JakeFAU/bacpac-orchestrator/internal/config"
	"github.com/JakeFAU/bacpac-orchestrator/internal/connstr"
	"github.com/JakeFAU/bacpac-orchestrator/internal/metrics"
	"github.com/JakeFAU/bacpac-orchestrator/internal/operation"
	"github.com/JakeFAU/bacpac-orchestrator/internal/store"
)

const (
	defaultRequestTimeout = 60 * time.Second
	maxBodyBytes          = 1 << 20
)

// Operations is the session surface the handlers drive. Every method is safe
// to call from request goroutines.
type Operations interface {
	View(kind operation.Kind) (operation.View, error)
	Start(ctx context.Context, kind operation.Kind, req operation.Request) (operation.View, error)
	Cancel(ctx context.Context, kind operation.Kind) (bool, error)
	Reset(ctx context.Context, kind operation.Kind) (bool, error)
	LoadDatabases(ctx context.Context, kind operation.Kind, creds connstr.Credentials) ([]string, error)
	TestConnection(ctx context.Context, kind operation.Kind, connectionString string, creds connstr.Credentials) error
	Preview(ctx context.Context, path string) (bacpac.Summary, error)
}

// Server wires HTTP handlers to the operation session and run history.
type Server struct {
	router chi.Router
	ops    Operations
	runs   *RunsHandler
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. gatherer backs
// /metrics; httpMetrics may be nil.
func NewServer(
	ops Operations,
	runs store.RunRepository,
	cfg config.Config,
	gatherer prometheus.Gatherer,
	httpMetrics *metrics.HTTP,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		ops:    ops,
		runs:   NewRunsHandler(runs, logger.Named("runs")),
		cfg:    cfg,
		logger: logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if httpMetrics != nil {
		r.Use(httpMetrics.Middleware)
	}
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/operations/{kind}", func(r chi.Router) {
			r.Get("/", s.getOperation)
			r.Get("/transcript", s.getTranscript)
			r.Post("/start", s.startOperation)
			r.Post("/cancel", s.cancelOperation)
			r.Post("/reset", s.resetOperation)
		})
		r.Route("/catalog", func(r chi.Router) {
			r.Post("/databases", s.listDatabases)
			r.Post("/test", s.testConnection)
		})
		r.Post("/bacpac/preview", s.previewBacpac)
		r.Get("/runs", s.runs.ListRuns)
		r.Get("/runs/{run_id}", s.runs.GetRun)
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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	for _, kind := range []operation.Kind{operation.KindBackup, operation.KindRestore} {
		if _, err := s.ops.View(kind); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
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

type requestIDKey struct{}

// RequestID returns the request ID assigned by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("panic", rec),
					)
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

// decodeJSON reads an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
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
