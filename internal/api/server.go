package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/dispatcher"
	"github.com/JakeFAU/metal-release-crawler/internal/distributor"
	"github.com/JakeFAU/metal-release-crawler/internal/metrics"
)

// SessionReader lists and fetches parsing sessions.
type SessionReader interface {
	Get(ctx context.Context, id string) (catalog.ParsingSession, error)
	List(ctx context.Context, filter catalog.SessionFilter) ([]catalog.ParsingSession, error)
}

// CrawlTrigger starts a crawl in the background.
type CrawlTrigger interface {
	Trigger(code catalog.DistributorCode) error
	Active() []catalog.DistributorCode
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Config holds server knobs.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the session store and the dispatcher.
type Server struct {
	router   chi.Router
	sessions *SessionHandler
	crawls   CrawlTrigger
	checks   map[string]ReadinessCheck
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. crawls may be nil
// when the process does not crawl, in which case the trigger route is absent.
func NewServer(cfg Config, sessions SessionReader, crawls CrawlTrigger, checks map[string]ReadinessCheck, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	logger = logger.Named("api")
	s := &Server{
		sessions: NewSessionHandler(sessions, logger),
		crawls:   crawls,
		checks:   checks,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/sessions", s.sessions.ListSessions)
		r.Get("/sessions/{session_id}", s.sessions.GetSession)
		if crawls != nil {
			r.Get("/crawls", s.activeCrawls)
			r.Post("/crawls/{distributor}", s.triggerCrawl)
		}
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
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("not ready", zap.Any("checks", failed))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	code, err := catalog.ParseDistributorCode(chi.URLParam(r, "distributor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.crawls.Trigger(code); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, dispatcher.ErrAlreadyRunning):
			status = http.StatusConflict
		case errors.Is(err, distributor.ErrUnknownDistributor):
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	s.logger.Info("crawl triggered", zap.String("distributor", code.String()))
	writeJSON(w, http.StatusAccepted, map[string]string{"distributor": code.String(), "status": "accepted"})
}

func (s *Server) activeCrawls(w http.ResponseWriter, _ *http.Request) {
	active := s.crawls.Active()
	names := make([]string, 0, len(active))
	for _, code := range active {
		names = append(names, code.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": names})
}

type requestIDKey struct{}

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
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", reqID),
				zap.Duration("duration", time.Since(start)))
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
