// Package api exposes the HTTP interface for the paperlens service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paperlens/paperlens/internal/config"
	"github.com/paperlens/paperlens/internal/dispatcher"
	"github.com/paperlens/paperlens/internal/feed"
	"github.com/paperlens/paperlens/internal/metrics"
	"github.com/paperlens/paperlens/internal/paper"
)

// Server wires HTTP handlers to the feed gateway, the store and the
// dispatcher.
type Server struct {
	router     chi.Router
	store      paper.Store
	gateway    *feed.Gateway
	dispatcher *dispatcher.Dispatcher
	logger     *zap.Logger
	cfg        config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store paper.Store,
	gateway *feed.Gateway,
	disp *dispatcher.Dispatcher,
	logger *zap.Logger,
	cfg config.Config,
) *Server {
	s := &Server{
		store:      store,
		gateway:    gateway,
		dispatcher: disp,
		logger:     logger,
		cfg:        cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)

		r.Group(func(r chi.Router) {
			if cfg.Auth.Enabled {
				r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
			}
			r.Get("/daily", s.daily)
			r.Get("/available-dates", s.availableDates)
			r.Get("/paper/{id}", s.getPaper)
			r.Get("/eval/{id}", s.getEvaluation)
			r.Get("/has-eval/{id}", s.hasEval)
			r.Get("/paper-score/{id}", s.getPaperScore)
			r.Get("/evals", s.listEvaluations)

			r.Route("/papers", func(r chi.Router) {
				r.Post("/insert", s.insertPaper)
				r.Get("/status", s.papersStatus)
				r.Post("/reevaluate/{id}", s.reevaluate)
				r.Route("/evaluate", func(r chi.Router) {
					r.Get("/active-tasks", s.activeTasks)
					r.Post("/{id}", s.evaluate)
					r.Get("/{id}/status", s.evaluationStatus)
				})
			})

			r.Route("/cache", func(r chi.Router) {
				r.Get("/status", s.cacheStatus)
				r.Post("/refresh/{date}", s.cacheRefresh)
				r.Post("/clear", s.cacheClear)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
