// Package api exposes the HTTP control plane for the scraper service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/bizscraper/internal/dispatch"
	"github.com/JakeFAU/bizscraper/internal/events"
	"github.com/JakeFAU/bizscraper/internal/metrics"
	"github.com/JakeFAU/bizscraper/internal/scrape"
)

// Server wires HTTP handlers to the coordinator and stores.
type Server struct {
	router     chi.Router
	jobs       scrape.JobStore
	eventLog   scrape.EventStore
	businesses scrape.BusinessStore
	coord      *dispatch.Coordinator
	emitter    *events.Emitter
	idGen      scrape.IDGenerator
	apiKey     string
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. An empty
// apiKey leaves the control plane open.
func NewServer(
	jobs scrape.JobStore,
	eventLog scrape.EventStore,
	businesses scrape.BusinessStore,
	coord *dispatch.Coordinator,
	emitter *events.Emitter,
	idGen scrape.IDGenerator,
	apiKey string,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:       jobs,
		eventLog:   eventLog,
		businesses: businesses,
		coord:      coord,
		emitter:    emitter,
		idGen:      idGen,
		apiKey:     apiKey,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if apiKey != "" {
			r.Use(apiKeyMiddleware(apiKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/events", s.getEvents)
				r.Get("/businesses", s.getBusinesses)
				r.Post("/pause", s.pauseJob)
				r.Post("/resume", s.resumeJob)
				r.Post("/kill", s.killJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// A failing store read means we cannot serve control operations.
	if _, err := s.jobs.GetStatus(r.Context(), "readyz-probe"); err != nil && !errors.Is(err, scrape.ErrNotFound) {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	Keyword string   `json:"keyword"`
	Cities  []string `json:"cities"`
	Source  string   `json:"source"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Keyword == "" || len(req.Cities) == 0 {
		s.writeError(w, http.StatusBadRequest, "keyword and cities are required")
		return
	}
	if req.Source == "" {
		req.Source = scrape.SourceYellowPages
	}
	if req.Source != scrape.SourceYellowPages {
		s.writeError(w, http.StatusBadRequest, "unsupported source")
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "generate job id")
		return
	}
	total, err := s.coord.Dispatch(r.Context(), jobID, req.Keyword, req.Cities, []string{req.Source})
	if err != nil {
		s.logger.Error("dispatch failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      jobID,
		"status":      scrape.JobStatusPending,
		"total_tasks": total,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	view, err := s.jobs.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "load job")
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.jobs.GetStatus(r.Context(), jobID); err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "load job")
		return
	}

	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = parsed
	}

	evts, err := s.eventLog.Read(r.Context(), jobID, since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "read events")
		return
	}
	if evts == nil {
		evts = []scrape.Event{}
	}
	// latest_sequence lets a realtime subscriber tell where replay ends
	// and the live channel picks up.
	latest, err := s.eventLog.LatestSequence(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "read events")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":          jobID,
		"events":          evts,
		"latest_sequence": latest,
	})
}

func (s *Server) getBusinesses(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.jobs.GetStatus(r.Context(), jobID); err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "load job")
		return
	}
	list, err := s.businesses.List(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list businesses")
		return
	}
	if list == nil {
		list = []scrape.Business{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "businesses": list})
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	ok, err := s.jobs.Pause(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "pause job")
		return
	}
	if !ok {
		s.writeError(w, http.StatusBadRequest, "job not found or not in running state")
		return
	}
	cancelled, err := s.coord.CancelActive(r.Context(), jobID)
	if err != nil {
		s.logger.Error("cancel active tasks", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "cancel active tasks")
		return
	}
	s.emitStatus(r.Context(), jobID, scrape.JobStatusPaused, "job paused")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":          scrape.JobStatusPaused,
		"cancelled_count": cancelled,
	})
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	ok, err := s.jobs.Resume(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "resume job")
		return
	}
	if !ok {
		s.writeError(w, http.StatusBadRequest, "job not found or not in paused state")
		return
	}
	respawned, err := s.coord.ResumeDispatch(r.Context(), jobID)
	if err != nil {
		s.logger.Error("resume dispatch", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "resume dispatch")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    scrape.JobStatusRunning,
		"respawned": respawned,
	})
}

func (s *Server) killJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.jobs.GetStatus(r.Context(), jobID); err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "load job")
		return
	}
	ok, err := s.jobs.Kill(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "kill job")
		return
	}
	if !ok {
		s.writeError(w, http.StatusBadRequest, "job is not running or paused")
		return
	}
	cancelled, err := s.coord.CancelActive(r.Context(), jobID)
	if err != nil {
		s.logger.Error("cancel active tasks", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "cancel active tasks")
		return
	}
	s.emitStatus(r.Context(), jobID, scrape.JobStatusKilled, "job killed")
	metrics.ObserveJob(string(scrape.JobStatusKilled))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":          scrape.JobStatusKilled,
		"cancelled_count": cancelled,
	})
}

func (s *Server) emitStatus(ctx context.Context, jobID string, status scrape.JobStatus, detail string) {
	if s.emitter == nil {
		return
	}
	if _, err := s.emitter.Status(ctx, jobID, status, detail); err != nil {
		s.logger.Warn("status event not recorded",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

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
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

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
