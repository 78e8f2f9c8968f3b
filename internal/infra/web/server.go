package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"rfp-stream-core/internal/domain"
	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/infra/logging"
	"rfp-stream-core/internal/usecase"
)

// Server is the operational HTTP surface: health, Prometheus metrics and
// a read-mostly jobs API for operators. The platform's business REST
// endpoints live outside this core.
type Server struct {
	registry *usecase.RegistryUseCase
	gateway  *usecase.GatewayUseCase
	apiKey   string
	log      *zerolog.Logger
}

func NewServer(registry *usecase.RegistryUseCase, gateway *usecase.GatewayUseCase, apiKey string, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "AdminServer").Logger()
	return &Server{registry: registry, gateway: gateway, apiKey: apiKey, log: &l}
}

// Router builds the chi router for the admin surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Use(s.authMiddleware)
		r.Get("/jobs", s.handleListActive)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/events", s.handleJobEvents)
		r.Post("/jobs/{id}/cancel", s.handleCancel)
		r.Get("/sessions", s.handleListSessions)
	})
	return r
}

// requestLogger tags each request with a trace id and emits one
// completion line carrying the context fields.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithTraceID(r.Context(), uuid.NewString())
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logging.With(ctx, s.log).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

// authMiddleware provides simple Bearer token authentication for the admin API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}
		if parts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type jobDTO struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	Owner           string    `json:"owner"`
	State           string    `json:"state"`
	ResultRef       string    `json:"result_ref,omitempty"`
	ErrorDetail     string    `json:"error_detail,omitempty"`
	CancelRequested bool      `json:"cancel_requested"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toJobDTO(j *model.Job) jobDTO {
	return jobDTO{
		ID:              j.ID,
		Kind:            string(j.Kind),
		Owner:           j.Owner,
		State:           string(j.State),
		ResultRef:       j.ResultRef,
		ErrorDetail:     j.ErrorDetail,
		CancelRequested: j.CancelRequested,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	ctx := r.Context()
	if owner != "" {
		ctx = logging.WithOwnerID(ctx, owner)
	}
	jobs, err := s.registry.ListActive(ctx, owner)
	if err != nil {
		s.writeError(w, r.WithContext(ctx), err)
		return
	}
	out := make([]jobDTO, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobDTO(j))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithJobID(r.Context(), chi.URLParam(r, "id"))
	job, err := s.registry.GetJob(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r.WithContext(ctx), err)
		return
	}
	s.writeJSON(w, http.StatusOK, toJobDTO(job))
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithJobID(r.Context(), chi.URLParam(r, "id"))
	events, err := s.registry.ListJobEvents(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r.WithContext(ctx), err)
		return
	}
	type eventDTO struct {
		ID          string    `json:"id"`
		Type        string    `json:"type"`
		JobID       string    `json:"job_id"`
		State       string    `json:"state"`
		Detail      string    `json:"detail,omitempty"`
		PublishedAt time.Time `json:"published_at"`
	}
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, eventDTO{
			ID:          ev.ID,
			Type:        string(ev.Type),
			JobID:       ev.JobID,
			State:       string(ev.State),
			Detail:      ev.Detail,
			PublishedAt: ev.PublishedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	type sessionDTO struct {
		SubscriberID string `json:"subscriber_id"`
		JobID        string `json:"job_id"`
		LastAckedSeq int64  `json:"last_acked_seq"`
		Credit       int    `json:"credit"`
	}
	out := []sessionDTO{}
	if s.gateway != nil {
		for _, sub := range s.gateway.Sessions() {
			out = append(out, sessionDTO{
				SubscriberID: sub.SubscriberID,
				JobID:        sub.JobID,
				LastAckedSeq: sub.LastAckedSeq,
				Credit:       sub.Credit,
			})
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithJobID(r.Context(), chi.URLParam(r, "id"))
	if err := s.registry.Cancel(ctx, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r.WithContext(ctx), err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyTerminal), errors.Is(err, domain.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidKind):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrQuotaExceeded):
		code = http.StatusTooManyRequests
	}
	if code == http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}
