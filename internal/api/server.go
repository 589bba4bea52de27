// Package api exposes the caller-facing operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waltergaltieri/postia/internal/core/domain"
	"github.com/waltergaltieri/postia/internal/pipeline/ledger"
	"github.com/waltergaltieri/postia/internal/pipeline/orchestrator"
)

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server routes the jobs and tenants API.
type Server struct {
	orch    *orchestrator.Orchestrator
	tokens  *ledger.Service
	checks  map[string]HealthChecker
	server  *http.Server
	log     *slog.Logger
}

// NewServer creates the HTTP server. checks maps a dependency name
// ("database", "redis") to its health probe.
func NewServer(
	orch *orchestrator.Orchestrator,
	tokens *ledger.Service,
	checks map[string]HealthChecker,
	port int,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		orch:   orch,
		tokens: tokens,
		checks: checks,
		log:    log.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Post("/jobs/{id}/advance", s.handleAdvance)
		r.Post("/jobs/{id}/cancel", s.handleCancel)
		r.Get("/tenants/{id}/balance", s.handleBalance)
		r.Get("/tenants/{id}/recovery-stats", s.handleRecoveryStats)
		r.Post("/estimates/campaign", s.handleCampaignEstimate)
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	deps := make(map[string]string, len(s.checks))

	for name, check := range s.checks {
		if err := check.Health(r.Context()); err != nil {
			deps[name] = err.Error()
			status = "critical"
			code = http.StatusServiceUnavailable
		} else {
			deps[name] = "ok"
		}
	}

	s.writeJSON(w, code, map[string]any{"status": status, "dependencies": deps})
}

type submitJobRequest struct {
	TenantID string              `json:"tenant_id"`
	ClientID string              `json:"client_id,omitempty"`
	Context  domain.BrandContext `json:"context"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jobID, err := s.orch.Submit(r.Context(), req.TenantID, req.ClientID, req.Context)
	if err != nil {
		var valErr *domain.ValidationError
		if errors.As(err, &valErr) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.Status(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	err := s.orch.Advance(r.Context(), jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.log.Error("advance failed", "job", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to advance job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	err := s.orch.Cancel(r.Context(), jobID, r.URL.Query().Get("reason"))
	if errors.Is(err, domain.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if errors.Is(err, domain.ErrJobTerminal) {
		s.writeError(w, http.StatusConflict, "job already terminal")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")
	balance, err := s.tokens.Balance(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load balance")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenantID, "balance": balance})
}

func (s *Server) handleRecoveryStats(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")

	from, to := parseRange(r)
	stats, err := s.orch.RecoveryStatistics(r.Context(), tenantID, from, to)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to aggregate recovery statistics")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type campaignEstimateRequest struct {
	PostCount     int     `json:"post_count"`
	IncludeImages bool    `json:"include_images"`
	BufferRatio   float64 `json:"buffer_ratio"`
}

func (s *Server) handleCampaignEstimate(w http.ResponseWriter, r *http.Request) {
	var req campaignEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	total := s.tokens.EstimateCampaignCost(req.PostCount, req.IncludeImages, req.BufferRatio)
	s.writeJSON(w, http.StatusOK, map[string]int64{"total": total})
}

// parseRange reads unix-second from/to query params, defaulting to the last
// 30 days.
func parseRange(r *http.Request) (time.Time, time.Time) {
	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			from = time.Unix(sec, 0)
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			to = time.Unix(sec, 0)
		}
	}
	return from, to
}
