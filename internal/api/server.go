package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"careerhub-jobs/internal/config"
	"careerhub-jobs/internal/manager"
	"careerhub-jobs/internal/models"
	"careerhub-jobs/internal/notify"
	"careerhub-jobs/internal/ratelimit"
	"careerhub-jobs/internal/telemetry"
)

const ownerHeader = "x-user-id"

// Server wires the HTTP surface consumed by the dashboard UI.
type Server struct {
	cfg     config.Config
	manager *manager.Manager
	hub     *notify.Hub
	limiter *ratelimit.SubmissionLimiter
	log     *slog.Logger

	upgrader websocket.Upgrader
}

// New constructs the API server. The limiter may be nil to disable
// submission throttling.
func New(cfg config.Config, m *manager.Manager, hub *notify.Hub, limiter *ratelimit.SubmissionLimiter, log *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		manager: m,
		hub:     hub,
		limiter: limiter,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard fronts this service behind its own origin; keep
			// the check at the gateway.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs", s.handleListActive)
	r.Get("/jobs/events", s.handleEvents)
	r.Get("/jobs/{jobID}", s.handleGetJob)
	r.Post("/jobs/{jobID}/cancel", s.handleCancel)
	return r
}

type submitRequest struct {
	Type string `json:"type"`
}

type submitResponse struct {
	JobID  string           `json:"jobId"`
	Status models.JobStatus `json:"status"`
}

type listResponse struct {
	Jobs  []models.JobRecord `json:"jobs"`
	Count int                `json:"count"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.owner(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.AllowSubmission(r.Context(), ownerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "too many submissions")
			return
		}
	}

	// The full body is the payload; unknown top-level keys (like "type"
	// itself) are ignored by the per-type contracts.
	rec, err := s.manager.CreateJob(r.Context(), req.Type, body, ownerID)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{JobID: rec.ID, Status: rec.Status})
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.owner(w, r)
	if !ok {
		return
	}
	jobs, err := s.manager.GetUserActiveJobs(r.Context(), ownerID)
	if err != nil {
		s.log.Error("list active jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if jobs == nil {
		jobs = []models.JobRecord{}
	}
	// Clients without a live event connection poll this endpoint; tell them
	// how often.
	w.Header().Set("X-Poll-Interval-Ms", strconv.FormatInt(s.cfg.PollFallbackInterval.Milliseconds(), 10))
	writeJSON(w, http.StatusOK, listResponse{Jobs: jobs, Count: len(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.owner(w, r)
	if !ok {
		return
	}
	jobID := chi.URLParam(r, "jobID")
	rec, err := s.manager.GetJobStatus(r.Context(), jobID, ownerID)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.owner(w, r)
	if !ok {
		return
	}
	jobID := chi.URLParam(r, "jobID")
	cancelled, err := s.manager.CancelJob(r.Context(), jobID, ownerID)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	if !cancelled {
		writeError(w, http.StatusBadRequest, "job is not cancellable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleEvents upgrades to a websocket joined to the caller's room. Clients
// losing this connection fall back to polling GET /jobs.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.owner(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", slog.String("error", err.Error()))
		return
	}
	s.hub.HandleConnection(conn, ownerID)
}

func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := r.Header.Get(ownerHeader)
	if ownerID == "" {
		writeError(w, http.StatusUnauthorized, fmt.Sprintf("missing %s header", ownerHeader))
		return "", false
	}
	return ownerID, true
}

func (s *Server) writeManagerError(w http.ResponseWriter, err error) {
	var vErr *models.ValidationError
	switch {
	case errors.Is(err, manager.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, models.ErrUnknownJobType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	default:
		s.log.Error("request failed", slog.String("error", err.Error()))
		msg := "internal error"
		if s.cfg.Dev() {
			msg = err.Error()
		}
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
