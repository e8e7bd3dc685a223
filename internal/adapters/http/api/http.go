// Package api exposes the composite engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/composite/internal/adapters/mq/queue"
	"github.com/okian/composite/internal/adapters/repository"
	service "github.com/okian/composite/internal/app"
	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/logger"
)

// retryAfterSeconds is sent with 409 responses.
const retryAfterSeconds = "1"

// Dependencies required by HTTP handlers.
type Dependencies interface {
	UpdateComponentAndRecompute(ctx context.Context, applicantID int64, key string, payload model.Payload) (model.Result, error)
	RecomputeNow(ctx context.Context, applicantID int64, snap model.Snapshot) (model.Result, error)
	GetCurrent(ctx context.Context, applicantID int64) (model.Record, bool, error)
	GetHistory(ctx context.Context, applicantID int64) ([]model.HistoryEntry, error)
	Enqueue(ctx context.Context, e model.IngestEvent) (model.IngestEvent, bool, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	eventsHandler     *EventsHandler
	applicantsHandler *ApplicantsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	cfg := serverConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.Get().Named("api")
	}
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(statsProvider),
		eventsHandler:     NewEventsHandler(deps, cfg.logger),
		applicantsHandler: NewApplicantsHandler(deps, cfg.logger),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("PUT /applicants/{id}/components/{key}", MetricsMiddleware(s.applicantsHandler.HandlePutComponent, "component"))
	mux.HandleFunc("GET /applicants/{id}", MetricsMiddleware(s.applicantsHandler.HandleGetApplicant, "applicant"))
	mux.HandleFunc("GET /applicants/{id}/history", MetricsMiddleware(s.applicantsHandler.HandleGetHistory, "history"))
	mux.HandleFunc("POST /applicants/{id}/recompute", MetricsMiddleware(s.applicantsHandler.HandleRecompute, "recompute"))
}

// Option configures the Server.
type Option func(*serverConfig)

type serverConfig struct {
	logger logger.Logger
}

// WithLogger sets a custom logger for the handlers.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Stage     string `json:"stage,omitempty"`
	Retriable bool   `json:"retriable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps domain errors onto status codes.
func writeServiceError(ctx context.Context, w http.ResponseWriter, l logger.Logger, err error) {
	var perr *repository.PersistError
	switch {
	case errors.Is(err, model.ErrInvalidApplicant),
		errors.Is(err, model.ErrUnknownComponent),
		errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case service.IsRetriable(err):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeJSON(w, http.StatusConflict, errorResponse{Code: "conflict", Message: err.Error(), Retriable: true})
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", fmt.Errorf("%w: %w", ErrBackpressure, err))
	case errors.Is(err, queue.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.As(err, &perr):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "persist_failed", Message: err.Error(), Stage: string(perr.Stage)})
	default:
		l.Error(ctx, "request failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

func applicantID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: applicant id %q is not an integer", ErrBadRequest, raw)
	}
	if err := model.ValidateApplicant(id); err != nil {
		return 0, err
	}
	return id, nil
}
