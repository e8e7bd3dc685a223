package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/logger"
)

// EventsHandler accepts asynchronous component submissions.
type EventsHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies, l logger.Logger) *EventsHandler {
	return &EventsHandler{deps: deps, logger: l}
}

type eventRequest struct {
	EventID     string        `json:"event_id"`
	ApplicantID int64         `json:"applicant_id"`
	Component   string        `json:"component"`
	Payload     model.Payload `json:"payload"`
	TS          string        `json:"ts"`
}

func (e eventRequest) toEvent() (model.IngestEvent, error) {
	if strings.TrimSpace(e.Component) == "" {
		return model.IngestEvent{}, errors.New("missing component")
	}
	ev := model.IngestEvent{
		EventID:     strings.TrimSpace(e.EventID),
		ApplicantID: e.ApplicantID,
		Component:   e.Component,
		Payload:     e.Payload,
	}
	if e.TS != "" {
		ts, err := time.Parse(time.RFC3339, e.TS)
		if err != nil {
			return model.IngestEvent{}, errors.New("invalid ts; must be RFC3339")
		}
		ev.ReceivedAt = ts
	}
	return ev, nil
}

type ackResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

// HandlePostEvent handles POST /events.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req eventRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeServiceError(ctx, w, h.logger, err)
		return
	}
	ev, err := req.toEvent()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	accepted, duplicate, err := h.deps.Enqueue(ctx, ev)
	if err != nil {
		writeServiceError(ctx, w, h.logger, err)
		return
	}
	if duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", EventID: accepted.EventID, Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: accepted.EventID})
}
