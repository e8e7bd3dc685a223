package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/logger"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ApplicantsHandler serves applicant reads and synchronous updates.
type ApplicantsHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewApplicantsHandler creates a new applicants handler.
func NewApplicantsHandler(deps Dependencies, l logger.Logger) *ApplicantsHandler {
	return &ApplicantsHandler{deps: deps, logger: l}
}

type historyResponse struct {
	ApplicantID int64                `json:"applicant_id"`
	Entries     []model.HistoryEntry `json:"entries"`
}

type recomputeRequest struct {
	Components model.Snapshot `json:"components"`
}

// HandlePutComponent handles PUT /applicants/{id}/components/{key}.
func (h *ApplicantsHandler) HandlePutComponent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := applicantID(r)
	if err != nil {
		writeServiceError(ctx, w, h.logger, err)
		return
	}
	var payload model.Payload
	if err := decodeBody(r, &payload, false); err != nil {
		writeServiceError(ctx, w, h.logger, err)
		return
	}
	res, err := h.deps.UpdateComponentAndRecompute(ctx, id, r.PathValue("key"), payload)
	if err != nil {
		writeServiceError(ctx, w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleGetApplicant handles GET /applicants/{id}.
func (h *ApplicantsHandler) HandleGetApplicant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := applicantID(r)
	if err != nil {
		writeServiceError(ctx, w, h.logger, err)
		return
	}
	rec, ok, err := h.deps.GetCurrent(ctx, id)
	if err != nil {
		writeServiceError(ctx, w, h.logger, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("applicant %d has no composite", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleGetHistory handles GET /applicants/{id}/history.
func (h *ApplicantsHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := applicantID(r)
	if err != nil {
		writeServiceError(ctx, w, h.logger, err)
		return
	}
	entries, err := h.deps.GetHistory(ctx, id)
	if err != nil {
		writeServiceError(ctx, w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{ApplicantID: id, Entries: entries})
}

// HandleRecompute handles POST /applicants/{id}/recompute. An empty body
// recomputes from the stored snapshot.
func (h *ApplicantsHandler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := applicantID(r)
	if err != nil {
		writeServiceError(ctx, w, h.logger, err)
		return
	}
	var req recomputeRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeServiceError(ctx, w, h.logger, err)
		return
	}
	res, err := h.deps.RecomputeNow(ctx, id, req.Components)
	if err != nil {
		writeServiceError(ctx, w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
