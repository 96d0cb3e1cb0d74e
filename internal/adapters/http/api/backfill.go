// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ecotally/ecotally/internal/domain/ledger"
)

// BackfillDependencies defines the interface for bulk historical ingestion.
type BackfillDependencies interface {
	Backfill(ctx context.Context, req ledger.BackfillRequest) (ledger.BackfillResult, error)
}

// BackfillHandler handles batched historical submissions.
type BackfillHandler struct {
	deps BackfillDependencies
}

// NewBackfillHandler creates a new backfill handler.
func NewBackfillHandler(deps BackfillDependencies) *BackfillHandler {
	return &BackfillHandler{deps: deps}
}

type backfillRequest struct {
	BatchKey string          `json:"batch_key"`
	Events   []actionRequest `json:"events"`
}

type backfillResponse struct {
	Inserted      int      `json:"inserted"`
	Skipped       int      `json:"skipped"`
	GlobalTotal   string   `json:"global_total"`
	AffectedUsers []string `json:"affected_users"`
}

// HandlePostBackfill handles POST /actions/backfill requests.
func (h *BackfillHandler) HandlePostBackfill(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_backfill"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	batch := ledger.BackfillRequest{
		BatchKey: req.BatchKey,
		Events:   make([]ledger.SubmitRequest, 0, len(req.Events)),
	}
	for i := range req.Events {
		if err := req.Events[i].validate(); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		sub, err := req.Events[i].toSubmitRequest()
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		batch.Events = append(batch.Events, sub)
	}

	res, err := h.deps.Backfill(r.Context(), batch)
	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", WrapKind(op, ErrConflict, err))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}

	writeJSON(w, http.StatusOK, backfillResponse{
		Inserted:      res.InsertedCount,
		Skipped:       res.SkippedCount,
		GlobalTotal:   res.GlobalTotal,
		AffectedUsers: res.AffectedUsers,
	})
}
