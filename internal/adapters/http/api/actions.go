// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ecotally/ecotally/internal/domain/ledger"
)

// ActionDependencies defines the interface for action submission.
type ActionDependencies interface {
	Submit(ctx context.Context, req ledger.SubmitRequest) (ledger.SubmitResult, error)
}

// ActionsHandler handles climate action submissions.
type ActionsHandler struct {
	deps ActionDependencies
}

// NewActionsHandler creates a new actions handler.
func NewActionsHandler(deps ActionDependencies) *ActionsHandler {
	return &ActionsHandler{deps: deps}
}

// HandlePostAction handles POST /actions requests.
//
// Status mapping:
//
//	200 committed (or duplicate of an earlier commit)
//	202 held pending verification
//	400 validation failure
//	409 serialization conflict; retry with the same idempotency key
func (h *ActionsHandler) HandlePostAction(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_action"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	sub, err := req.toSubmitRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := h.deps.Submit(r.Context(), sub)
	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	case errors.Is(err, ledger.ErrVerificationPending):
		writeJSON(w, http.StatusAccepted, ackResponse{
			Status:         "pending_verification",
			IdempotencyKey: req.IdempotencyKey,
		})
		return
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", WrapKind(op, ErrConflict, err))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}

	status := "committed"
	if res.IsDuplicate {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, ackResponse{
		Status:         status,
		IdempotencyKey: res.IdempotencyKey,
		Duplicate:      res.IsDuplicate,
		UserTotal:      res.UserTotal.String(),
		GlobalTotal:    res.GlobalTotal.String(),
	})
}
