// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ecotally/ecotally/internal/domain/reconcile"
)

// ReconcileDependencies defines the interface for on-demand reconciliation.
type ReconcileDependencies interface {
	Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Report, error)
}

// ReconcileHandler handles operator-triggered reconciliation passes.
type ReconcileHandler struct {
	deps ReconcileDependencies
}

// NewReconcileHandler creates a new reconcile handler.
func NewReconcileHandler(deps ReconcileDependencies) *ReconcileHandler {
	return &ReconcileHandler{deps: deps}
}

type reconcileRequest struct {
	AutoCorrect bool   `json:"auto_correct"`
	Actor       string `json:"actor,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type reconcileResponse struct {
	InSync      bool   `json:"in_sync"`
	UserSum     string `json:"user_sum"`
	GlobalTotal string `json:"global_total"`
	Discrepancy string `json:"discrepancy"`
	Corrected   bool   `json:"corrected"`
}

// HandlePostReconcile handles POST /reconcile requests. An empty body runs
// a detect-only pass.
func (h *ReconcileHandler) HandlePostReconcile(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_reconcile"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	report, err := h.deps.Reconcile(r.Context(), reconcile.Request{
		AutoCorrect: req.AutoCorrect,
		Actor:       req.Actor,
		Reason:      req.Reason,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}

	writeJSON(w, http.StatusOK, reconcileResponse{
		InSync:      report.WasInSync,
		UserSum:     report.UserSum.String(),
		GlobalTotal: report.GlobalTotal.String(),
		Discrepancy: report.Discrepancy.String(),
		Corrected:   report.Corrected,
	})
}
