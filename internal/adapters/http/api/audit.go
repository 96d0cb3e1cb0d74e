// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ecotally/ecotally/internal/domain/model"
)

// Default and maximum audit page sizes.
const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditDependencies defines the interface for correction history queries.
type AuditDependencies interface {
	AuditTrail(ctx context.Context, limit int) ([]model.CorrectionRecord, error)
}

// AuditHandler handles correction audit queries.
type AuditHandler struct {
	deps AuditDependencies
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(deps AuditDependencies) *AuditHandler {
	return &AuditHandler{deps: deps}
}

type correctionResponse struct {
	ID             string    `json:"id"`
	PreviousTotal  string    `json:"previous_total"`
	CorrectedTotal string    `json:"corrected_total"`
	Discrepancy    string    `json:"discrepancy"`
	Reason         string    `json:"reason"`
	Actor          string    `json:"actor"`
	CreatedAt      time.Time `json:"created_at"`
}

// HandleGetAudit handles GET /audit?limit=N requests, most recent first.
func (h *AuditHandler) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_audit"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	limit := defaultAuditLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 || n > maxAuditLimit {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		limit = n
	}
	records, err := h.deps.AuditTrail(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	out := make([]correctionResponse, len(records))
	for i, rec := range records {
		out[i] = correctionResponse{
			ID:             rec.ID,
			PreviousTotal:  rec.PreviousTotal.String(),
			CorrectedTotal: rec.CorrectedTotal.String(),
			Discrepancy:    rec.Discrepancy.String(),
			Reason:         rec.Reason,
			Actor:          rec.Actor,
			CreatedAt:      rec.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
