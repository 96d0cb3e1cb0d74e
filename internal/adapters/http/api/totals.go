// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// TotalsDependencies defines the interface for total queries.
type TotalsDependencies interface {
	UserTotal(ctx context.Context, userID string) (decimal.Decimal, error)
	GlobalTotal(ctx context.Context) (decimal.Decimal, error)
}

// TotalsHandler handles total queries.
type TotalsHandler struct {
	deps TotalsDependencies
}

// NewTotalsHandler creates a new totals handler.
func NewTotalsHandler(deps TotalsDependencies) *TotalsHandler {
	return &TotalsHandler{deps: deps}
}

type totalResponse struct {
	UserID string `json:"user_id,omitempty"`
	Total  string `json:"total"`
}

// HandleGetGlobalTotal handles GET /totals/global requests.
func (h *TotalsHandler) HandleGetGlobalTotal(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_global_total"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	total, err := h.deps.GlobalTotal(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, totalResponse{Total: total.String()})
}

// HandleGetUserTotal handles GET /totals/{user_id} requests. Unknown users
// read as zero rather than an error.
func (h *TotalsHandler) HandleGetUserTotal(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_user_total"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/totals/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	total, err := h.deps.UserTotal(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, totalResponse{UserID: userID, Total: total.String()})
}
