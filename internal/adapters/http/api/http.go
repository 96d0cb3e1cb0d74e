// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecotally/ecotally/internal/domain/ledger"
	"github.com/ecotally/ecotally/internal/domain/model"
	"github.com/ecotally/ecotally/internal/domain/rank"
	"github.com/ecotally/ecotally/internal/domain/reconcile"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Write operations feed the ledger.
	Submit(ctx context.Context, req ledger.SubmitRequest) (ledger.SubmitResult, error)
	Backfill(ctx context.Context, req ledger.BackfillRequest) (ledger.BackfillResult, error)
	Reconcile(ctx context.Context, req reconcile.Request) (reconcile.Report, error)

	// Read operations expose totals and rankings.
	UserTotal(ctx context.Context, userID string) (decimal.Decimal, error)
	GlobalTotal(ctx context.Context) (decimal.Decimal, error)
	Leaderboard(ctx context.Context, q rank.Query) ([]model.LeaderboardEntry, error)
	UserRank(ctx context.Context, userID string) (model.LeaderboardEntry, error)
	AuditTrail(ctx context.Context, limit int) ([]model.CorrectionRecord, error)

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit() int
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	actionsHandler     *ActionsHandler
	backfillHandler    *BackfillHandler
	reconcileHandler   *ReconcileHandler
	totalsHandler      *TotalsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	auditHandler       *AuditHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		actionsHandler:     NewActionsHandler(deps),
		backfillHandler:    NewBackfillHandler(deps),
		reconcileHandler:   NewReconcileHandler(deps),
		totalsHandler:      NewTotalsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, deps.MaxLeaderboardLimit()),
		rankHandler:        NewRankHandler(deps),
		auditHandler:       NewAuditHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/actions/backfill", MetricsMiddleware(s.backfillHandler.HandlePostBackfill, "backfill"))
	mux.HandleFunc("/actions", MetricsMiddleware(s.actionsHandler.HandlePostAction, "actions"))
	mux.HandleFunc("/reconcile", MetricsMiddleware(s.reconcileHandler.HandlePostReconcile, "reconcile"))
	mux.HandleFunc("/totals/global", MetricsMiddleware(s.totalsHandler.HandleGetGlobalTotal, "totals_global"))
	mux.HandleFunc("/totals/", MetricsMiddleware(s.totalsHandler.HandleGetUserTotal, "totals_user"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/rank/", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("/audit", MetricsMiddleware(s.auditHandler.HandleGetAudit, "audit"))
}

// actionRequest mirrors the OpenAPI schema for POST /actions. Quantities
// travel as decimal text so precision survives the wire.
type actionRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	UserID         string            `json:"user_id"`
	Quantity       string            `json:"quantity"`
	Unit           string            `json:"unit"`
	OccurredAt     string            `json:"occurred_at"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Verified       bool              `json:"verified,omitempty"`
}

func (a actionRequest) validate() error {
	switch {
	case strings.TrimSpace(a.IdempotencyKey) == "":
		return errors.New("missing idempotency_key")
	case strings.TrimSpace(a.UserID) == "":
		return errors.New("missing user_id")
	case strings.TrimSpace(a.Quantity) == "":
		return errors.New("missing quantity")
	case strings.TrimSpace(a.Unit) == "":
		return errors.New("missing unit")
	case strings.TrimSpace(a.OccurredAt) == "":
		return errors.New("missing occurred_at")
	}
	if _, err := time.Parse(time.RFC3339, a.OccurredAt); err != nil {
		return errors.New("invalid occurred_at; must be RFC3339")
	}
	return nil
}

// toSubmitRequest converts the wire shape. validate must have passed.
func (a actionRequest) toSubmitRequest() (ledger.SubmitRequest, error) {
	qty, err := model.ParseQuantity(a.Quantity)
	if err != nil {
		return ledger.SubmitRequest{}, err
	}
	occurredAt, err := time.Parse(time.RFC3339, a.OccurredAt)
	if err != nil {
		return ledger.SubmitRequest{}, errors.New("invalid occurred_at; must be RFC3339")
	}
	return ledger.SubmitRequest{
		IdempotencyKey: a.IdempotencyKey,
		UserID:         a.UserID,
		Quantity:       qty,
		Unit:           a.Unit,
		OccurredAt:     occurredAt,
		Metadata:       a.Metadata,
		Description:    a.Description,
		Verified:       a.Verified,
	}, nil
}

type ackResponse struct {
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Duplicate      bool   `json:"duplicate"`
	UserTotal      string `json:"user_total,omitempty"`
	GlobalTotal    string `json:"global_total,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
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
