// Package gate implements the HTTP admission layer around the analysis call.
//
// Endpoints:
//
//	POST /v1/analyze  - refresh credits, admit, run the analysis, deduct one credit
//	GET  /v1/credits  - refresh credits and return the current balance
//
// The gate owns the user-visible mapping of ledger outcomes: an unknown
// account is an authorization failure, an exhausted balance is payment
// required, and an unreachable store is a retryable service error.
// Authentication itself happens upstream; the gate trusts the X-User-ID
// header set by the auth proxy.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yaman-694/ui-analyser/internal/analysis"
	"github.com/yaman-694/ui-analyser/internal/credits"
	"github.com/yaman-694/ui-analyser/internal/metrics"
)

// Each successful analysis costs one credit.
const analysisCost = 1

// Analyzer is the slice of the agent client the gate needs.
type Analyzer interface {
	Analyze(ctx context.Context, requestID string, req analysis.Request) (*analysis.Report, error)
}

// Ledger is the slice of the credit ledger the gate needs.
type Ledger interface {
	Refresh(ctx context.Context, userID string) error
	GetBalance(ctx context.Context, userID string) (int64, error)
	Deduct(ctx context.Context, userID string, amount int64) (bool, error)
}

// Handler serves the credit-gated analysis endpoints.
type Handler struct {
	ledger   Ledger
	analyzer Analyzer
	log      zerolog.Logger
}

// NewHandler creates a Handler over the ledger and the analysis agent client.
func NewHandler(ledger Ledger, analyzer Analyzer, logger zerolog.Logger) *Handler {
	return &Handler{
		ledger:   ledger,
		analyzer: analyzer,
		log:      logger.With().Str("component", "gate").Logger(),
	}
}

// RegisterRoutes registers the gate's endpoints on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/analyze", h.handleAnalyze)
	mux.HandleFunc("/v1/credits", h.handleCredits)
}

type analyzeRequest struct {
	URL             string `json:"url"`
	SaveScreenshots bool   `json:"save_screenshots"`
}

type analyzeResponse struct {
	RequestID string           `json:"request_id"`
	Report    *analysis.Report `json:"report"`
	Balance   int64            `json:"credits_remaining"`
}

// handleAnalyze handles POST /v1/analyze.
//
// Flow: Refresh (lazy daily top-up) -> GetBalance (admission) -> agent call
// -> Deduct on success only. A deduction that comes back false after the
// agent call means concurrent requests spent the last credit first; the
// caller still gets payment-required.
func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		metrics.GateRequests.WithLabelValues("unauthorized").Inc()
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if !validTargetURL(req.URL) {
		h.writeError(w, http.StatusBadRequest, "url must be absolute http(s)")
		return
	}

	requestID := uuid.New().String()
	ctx := r.Context()

	if err := h.ledger.Refresh(ctx, userID); err != nil {
		h.writeLedgerError(w, userID, requestID, err)
		return
	}

	balance, err := h.ledger.GetBalance(ctx, userID)
	if err != nil {
		h.writeLedgerError(w, userID, requestID, err)
		return
	}
	if balance < analysisCost {
		metrics.GateRequests.WithLabelValues("insufficient").Inc()
		h.log.Info().
			Str("user_id", userID).
			Str("request_id", requestID).
			Int64("balance", balance).
			Msg("analysis rejected, insufficient credits")
		h.writeError(w, http.StatusPaymentRequired, "insufficient credits")
		return
	}

	start := time.Now()
	report, err := h.analyzer.Analyze(ctx, requestID, analysis.Request{
		URL:             req.URL,
		SaveScreenshots: req.SaveScreenshots,
	})
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GateRequests.WithLabelValues("agent_error").Inc()
		h.log.Error().Err(err).
			Str("user_id", userID).
			Str("request_id", requestID).
			Str("url", req.URL).
			Msg("analysis agent call failed")
		h.writeError(w, http.StatusBadGateway, "analysis failed")
		return
	}

	ok, err := h.ledger.Deduct(ctx, userID, analysisCost)
	if err != nil {
		h.writeLedgerError(w, userID, requestID, err)
		return
	}
	if !ok {
		metrics.GateRequests.WithLabelValues("insufficient").Inc()
		h.writeError(w, http.StatusPaymentRequired, "insufficient credits")
		return
	}

	remaining, err := h.ledger.GetBalance(ctx, userID)
	if err != nil {
		// The analysis succeeded and was charged; report it with an unknown
		// balance rather than failing the whole request.
		h.log.Warn().Err(err).Str("user_id", userID).Msg("balance read after deduct failed")
		remaining = -1
	}

	metrics.GateRequests.WithLabelValues("ok").Inc()
	h.log.Info().
		Str("user_id", userID).
		Str("request_id", requestID).
		Str("url", req.URL).
		Int("issues", len(report.Issues)).
		Int64("credits_remaining", remaining).
		Dur("duration", time.Since(start)).
		Msg("analysis served")

	h.writeJSON(w, http.StatusOK, analyzeResponse{
		RequestID: requestID,
		Report:    report,
		Balance:   remaining,
	})
}

// handleCredits handles GET /v1/credits.
func (h *Handler) handleCredits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	ctx := r.Context()
	if err := h.ledger.Refresh(ctx, userID); err != nil {
		h.writeLedgerError(w, userID, "", err)
		return
	}
	balance, err := h.ledger.GetBalance(ctx, userID)
	if err != nil {
		h.writeLedgerError(w, userID, "", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, userID, requestID string, err error) {
	switch {
	case errors.Is(err, credits.ErrNotFound):
		metrics.GateRequests.WithLabelValues("unauthorized").Inc()
		h.writeError(w, http.StatusUnauthorized, "unknown account")
	case errors.Is(err, credits.ErrStoreUnavailable):
		metrics.GateRequests.WithLabelValues("store_error").Inc()
		h.log.Error().Err(err).
			Str("user_id", userID).
			Str("request_id", requestID).
			Msg("credit store unavailable")
		h.writeError(w, http.StatusServiceUnavailable, "credit service unavailable")
	default:
		metrics.GateRequests.WithLabelValues("error").Inc()
		h.log.Error().Err(err).
			Str("user_id", userID).
			Str("request_id", requestID).
			Msg("ledger call failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func validTargetURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
