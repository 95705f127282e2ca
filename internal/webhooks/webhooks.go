// Package webhooks receives inbound provisioning and billing events.
//
// Account creation and plan changes are owned by external collaborators
// (sign-up and billing providers); this package only materializes their
// decisions in the store and keeps the ledger's cache coherent. Full webhook
// signature verification happens at the provider edge; a shared-secret
// header guards these routes inside the deployment.
package webhooks

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/yaman-694/ui-analyser/internal/credits"
)

// CacheInvalidator drops a user's cached credit snapshot.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context, userID string) error
}

// Handler serves the provisioning and billing webhook endpoints.
type Handler struct {
	store  credits.Store
	ledger CacheInvalidator
	secret string
	log    zerolog.Logger
}

// NewHandler creates a webhook Handler. secret may be empty in development,
// which disables the shared-secret check.
func NewHandler(store credits.Store, ledger CacheInvalidator, secret string, logger zerolog.Logger) *Handler {
	return &Handler{
		store:  store,
		ledger: ledger,
		secret: secret,
		log:    logger.With().Str("component", "webhooks").Logger(),
	}
}

// RegisterRoutes registers the webhook endpoints on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhooks/user-created", h.handleUserCreated)
	mux.HandleFunc("/webhooks/plan-changed", h.handlePlanChanged)
}

type userCreatedEvent struct {
	UserID string `json:"user_id"`
}

type planChangedEvent struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan"`
}

// handleUserCreated provisions a free-tier account seeded with the starting
// balance. Redelivered events are no-ops.
func (h *Handler) handleUserCreated(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, r) {
		return
	}

	var event userCreatedEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil || event.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	acct := credits.Account{
		UserID:          event.UserID,
		Plan:            credits.PlanFree,
		Balance:         credits.StartingCredits,
		LastRefreshedAt: time.Now().UTC(),
	}
	if err := h.store.CreateAccount(r.Context(), acct); err != nil {
		h.log.Error().Err(err).Str("user_id", event.UserID).Msg("account provisioning failed")
		h.writeError(w, http.StatusInternalServerError, "provisioning failed")
		return
	}

	h.log.Info().Str("user_id", event.UserID).Msg("credit account provisioned")
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePlanChanged writes the new tier to the store and invalidates the
// cached snapshot so the next read observes the new plan immediately rather
// than after the TTL expires.
func (h *Handler) handlePlanChanged(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, r) {
		return
	}

	var event planChangedEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil || event.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	plan, err := credits.ParsePlan(event.Plan)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.SetPlan(r.Context(), event.UserID, plan); err != nil {
		if errors.Is(err, credits.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "unknown account")
			return
		}
		h.log.Error().Err(err).Str("user_id", event.UserID).Msg("plan update failed")
		h.writeError(w, http.StatusInternalServerError, "plan update failed")
		return
	}

	if err := h.ledger.InvalidateCache(r.Context(), event.UserID); err != nil {
		// The stale snapshot expires with the TTL anyway; log and move on.
		h.log.Warn().Err(err).Str("user_id", event.UserID).Msg("cache invalidation failed")
	}

	h.log.Info().
		Str("user_id", event.UserID).
		Str("plan", string(plan)).
		Msg("plan updated")
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) admit(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if h.secret != "" {
		provided := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
			h.writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return false
		}
	}
	return true
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
