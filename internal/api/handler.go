// Package api exposes the pool engine over HTTP: event lifecycle, joins,
// resolution and wallets, as JSON under chi.
//
// All monetary values travel as decimal strings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/shopspring/decimal"

	"github.com/eventpool/pool-engine/internal/eventpool"
	"github.com/eventpool/pool-engine/internal/model"
	"github.com/eventpool/pool-engine/internal/settlement"
)

// Handler serves the eventpool.Service.
type Handler struct {
	svc *eventpool.Service
}

// NewHandler creates a handler for svc.
func NewHandler(svc *eventpool.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/events", h.ListEvents)
	r.Post("/events", h.CreateEvent)
	r.Route("/events/{eventID}", func(r chi.Router) {
		r.Get("/", h.GetEvent)
		r.Get("/participants", h.ListParticipants)
		r.Get("/pool", h.GetPool)
		r.Post("/join", h.JoinEvent)
		r.Post("/result", h.SetResult)
		r.Post("/payout", h.ProcessPayout)
		r.Post("/cancel", h.CancelEvent)
	})

	r.Get("/wallets/{userID}", h.GetBalance)
	r.Post("/wallets/{userID}/deposit", h.Deposit)
	r.Get("/wallets/{userID}/transactions", h.ListTransactions)
}

// --- Request/Response types ---

// CreateEventRequest is the JSON body for POST /events.
type CreateEventRequest = eventpool.CreateEventInput

// JoinRequest is the JSON body for POST /events/{eventID}/join.
type JoinRequest struct {
	UserID     string          `json:"user_id"`
	Prediction *bool           `json:"prediction"` // true = YES
	Amount     decimal.Decimal `json:"amount"`
}

// ResultRequest is the JSON body for POST /events/{eventID}/result.
type ResultRequest struct {
	Result *bool `json:"result"`
}

// PayoutRequest is the optional JSON body for POST /events/{eventID}/payout.
// With Outcome set, an undeclared event is declared and paid in one step.
type PayoutRequest struct {
	Outcome *bool `json:"outcome"`
}

// PayoutResponse is the JSON body returned from POST /events/{eventID}/payout.
type PayoutResponse struct {
	*model.SettlementResult
	Message string `json:"message,omitempty"`
}

// DepositRequest is the JSON body for POST /wallets/{userID}/deposit.
type DepositRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

// --- Events ---

// CreateEvent handles POST /api/v1/events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ev, err := h.svc.CreateEvent(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// ListEvents handles GET /api/v1/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /api/v1/events/{eventID}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// ListParticipants handles GET /api/v1/events/{eventID}/participants
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	ps, err := h.svc.ListParticipants(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// GetPool handles GET /api/v1/events/{eventID}/pool
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetPoolStats(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Participation ---

// JoinEvent handles POST /api/v1/events/{eventID}/join
func (h *Handler) JoinEvent(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Prediction == nil {
		writeError(w, "prediction is required", http.StatusBadRequest)
		return
	}

	res, err := h.svc.JoinEvent(r.Context(), chi.URLParam(r, "eventID"), req.UserID, *req.Prediction, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- Resolution ---

// SetResult handles POST /api/v1/events/{eventID}/result
func (h *Handler) SetResult(w http.ResponseWriter, r *http.Request) {
	var req ResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Result == nil {
		writeError(w, "result is required", http.StatusBadRequest)
		return
	}

	ev, err := h.svc.AdminSetResult(r.Context(), chi.URLParam(r, "eventID"), *req.Result)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// ProcessPayout handles POST /api/v1/events/{eventID}/payout
func (h *Handler) ProcessPayout(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an empty one, chunked or not, pays the declared result.
	var req PayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	eventID := chi.URLParam(r, "eventID")
	var (
		res *model.SettlementResult
		err error
	)
	if req.Outcome != nil {
		res, err = h.svc.SettleEvent(r.Context(), eventID, *req.Outcome)
	} else {
		res, err = h.svc.ProcessPayout(r.Context(), eventID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := PayoutResponse{SettlementResult: res}
	if res.NoWinners {
		resp.Message = settlement.NoWinnersMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelEvent handles POST /api/v1/events/{eventID}/cancel
func (h *Handler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CancelEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Wallets ---

// GetBalance handles GET /api/v1/wallets/{userID}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.svc.GetBalance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// Deposit handles POST /api/v1/wallets/{userID}/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tr, err := h.svc.Deposit(r.Context(), chi.URLParam(r, "userID"), req.Amount, req.Reference)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

// ListTransactions handles GET /api/v1/wallets/{userID}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.svc.ListTransactions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// --- Health ---

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health handles GET /health
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "pool-engine"})
}

// Ready handles GET /ready: 200 while p answers, 503 otherwise.
func Ready(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.Ping(r.Context()); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("readiness check failed")
			writeError(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// --- Helpers ---

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrInvalidStake):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrEventNotFound), errors.Is(err, model.ErrParticipantNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrAlreadySettled),
		errors.Is(err, model.ErrSettlementNotReady),
		errors.Is(err, model.ErrEventClosed),
		errors.Is(err, model.ErrAlreadyJoined),
		errors.Is(err, model.ErrDuplicateReference),
		errors.Is(err, model.ErrOutcomeMismatch):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Internal errors are logged and
// not echoed to the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
