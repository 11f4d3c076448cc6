package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/entitlement"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/middleware"
	"github.com/fortunecoin/backend/internal/models"
	"github.com/fortunecoin/backend/internal/rights"
	"github.com/fortunecoin/backend/internal/services"
)

// CoinAPI is the subset of services.CoinService the handler calls.
type CoinAPI interface {
	OpenAccount(ctx context.Context, actor models.Actor, accountID uuid.UUID) (*models.Account, error)
	Account(ctx context.Context, actor models.Actor, accountID uuid.UUID) (*models.Account, error)
	History(ctx context.Context, actor models.Actor, accountID uuid.UUID, q ledger.Query) (ledger.Page, error)
	ExtraRights(ctx context.Context, actor models.Actor, accountID uuid.UUID) ([]models.ExtraRight, error)
	CheckAndDebit(ctx context.Context, actor models.Actor, accountID uuid.UUID, action models.ActionType, key string) (entitlement.Decision, error)
	ScheduleExtraRights(ctx context.Context, actor models.Actor, accountID uuid.UUID, action models.ActionType, count int, key string) (rights.Schedule, error)
	GrantAdmin(ctx context.Context, actor models.Actor, accountID uuid.UUID, amount int64, reason, key string) (balance.Outcome, error)
	RecordPurchase(ctx context.Context, actor models.Actor, accountID uuid.UUID, coins int64, paymentID string) (balance.Outcome, error)
	Refund(ctx context.Context, actor models.Actor, entryID, reason string) (balance.Outcome, error)
}

var _ CoinAPI = (*services.CoinService)(nil)

// CoinHandler serves /v1/accounts, /v1/admin and /v1/webhooks endpoints.
type CoinHandler struct {
	Coins  CoinAPI
	Logger *slog.Logger
}

// --- POST /v1/accounts/{id} ---

func (h *CoinHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	acct, err := h.Coins.OpenAccount(r.Context(), middleware.ActorFromCtx(r.Context()), id)
	if err != nil {
		h.writeError(w, "open account", err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// --- GET /v1/accounts/{id} ---

func (h *CoinHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	acct, err := h.Coins.Account(r.Context(), middleware.ActorFromCtx(r.Context()), id)
	if err != nil {
		h.writeError(w, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// --- GET /v1/accounts/{id}/ledger?since=&cursor=&limit= ---

func (h *CoinHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	page, err := h.Coins.History(r.Context(), middleware.ActorFromCtx(r.Context()), id, q)
	if err != nil {
		h.writeError(w, "get ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseQuery(r *http.Request) (ledger.Query, error) {
	var q ledger.Query
	v := r.URL.Query()
	if s := v.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, errors.New("since must be RFC 3339")
		}
		q.Since = t
	}
	if s := v.Get("cursor"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return q, errors.New("invalid cursor")
		}
		q.AfterSeq = n
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, errors.New("invalid limit")
		}
		q.Limit = n
	}
	return q.Normalize(), nil
}

// --- GET /v1/accounts/{id}/extra-rights ---

func (h *CoinHandler) ListExtraRights(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	rs, err := h.Coins.ExtraRights(r.Context(), middleware.ActorFromCtx(r.Context()), id)
	if err != nil {
		h.writeError(w, "list extra rights", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"extra_rights": rs})
}

// --- POST /v1/accounts/{id}/debit ---

// Debit runs the entitlement decision for the action parsed by
// middleware.ActionCheck. A denial answers 402 with the decision body.
func (h *CoinHandler) Debit(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	action := middleware.ActionFromCtx(r.Context())
	key := r.Header.Get(middleware.IdempotencyKeyHeader)

	d, err := h.Coins.CheckAndDebit(r.Context(), middleware.ActorFromCtx(r.Context()), id, action, key)
	if err != nil {
		h.writeError(w, "debit", err)
		return
	}
	if !d.Granted {
		writeJSON(w, http.StatusPaymentRequired, d)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// --- POST /v1/accounts/{id}/extra-rights ---

type scheduleRequest struct {
	Action models.ActionType `json:"action"`
	Count  int               `json:"count"`
}

func (h *CoinHandler) ScheduleExtraRights(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	sched, err := h.Coins.ScheduleExtraRights(r.Context(), middleware.ActorFromCtx(r.Context()), id,
		req.Action, req.Count, r.Header.Get(middleware.IdempotencyKeyHeader))
	if err != nil {
		h.writeError(w, "schedule extra rights", err)
		return
	}
	status := http.StatusCreated
	if sched.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, sched)
}

// --- POST /v1/admin/accounts/{id}/grants ---

type grantRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (h *CoinHandler) AdminGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	out, err := h.Coins.GrantAdmin(r.Context(), middleware.ActorFromCtx(r.Context()), id,
		req.Amount, req.Reason, r.Header.Get(middleware.IdempotencyKeyHeader))
	if err != nil {
		h.writeError(w, "admin grant", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- POST /v1/admin/entries/{entryID}/refund ---

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *CoinHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
	}
	out, err := h.Coins.Refund(r.Context(), middleware.ActorFromCtx(r.Context()), r.PathValue("entryID"), req.Reason)
	if err != nil {
		h.writeError(w, "refund", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- POST /v1/webhooks/payments ---

type paymentEvent struct {
	PaymentID string `json:"payment_id"`
	AccountID string `json:"account_id"`
	Coins     int64  `json:"coins"`
}

// PaymentWebhook records a completed coin purchase. Redelivery of the same
// payment_id is answered 200 with the original entry.
func (h *CoinHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var ev paymentEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(ev.AccountID)
	if err != nil {
		http.Error(w, `{"error":"invalid account_id"}`, http.StatusBadRequest)
		return
	}
	out, err := h.Coins.RecordPurchase(r.Context(), middleware.ActorFromCtx(r.Context()), id, ev.Coins, ev.PaymentID)
	if err != nil {
		h.writeError(w, "payment webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid account id"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps the ledger error taxonomy onto HTTP status codes.
// Invariant and unknown errors are logged and answered generically.
func (h *CoinHandler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, services.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrEntryNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientCoins), errors.Is(err, ledger.ErrInsufficientEntitlement):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrNotRefundable), errors.Is(err, ledger.ErrDuplicateRequest):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ledger.ErrStoreUnavailable):
		h.Logger.Warn(op, "error", err)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable, retry"})
	default:
		h.Logger.Error(op, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
