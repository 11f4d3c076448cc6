package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fortunecoin/backend/internal/entitlement"
	"github.com/fortunecoin/backend/internal/models"
)

const (
	ctxActionKey contextKey = "parsed_action"

	// IdempotencyKeyHeader carries the caller's retry token.
	IdempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 128
	maxBodyBytes         = 1 << 16
)

type parsedAction struct {
	Action models.ActionType `json:"action"`
}

// ActionFromCtx returns the action parsed by ActionCheck, or "" if not set.
func ActionFromCtx(ctx context.Context) models.ActionType {
	if a, ok := ctx.Value(ctxActionKey).(*parsedAction); ok {
		return a.Action
	}
	return ""
}

// ActionCheck rejects debit requests for actions the catalog does not
// price, and malformed idempotency keys, before they reach the ledger.
// Reads the body to extract "action", then replaces r.Body so downstream
// handlers can re-read it.
func ActionCheck(catalog *entitlement.Catalog) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ActorFromCtx(r.Context()).IsZero() {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if key := r.Header.Get(IdempotencyKeyHeader); len(key) > maxIdempotencyKeyLen {
				http.Error(w, fmt.Sprintf(`{"error":"%s longer than %d bytes"}`, IdempotencyKeyHeader, maxIdempotencyKeyLen), http.StatusBadRequest)
				return
			}

			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek parsedAction
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			if peek.Action == "" {
				http.Error(w, `{"error":"action is required"}`, http.StatusBadRequest)
				return
			}
			if _, ok := catalog.Policy(peek.Action); !ok {
				http.Error(w, fmt.Sprintf(`{"error":"action %q is not supported"}`, peek.Action), http.StatusBadRequest)
				return
			}

			ctx := context.WithValue(r.Context(), ctxActionKey, &peek)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
