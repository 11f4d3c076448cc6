package router

import (
	"context"
	"net/http"

	"github.com/fortunecoin/backend/internal/auth"
	"github.com/fortunecoin/backend/internal/entitlement"
	"github.com/fortunecoin/backend/internal/handlers"
	"github.com/fortunecoin/backend/internal/middleware"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Coins         *handlers.CoinHandler
	Auth          *auth.Handler
	Tokens        middleware.TokenValidator
	Catalog       *entitlement.Catalog
	Store         Pinger
	WebhookSecret string
}

// New returns the API mux.
// Chains: Authenticate -> (ActionCheck on debit | RequireAdmin on /v1/admin) -> handler;
// WebhookSecret -> handler on /v1/webhooks.
func New(d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	authn := middleware.Authenticate(d.Tokens)
	admin := func(h http.HandlerFunc) http.Handler { return authn(middleware.RequireAdmin(h)) }
	user := func(h http.HandlerFunc) http.Handler { return authn(h) }

	mux.HandleFunc("POST /v1/auth/login", d.Auth.Login)

	mux.Handle("POST /v1/accounts/{id}", user(d.Coins.OpenAccount))
	mux.Handle("GET /v1/accounts/{id}", user(d.Coins.GetAccount))
	mux.Handle("GET /v1/accounts/{id}/ledger", user(d.Coins.GetLedger))
	mux.Handle("GET /v1/accounts/{id}/extra-rights", user(d.Coins.ListExtraRights))
	mux.Handle("POST /v1/accounts/{id}/extra-rights", user(d.Coins.ScheduleExtraRights))
	mux.Handle("POST /v1/accounts/{id}/debit", authn(middleware.ActionCheck(d.Catalog)(http.HandlerFunc(d.Coins.Debit))))

	mux.Handle("POST /v1/admin/accounts/{id}/grants", admin(d.Coins.AdminGrant))
	mux.Handle("POST /v1/admin/entries/{entryID}/refund", admin(d.Coins.Refund))

	mux.Handle("POST /v1/webhooks/payments", middleware.WebhookSecret(d.WebhookSecret)(http.HandlerFunc(d.Coins.PaymentWebhook)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Store.Ping(r.Context()); err != nil {
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}
