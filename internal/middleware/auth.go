package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/fortunecoin/backend/internal/models"
)

type contextKey string

const ctxActorKey contextKey = "actor"

// TokenValidator resolves a bearer token to the actor it was issued for.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (models.Actor, error)
}

// Authenticate validates the Bearer token and sets the actor into request
// context. Requests without a valid token are rejected with 401.
func Authenticate(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			actor, err := v.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// RequireAdmin lets only admin actors through. It must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := ActorFromCtx(r.Context())
		if actor.IsZero() {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if !actor.IsAdmin() {
			http.Error(w, `{"error":"admin only"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WebhookSecretHeader carries the shared secret on payment webhooks.
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookSecret authenticates the payment provider by a shared secret and
// acts as the payments webhook admin. An empty secret disables the route.
func WebhookSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, `{"error":"webhook disabled"}`, http.StatusServiceUnavailable)
				return
			}
			got := r.Header.Get(WebhookSecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				http.Error(w, `{"error":"invalid webhook secret"}`, http.StatusUnauthorized)
				return
			}
			ctx := WithActor(r.Context(), models.AdminActor(models.PaymentsWebhookActorID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromCtx returns the authenticated actor, or the zero actor.
func ActorFromCtx(ctx context.Context) models.Actor {
	a, _ := ctx.Value(ctxActorKey).(models.Actor)
	return a
}

// WithActor returns a context carrying the given actor.
func WithActor(ctx context.Context, a models.Actor) context.Context {
	return context.WithValue(ctx, ctxActorKey, a)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
