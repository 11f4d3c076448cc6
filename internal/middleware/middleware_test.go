package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/entitlement"
	"github.com/fortunecoin/backend/internal/models"
)

type stubValidator map[string]models.Actor

func (s stubValidator) ValidateToken(_ context.Context, token string) (models.Actor, error) {
	a, ok := s[token]
	if !ok {
		return models.Actor{}, errors.New("invalid token")
	}
	return a, nil
}

// injectActor pre-sets the actor in context, simulating Authenticate upstream.
func injectActor(a models.Actor, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), a)))
	})
}

// ok200 proves the middleware let the request through.
var ok200 = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// 1. Authenticate
// ---------------------------------------------------------------------------

func TestAuthenticate(t *testing.T) {
	user := models.UserActor(uuid.New())
	var seen models.Actor
	h := Authenticate(stubValidator{"good": user})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromCtx(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	if rec := serve(h, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != user {
		t.Errorf("actor in context: got %v, want %v", seen, user)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	if rec := serve(h, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	if rec := serve(h, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("malformed header: expected 401, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// 2. RequireAdmin
// ---------------------------------------------------------------------------

func TestRequireAdmin(t *testing.T) {
	req := func() *http.Request { return httptest.NewRequest(http.MethodPost, "/", nil) }

	if rec := serve(injectActor(models.AdminActor(uuid.New()), RequireAdmin(ok200)), req()); rec.Code != http.StatusOK {
		t.Errorf("admin: expected 200, got %d", rec.Code)
	}
	if rec := serve(injectActor(models.UserActor(uuid.New()), RequireAdmin(ok200)), req()); rec.Code != http.StatusForbidden {
		t.Errorf("user: expected 403, got %d", rec.Code)
	}
	if rec := serve(RequireAdmin(ok200), req()); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: expected 401, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// 3. WebhookSecret
// ---------------------------------------------------------------------------

func TestWebhookSecret(t *testing.T) {
	var seen models.Actor
	h := WebhookSecret("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromCtx(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(WebhookSecretHeader, "s3cret")
	if rec := serve(h, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !seen.IsAdmin() || seen.ID != models.PaymentsWebhookActorID {
		t.Errorf("webhook actor: got %v", seen)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(WebhookSecretHeader, "nope")
	if rec := serve(h, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: expected 401, got %d", rec.Code)
	}

	if rec := serve(WebhookSecret("")(ok200), httptest.NewRequest(http.MethodPost, "/", nil)); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled: expected 503, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// 4. ActionCheck
// ---------------------------------------------------------------------------

func TestActionCheck(t *testing.T) {
	catalog := entitlement.DefaultCatalog()
	user := models.UserActor(uuid.New())
	var seen models.ActionType
	var body string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActionFromCtx(r.Context())
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	})
	h := injectActor(user, ActionCheck(catalog)(next))

	in := `{"action":"tarot"}`
	rec := serve(h, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(in)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if seen != models.ActionTarot {
		t.Errorf("parsed action: got %q, want tarot", seen)
	}
	if body != in {
		t.Errorf("handler body: got %q, want %q", body, in)
	}

	cases := map[string]string{
		"unknown action": `{"action":"palm"}`,
		"missing action": `{}`,
		"bad json":       `{`,
	}
	for name, b := range cases {
		rec := serve(h, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(b)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(in))
	req.Header.Set(IdempotencyKeyHeader, strings.Repeat("k", 200))
	if rec := serve(h, req); rec.Code != http.StatusBadRequest {
		t.Errorf("long key: expected 400, got %d", rec.Code)
	}

	if rec := serve(ActionCheck(catalog)(ok200), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(in))); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: expected 401, got %d", rec.Code)
	}
}
