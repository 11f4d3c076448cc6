package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/fortunecoin/backend/internal/models"
)

func newTestService(t *testing.T) (*service, uuid.UUID) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	adminID := uuid.New()
	return NewService("test-secret", time.Hour, []Admin{{ID: adminID, Username: "ops", PasswordHash: string(hash)}}), adminID
}

func TestTokenRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	user := models.UserActor(uuid.New())

	tok, err := svc.IssueToken(user)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	got, err := svc.ValidateToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if got != user {
		t.Errorf("actor: got %v, want %v", got, user)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	svc, _ := newTestService(t)
	other := NewService("other-secret", time.Hour, nil)
	foreign, _ := other.IssueToken(models.UserActor(uuid.New()))

	if _, err := svc.ValidateToken(context.Background(), foreign); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: expected ErrInvalidToken, got %v", err)
	}
	if _, err := svc.ValidateToken(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage: expected ErrInvalidToken, got %v", err)
	}

	tok, _ := svc.IssueToken(models.UserActor(uuid.New()))
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.ValidateToken(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired: expected ErrInvalidToken, got %v", err)
	}

	if _, err := svc.IssueToken(models.Actor{}); err == nil {
		t.Error("IssueToken accepted an anonymous actor")
	}
}

func TestLogin(t *testing.T) {
	svc, adminID := newTestService(t)

	tok, err := svc.Login(context.Background(), "ops", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	actor, err := svc.ValidateToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if !actor.IsAdmin() || actor.ID != adminID {
		t.Errorf("actor: got %v, want admin %s", actor, adminID)
	}

	if _, err := svc.Login(context.Background(), "ops", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: got %v", err)
	}
}

func TestLoginHandler(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"username":"ops","password":"hunter2"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"token"`) {
		t.Errorf("body missing token: %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"username":"ops","password":"nope"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad password status: got %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status: got %d, want 405", rr.Code)
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")) != nil {
		t.Error("hash does not verify")
	}
	if _, err := HashPassword(""); err == nil {
		t.Error("empty password accepted")
	}
}
