package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/fortunecoin/backend/internal/models"
)

// DevSecret signs tokens when no secret is configured. Never use it in production.
const DevSecret = "supersecretmvp"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Admin is an operator who may log in with a password.
type Admin struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
}

type Service interface {
	Login(ctx context.Context, username, password string) (string, error)
	IssueToken(actor models.Actor) (string, error)
	ValidateToken(ctx context.Context, token string) (models.Actor, error)
}

type service struct {
	secret []byte
	ttl    time.Duration
	admins map[string]Admin
	now    func() time.Time
}

// NewService signs HS256 tokens with secret. Users get their tokens from
// the identity provider sharing the secret; admins log in here.
func NewService(secret string, ttl time.Duration, admins []Admin) *service {
	if secret == "" {
		secret = DevSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	byName := make(map[string]Admin, len(admins))
	for _, a := range admins {
		byName[a.Username] = a
	}
	return &service{secret: []byte(secret), ttl: ttl, admins: byName, now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func (s *service) Login(ctx context.Context, username, password string) (string, error) {
	a, ok := s.admins[username]
	if !ok {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.IssueToken(models.AdminActor(a.ID))
}

func (s *service) IssueToken(actor models.Actor) (string, error) {
	if actor.IsZero() || actor.ID == uuid.Nil {
		return "", fmt.Errorf("issue token: %w", ErrInvalidToken)
	}
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: string(actor.Kind),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (models.Actor, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return models.Actor{}, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	switch models.ActorKind(c.Role) {
	case models.ActorAdmin:
		return models.AdminActor(id), nil
	case models.ActorUser:
		return models.UserActor(id), nil
	}
	return models.Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
}

// HashPassword returns the bcrypt hash stored in the admin configuration.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
