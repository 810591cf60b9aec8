package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"rental-platform/internal/config"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := NewMemoryUserStore(User{ID: "u-1", Email: "Host@Example.com", Role: "host", PasswordHash: hash})
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	return NewAuthenticator(users, m)
}

func TestLogin_Succeeds(t *testing.T) {
	a := newTestAuthenticator(t)
	actor, pair, err := a.Login(context.Background(), " host@example.com ", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if actor.ID != "u-1" || actor.Role != "host" {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if pair.AccessToken == "" {
		t.Fatalf("expected access token")
	}
}

func TestLogin_WrongPasswordKeepsActorForAudit(t *testing.T) {
	a := newTestAuthenticator(t)
	actor, _, err := a.Login(context.Background(), "host@example.com", "nope")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if actor.ID != "u-1" {
		t.Fatalf("expected actor id on failed login, got %+v", actor)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	a := newTestAuthenticator(t)
	actor, _, err := a.Login(context.Background(), "ghost@example.com", "x")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if actor.ID != "" {
		t.Fatalf("expected empty actor, got %+v", actor)
	}
}
