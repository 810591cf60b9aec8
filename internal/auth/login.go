package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserNotFound       = errors.New("auth: user not found")
)

type User struct {
	ID           string
	Email        string
	DisplayName  string
	Role         string
	PasswordHash string
}

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (User, error)
}

// Authenticator checks credentials and issues token pairs.
type Authenticator struct {
	users  UserStore
	tokens *Manager
	clock  func() time.Time
}

func NewAuthenticator(users UserStore, tokens *Manager) *Authenticator {
	return &Authenticator{users: users, tokens: tokens, clock: time.Now}
}

// Login returns ErrInvalidCredentials for both unknown emails and wrong passwords.
func (a *Authenticator) Login(ctx context.Context, email, password string) (Actor, TokenPair, error) {
	u, err := a.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Actor{}, TokenPair{}, ErrInvalidCredentials
		}
		return Actor{}, TokenPair{}, fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Actor{ID: u.ID, Role: u.Role}, TokenPair{}, ErrInvalidCredentials
	}

	actor := Actor{ID: u.ID, Role: u.Role}
	pair, err := a.tokens.IssuePair(a.clock(), actor)
	if err != nil {
		return Actor{}, TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}
	return actor, pair, nil
}

func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MemoryUserStore is an in-memory UserStore for tests and local runs.
type MemoryUserStore struct {
	mu    sync.RWMutex
	byKey map[string]User
}

func NewMemoryUserStore(users ...User) *MemoryUserStore {
	s := &MemoryUserStore{byKey: make(map[string]User, len(users))}
	for _, u := range users {
		s.Put(u)
	}
	return s
}

func (s *MemoryUserStore) Put(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = normalizeEmail(u.Email)
	s.byKey[u.Email] = u
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byKey[normalizeEmail(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}
