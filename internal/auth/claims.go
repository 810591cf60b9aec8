package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Authorization decisions are made server-side from Role; tokens never carry capabilities.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}

// Actor is the identity every listing mutation and audit record is attributed to.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

func (c Claims) Actor() Actor {
	return Actor{ID: c.UserID, Role: c.Role}
}
