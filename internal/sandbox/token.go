// File: internal/sandbox/token.go
package sandbox

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims binds a token to exactly one sandbox session. The agent
// rejects any request whose token names a different session, so a
// leaked token from one run cannot steer another.
type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenMinter issues short-lived HS256 tokens for the agent control
// channel.
type TokenMinter struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenMinter builds a minter. An empty secret disables auth and is
// only acceptable against a loopback agent.
func NewTokenMinter(secret string, ttl time.Duration) *TokenMinter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenMinter{secret: []byte(secret), ttl: ttl}
}

// Enabled reports whether tokens will actually be minted.
func (m *TokenMinter) Enabled() bool { return len(m.secret) > 0 }

// Mint issues a token for the session, valid for the configured TTL.
func (m *TokenMinter) Mint(sessionID string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "deskpilot",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("cannot sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks a token's signature and expiry and returns the session
// it is bound to. Used by the egress proxy to attribute connections.
func (m *TokenMinter) Verify(tokenString string) (string, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid session token: %w", err)
	}
	return claims.SessionID, nil
}
