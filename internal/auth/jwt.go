// Package auth provides the OAuth provider wrappers, JWT session tokens,
// and the HTTP middleware that turns a session cookie back into a user id.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionDuration is how long an issued session token stays valid.
// Matches the 30-day session cookie the game client expects.
const SessionDuration = 30 * 24 * time.Hour

const issuer = "stack-server"

// TokenService handles JWT creation and validation. It holds the HMAC
// secret used to sign and verify tokens; the same secret must be used
// for both.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims is the JWT payload. The "sub" (Subject) registered claim holds
// the internal user id.
type claims struct {
	jwt.RegisteredClaims
}

// Generate creates and signs a session token for the given userID,
// valid for SessionDuration.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.GenerateWithDuration(userID, SessionDuration)
}

// GenerateWithDuration creates a token with a custom expiry. Used by
// Generate and by tests that need an already-expired token.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string and returns the userID from
// the "sub" claim. Rejects expired tokens, wrong issuers, and any
// signing method other than HS256.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}

	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}

	return c.Subject, nil
}
