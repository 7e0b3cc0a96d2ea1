// Package auth issues and verifies the bearer tokens guarding the write
// side of the API. Tokens are HS256-signed and carry only a subject and an
// expiry; possession of the signing key is the trust boundary.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the token lifetime when none is configured.
const DefaultTTL = 3600 * time.Second

// ErrInvalidToken covers malformed, mis-signed, and expired tokens. Callers
// map it to Unauthorized without detail.
var ErrInvalidToken = errors.New("invalid token")

// Authenticator signs and verifies bearer tokens with a shared HMAC key.
// With no key configured the gate is open and Enabled reports false.
type Authenticator struct {
	key []byte
	ttl time.Duration
}

// New creates an authenticator. An empty key disables authentication.
func New(key string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	var k []byte
	if key != "" {
		k = []byte(key)
	}
	return &Authenticator{key: k, ttl: ttl}
}

// Enabled reports whether a signing key is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.key) > 0
}

// Issue mints a token for the subject, valid for the configured TTL.
func (a *Authenticator) Issue(subject string) (string, error) {
	if !a.Enabled() {
		return "", errors.New("authentication is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Verify checks the signature and expiry and returns the token's subject.
func (a *Authenticator) Verify(token string) (string, error) {
	if !a.Enabled() {
		return "", errors.New("authentication is not configured")
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) { return a.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
