// Package opsauth issues and validates the HS256 bearer tokens protecting the
// operations API. End-user authentication lives in the upstream platform;
// this guards only the debug/ops surface of this process.
package opsauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 12 * time.Hour
	tokenIssuer     = "relay-ops"
	tokenAudience   = "relay-ops-api"
)

var (
	// ErrMissingSigningSecret indicates the guard was built without a secret.
	ErrMissingSigningSecret = errors.New("opsauth: signing secret required")
	// ErrMissingSubject indicates a token without an operator subject.
	ErrMissingSubject = errors.New("opsauth: subject required")
)

// GuardConfig configures the ops token guard.
type GuardConfig struct {
	SigningSecret []byte
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// Guard issues and validates operator tokens.
type Guard struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewGuard constructs a Guard.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Guard{secret: cfg.SigningSecret, ttl: ttl, clock: clock}, nil
}

// IssueToken produces a signed operator token and its expiry in seconds.
func (g *Guard) IssueToken(subject string) (string, int64, error) {
	if subject == "" {
		return "", 0, ErrMissingSubject
	}
	now := g.clock().UTC()
	expiresAt := now.Add(g.ttl)

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    tokenIssuer,
		Audience:  []string{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken checks an operator token and returns its subject.
func (g *Guard) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return g.secret, nil
		},
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(g.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}
