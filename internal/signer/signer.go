// Package signer issues and verifies the short-lived access tokens handed
// out after authentication.
package signer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("signer: invalid input")
	ErrInvalidToken = errors.New("signer: invalid token")
)

// Claims carried by an access token. Permissions holds the subject's
// effective resource:action keys at issue time.
type Claims struct {
	Permissions []string `json:"perms,omitempty"`
	SessionID   string   `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues HS256 access tokens.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New constructs a Signer. The secret must be non-empty.
func New(secret []byte, issuer string, ttl time.Duration, opts ...Option) (*Signer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: signing secret is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	s := &Signer{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign issues an access token for the subject carrying the given effective
// permissions and session.
func (s *Signer) Sign(subjectID, sessionID string, permissions []string) (string, error) {
	if subjectID == "" {
		return "", fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	claims := Claims{
		Permissions: permissions,
		SessionID:   sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signer: signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an access token, returning its claims.
func (s *Signer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
