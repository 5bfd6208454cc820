package signer

import (
	"errors"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, "sentra", time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty secret: got %v", err)
	}
	if _, err := New(testSecret, "sentra", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero ttl: got %v", err)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, err := New(testSecret, "sentra", 15*time.Minute, WithClock(func() time.Time { return at }))
	if err != nil {
		t.Fatal(err)
	}

	raw, err := s.Sign("u1", "sess-1", []string{"articles:edit", "articles:publish"})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := s.Verify(raw)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "u1" || claims.SessionID != "sess-1" {
		t.Fatalf("claims %+v", claims)
	}
	if len(claims.Permissions) != 2 || claims.Permissions[0] != "articles:edit" {
		t.Fatalf("permissions %v", claims.Permissions)
	}
	if claims.ID == "" {
		t.Fatal("missing jti")
	}

	if _, err := s.Sign("", "", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty subject: got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, err := New(testSecret, "sentra", time.Minute, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := s.Sign("u1", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	late, _ := New(testSecret, "sentra", time.Minute, WithClock(func() time.Time { return now.Add(2 * time.Minute) }))
	if _, err := late.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: got %v", err)
	}
}

func TestVerifyRejectsTampered(t *testing.T) {
	s, err := New(testSecret, "sentra", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := s.Sign("u1", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	other, _ := New([]byte("another-secret-another-secret-xx"), "sentra", time.Minute)
	if _, err := other.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong key: got %v", err)
	}

	wrongIssuer, _ := New(testSecret, "someone-else", time.Minute)
	if _, err := wrongIssuer.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer: got %v", err)
	}

	if _, err := s.Verify(raw + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token: got %v", err)
	}
}
