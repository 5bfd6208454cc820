// Package token implements the refresh-token ledger: issuance, rotation
// chains, revocation, and usage tracking. Tokens are never deleted; they reach
// a terminal status (rotated or revoked) and stay queryable for audit.
package token

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("token: invalid input")
	ErrInvalidState = errors.New("token: invalid state")
	ErrNotFound     = errors.New("token: not found")
)

// Status is the stored lifecycle state of a refresh token. Expiry is derived
// from ExpiresAt and deliberately not a Status value.
type Status string

const (
	StatusActive  Status = "active"
	StatusRotated Status = "rotated"
	StatusRevoked Status = "revoked"
)

// DeviceInfo describes the client a token was issued to. Every field is
// optional.
type DeviceInfo struct {
	DeviceID   string
	DeviceName string
	IPAddress  string
	UserAgent  string
}

// RefreshToken is the ledger aggregate. Only the SHA-256 hash of the token
// secret is stored; the raw secret never reaches the ledger.
type RefreshToken struct {
	ID        string
	SubjectID string
	SessionID string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time

	Status Status

	RevokedAt    *time.Time
	RevokedBy    string
	RevokeReason string

	RotatedAt *time.Time
	RotatedBy string
	// Rotation links hold IDs, not references: the chain lives in the store
	// arena, so two tokens never own each other.
	ReplacesID   string
	ReplacedByID string
	// RotationCount is this token's own counter. Chain-wide totals are derived
	// by walking the chain, never stored.
	RotationCount int

	UseCount   int
	LastUsedAt *time.Time

	Device DeviceInfo

	// Version is the optimistic concurrency token checked by stores on update.
	Version int64
}

// IsExpired reports whether the token is past its expiry at the given instant.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsTerminal reports whether the token has left the active state.
func (t *RefreshToken) IsTerminal() bool {
	return t.Status != StatusActive
}

// Usable reports whether the token may still be presented: active, not expired.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.Status == StatusActive && !t.IsExpired(now)
}

// MatchesDevice reports whether the request descriptors match the descriptors
// captured at issuance. The match is permissive: a field absent on either side
// counts as matching. Callers use this as an anomaly signal only, never as a
// hard gate.
func (t *RefreshToken) MatchesDevice(d DeviceInfo) bool {
	return looseEqual(t.Device.DeviceID, d.DeviceID) &&
		looseEqual(t.Device.DeviceName, d.DeviceName) &&
		looseEqual(t.Device.IPAddress, d.IPAddress) &&
		looseEqual(t.Device.UserAgent, d.UserAgent)
}

func looseEqual(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return a == b
}
