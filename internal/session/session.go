// Package session tracks authenticated user sessions: lifecycle, activity,
// trust, geolocation and failed-attempt blocking.
package session

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("session: invalid input")
	ErrInvalidState = errors.New("session: invalid state")
	ErrNotFound     = errors.New("session: not found")
)

// BlockReasonFailedAttempts is the fixed reason recorded when a session is
// blocked by the failed-attempt threshold.
const BlockReasonFailedAttempts = "too many failed login attempts"

// Location is an optional geolocation attached to a session. Latitude and
// longitude are validated on Start.
type Location struct {
	Country   string
	City      string
	Latitude  float64
	Longitude float64
}

func (l Location) valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// UserSession is one authenticated presence of a subject. All timestamps are
// UTC and never precede StartedAt; LoginAttempts never goes negative.
type UserSession struct {
	ID             string
	SubjectID      string
	SessionToken   string
	IPAddress      string
	UserAgent      string
	DeviceID       string
	Location       Location
	StartedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	EndedAt        *time.Time
	Active         bool
	Trusted        bool
	TrustedBy      string
	TrustedAt      *time.Time
	Remembered     bool
	Blocked        bool
	BlockReason    string
	LoginAttempts  int
	Version        int64
}

// IsExpired reports whether the session's expiry has passed.
func (s *UserSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsIdle reports whether no activity has been seen for at least threshold.
func (s *UserSession) IsIdle(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.LastActivityAt) >= threshold
}

// IsValid reports whether the session can authenticate requests right now:
// active, not ended, not blocked, not expired.
func (s *UserSession) IsValid(now time.Time) bool {
	return s.Active && s.EndedAt == nil && !s.Blocked && !s.IsExpired(now)
}

// Ended reports whether the session was terminated.
func (s *UserSession) Ended() bool {
	return s.EndedAt != nil
}
