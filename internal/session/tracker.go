package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentra.org/internal/audit"
	"sentra.org/internal/ids"
)

// DefaultMaxFailedAttempts is the block threshold used when none is
// configured.
const DefaultMaxFailedAttempts = 5

// Tracker provides session lifecycle operations over a Store.
type Tracker struct {
	store       Store
	sink        audit.Sink
	now         func() time.Time
	ttl         time.Duration
	maxAttempts int
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if fn != nil {
			t.now = fn
		}
	}
}

// WithAudit sets the sink receiving session lifecycle events.
func WithAudit(sink audit.Sink) TrackerOption {
	return func(t *Tracker) {
		if sink != nil {
			t.sink = sink
		}
	}
}

// WithTTL sets the default session lifetime applied at Start.
func WithTTL(ttl time.Duration) TrackerOption {
	return func(t *Tracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithMaxFailedAttempts sets the failed-attempt block threshold.
func WithMaxFailedAttempts(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

// NewTracker constructs a Tracker over the given store.
func NewTracker(store Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:       store,
		sink:        audit.Nop(),
		now:         time.Now,
		ttl:         7 * 24 * time.Hour,
		maxAttempts: DefaultMaxFailedAttempts,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartParams carries the request context of a new session.
type StartParams struct {
	SubjectID    string
	SessionToken string
	IPAddress    string
	UserAgent    string
	DeviceID     string
	Location     Location
}

// Start opens a new active session. Location coordinates out of range are
// rejected.
func (t *Tracker) Start(ctx context.Context, p StartParams) (*UserSession, error) {
	if strings.TrimSpace(p.SubjectID) == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.SessionToken) == "" {
		return nil, fmt.Errorf("%w: session token is required", ErrInvalidInput)
	}
	if !p.Location.valid() {
		return nil, fmt.Errorf("%w: location coordinates out of range", ErrInvalidInput)
	}
	now := t.now().UTC()
	sess := &UserSession{
		ID:             ids.New(),
		SubjectID:      p.SubjectID,
		SessionToken:   p.SessionToken,
		IPAddress:      p.IPAddress,
		UserAgent:      p.UserAgent,
		DeviceID:       p.DeviceID,
		Location:       p.Location,
		StartedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(t.ttl),
		Active:         true,
	}
	if err := t.store.Insert(ctx, sess); err != nil {
		return nil, err
	}
	t.sink.Record(ctx, "session.started", map[string]any{
		"session_id": sess.ID,
		"subject_id": sess.SubjectID,
		"ip":         sess.IPAddress,
	})
	return sess, nil
}

// Find loads a session by ID.
func (t *Tracker) Find(ctx context.Context, id string) (*UserSession, error) {
	return t.store.Find(ctx, id)
}

// FindByToken loads a session by its opaque token.
func (t *Tracker) FindByToken(ctx context.Context, token string) (*UserSession, error) {
	return t.store.FindByToken(ctx, token)
}

// UpdateActivity bumps LastActivityAt on a live session.
func (t *Tracker) UpdateActivity(ctx context.Context, id string) error {
	sess, err := t.store.Find(ctx, id)
	if err != nil {
		return err
	}
	now := t.now().UTC()
	if !sess.IsValid(now) {
		return fmt.Errorf("%w: session is not valid", ErrInvalidState)
	}
	sess.LastActivityAt = now
	return t.store.Update(ctx, sess)
}

// ExtendExpiration pushes the expiry later. The new expiry must be after both
// the current instant and the current expiry.
func (t *Tracker) ExtendExpiration(ctx context.Context, id string, until time.Time) error {
	sess, err := t.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if sess.Ended() {
		return fmt.Errorf("%w: session has ended", ErrInvalidState)
	}
	now := t.now().UTC()
	if !until.After(now) || !until.After(sess.ExpiresAt) {
		return fmt.Errorf("%w: expiry must move forward", ErrInvalidInput)
	}
	sess.ExpiresAt = until.UTC()
	return t.store.Update(ctx, sess)
}

// SetExpiration replaces the expiry outright; it may shorten the session but
// never moves before StartedAt.
func (t *Tracker) SetExpiration(ctx context.Context, id string, until time.Time) error {
	sess, err := t.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if sess.Ended() {
		return fmt.Errorf("%w: session has ended", ErrInvalidState)
	}
	if until.Before(sess.StartedAt) {
		return fmt.Errorf("%w: expiry precedes session start", ErrInvalidInput)
	}
	sess.ExpiresAt = until.UTC()
	return t.store.Update(ctx, sess)
}

// End terminates the session. Ending twice is rejected.
func (t *Tracker) End(ctx context.Context, id string) error {
	sess, err := t.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if sess.Ended() {
		return fmt.Errorf("%w: session already ended", ErrInvalidState)
	}
	now := t.now().UTC()
	sess.EndedAt = &now
	sess.Active = false
	if err := t.store.Update(ctx, sess); err != nil {
		return err
	}
	t.sink.Record(ctx, "session.ended", map[string]any{
		"session_id": sess.ID,
		"subject_id": sess.SubjectID,
	})
	return nil
}

// Deactivate suspends the session without ending it.
func (t *Tracker) Deactivate(ctx context.Context, id string) error {
	sess, err := t.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if sess.Ended() {
		return fmt.Errorf("%w: session has ended", ErrInvalidState)
	}
	if !sess.Active {
		return fmt.Errorf("%w: session is not active", ErrInvalidState)
	}
	sess.Active = false
	return t.store.Update(ctx, sess)
}

// Activate restores a suspended session. Ended or blocked sessions refuse.
func (t *Tracker) Activate(ctx context.Context, id string) error {
	sess, err := t.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if sess.Ended() {
		return fmt.Errorf("%w: session has ended", ErrInvalidState)
	}
	if sess.Blocked {
		return fmt.Errorf("%w: session is blocked", ErrInvalidState)
	}
	if sess.Active {
		return fmt.Errorf("%w: session already active", ErrInvalidState)
	}
	sess.Active = true
	return t.store.Update(ctx, sess)
}

// MarkAsTrusted flags the session's device as known, recording who trusted
// it and when.
func (t *Tracker) MarkAsTrusted(ctx context.Context, id, trustedBy string) error {
	sess, err := t.store.Find(ctx, id)
	if err != nil {
		return err
	}
	now := t.now().UTC()
	sess.Trusted = true
	sess.TrustedBy = trustedBy
	sess.TrustedAt = &now
	return t.store.Update(ctx, sess)
}

// RemoveTrust clears the trusted flag and its provenance.
func (t *Tracker) RemoveTrust(ctx context.Context, id string) error {
	sess, err := t.store.Find(ctx, id)
	if err != nil {
		return err
	}
	sess.Trusted = false
	sess.TrustedBy = ""
	sess.TrustedAt = nil
	return t.store.Update(ctx, sess)
}

// SetRemembered toggles the remembered-device flag.
func (t *Tracker) SetRemembered(ctx context.Context, id string, remembered bool) error {
	sess, err := t.store.Find(ctx, id)
	if err != nil {
		return err
	}
	sess.Remembered = remembered
	return t.store.Update(ctx, sess)
}

// IncrementLoginAttempts records a failed login against the session and
// blocks it once the threshold is reached. It returns the updated session so
// callers can inspect the blocked flag. A blocked session fails fast; the
// counter never moves past the threshold.
func (t *Tracker) IncrementLoginAttempts(ctx context.Context, id string) (*UserSession, error) {
	sess, err := t.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Ended() {
		return nil, fmt.Errorf("%w: session has ended", ErrInvalidState)
	}
	if sess.Blocked {
		return nil, fmt.Errorf("%w: session is blocked", ErrInvalidState)
	}
	sess.LoginAttempts++
	if sess.LoginAttempts >= t.maxAttempts && !sess.Blocked {
		sess.Blocked = true
		sess.BlockReason = BlockReasonFailedAttempts
		sess.Active = false
		t.sink.Record(ctx, "session.blocked", map[string]any{
			"session_id": sess.ID,
			"subject_id": sess.SubjectID,
			"attempts":   sess.LoginAttempts,
		})
	}
	if err := t.store.Update(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ResetLoginAttempts clears the failed-attempt counter after a successful
// authentication.
func (t *Tracker) ResetLoginAttempts(ctx context.Context, id string) error {
	sess, err := t.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if sess.LoginAttempts == 0 {
		return nil
	}
	sess.LoginAttempts = 0
	return t.store.Update(ctx, sess)
}

// BlockDueToFailedAttempts blocks the session immediately with the fixed
// reason, regardless of the counter.
func (t *Tracker) BlockDueToFailedAttempts(ctx context.Context, id string) error {
	sess, err := t.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if sess.Blocked {
		return fmt.Errorf("%w: session already blocked", ErrInvalidState)
	}
	sess.Blocked = true
	sess.BlockReason = BlockReasonFailedAttempts
	sess.Active = false
	if err := t.store.Update(ctx, sess); err != nil {
		return err
	}
	t.sink.Record(ctx, "session.blocked", map[string]any{
		"session_id": sess.ID,
		"subject_id": sess.SubjectID,
	})
	return nil
}

// EndAllForSubject terminates every live session of the subject. Already
// ended sessions are skipped.
func (t *Tracker) EndAllForSubject(ctx context.Context, subjectID string) error {
	list, err := t.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return err
	}
	for _, sess := range list {
		if sess.Ended() {
			continue
		}
		if err := t.End(ctx, sess.ID); err != nil {
			return err
		}
	}
	return nil
}
