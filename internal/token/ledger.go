package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentra.org/internal/audit"
	"sentra.org/internal/ids"
)

// Ledger provides the refresh-token operations. It is stateless over the
// Store; a single instance is safe for concurrent use.
type Ledger struct {
	store Store
	sink  audit.Sink
	now   func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithAudit sets the sink receiving token lifecycle events.
func WithAudit(sink audit.Sink) LedgerOption {
	return func(l *Ledger) {
		if sink != nil {
			l.sink = sink
		}
	}
}

// NewLedger constructs a Ledger over the given store.
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store: store,
		sink:  audit.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Issue creates an active token for the subject. The ttl must resolve to a
// future expiry.
func (l *Ledger) Issue(ctx context.Context, subjectID, sessionID, tokenHash string, ttl time.Duration, device DeviceInfo) (*RefreshToken, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(tokenHash) == "" {
		return nil, fmt.Errorf("%w: token hash is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}

	now := l.now().UTC()
	tok := &RefreshToken{
		ID:        ids.New(),
		SubjectID: subjectID,
		SessionID: sessionID,
		TokenHash: tokenHash,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Status:    StatusActive,
		Device:    device,
	}
	if err := l.store.Insert(ctx, tok); err != nil {
		return nil, err
	}
	l.sink.Record(ctx, "token.issued", map[string]any{
		"token_id":   tok.ID,
		"subject_id": tok.SubjectID,
		"expires_at": tok.ExpiresAt,
	})
	return tok, nil
}

// Rotate supersedes the token identified by oldID with a freshly minted one
// carrying newTokenHash. The predecessor becomes terminal (rotated) and the
// bidirectional chain links are set. A token that is already rotated or
// revoked cannot be rotated again; under a concurrent race exactly one caller
// wins and the loser receives ErrInvalidState.
func (l *Ledger) Rotate(ctx context.Context, oldID, newTokenHash, rotatedBy string, ttl time.Duration, device DeviceInfo) (*RefreshToken, error) {
	if strings.TrimSpace(newTokenHash) == "" {
		return nil, fmt.Errorf("%w: token hash is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}
	old, err := l.store.Find(ctx, oldID)
	if err != nil {
		return nil, err
	}
	switch old.Status {
	case StatusRotated:
		return nil, fmt.Errorf("%w: token already rotated", ErrInvalidState)
	case StatusRevoked:
		return nil, fmt.Errorf("%w: token is revoked", ErrInvalidState)
	}

	now := l.now().UTC()
	succ := &RefreshToken{
		ID:         ids.New(),
		SubjectID:  old.SubjectID,
		SessionID:  old.SessionID,
		TokenHash:  newTokenHash,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
		Status:     StatusActive,
		ReplacesID: old.ID,
		Device:     device,
	}

	old.Status = StatusRotated
	old.RotatedAt = &now
	old.RotatedBy = rotatedBy
	old.ReplacedByID = succ.ID
	old.RotationCount++
	// Update first: the conditional write decides the winner of a concurrent
	// rotation before the successor exists.
	if err := l.store.Update(ctx, old); err != nil {
		return nil, err
	}
	if err := l.store.Insert(ctx, succ); err != nil {
		// The successor was never written; restore the predecessor so the
		// chain does not end in a dangling link. Best effort: if the restore
		// also fails the insert error still surfaces.
		old.Status = StatusActive
		old.RotatedAt = nil
		old.RotatedBy = ""
		old.ReplacedByID = ""
		old.RotationCount--
		_ = l.store.Update(ctx, old)
		return nil, err
	}
	l.sink.Record(ctx, "token.rotated", map[string]any{
		"token_id":     old.ID,
		"successor_id": succ.ID,
		"subject_id":   old.SubjectID,
		"rotated_by":   rotatedBy,
	})
	return succ, nil
}

// Revoke marks an active token revoked. Revoking twice, or revoking a rotated
// token (already implicitly invalid by being superseded), is rejected.
func (l *Ledger) Revoke(ctx context.Context, id, revokedBy, reason string) error {
	tok, err := l.store.Find(ctx, id)
	if err != nil {
		return err
	}
	switch tok.Status {
	case StatusRevoked:
		return fmt.Errorf("%w: token already revoked", ErrInvalidState)
	case StatusRotated:
		return fmt.Errorf("%w: token already rotated", ErrInvalidState)
	}

	now := l.now().UTC()
	tok.Status = StatusRevoked
	tok.RevokedAt = &now
	tok.RevokedBy = revokedBy
	tok.RevokeReason = reason
	if err := l.store.Update(ctx, tok); err != nil {
		return err
	}
	l.sink.Record(ctx, "token.revoked", map[string]any{
		"token_id":   tok.ID,
		"subject_id": tok.SubjectID,
		"revoked_by": revokedBy,
		"reason":     reason,
	})
	return nil
}

// MarkUsed records a presentation of the token. Revoked, rotated, and expired
// tokens are rejected with ErrInvalidState.
func (l *Ledger) MarkUsed(ctx context.Context, id, usedBy string) error {
	tok, err := l.store.Find(ctx, id)
	if err != nil {
		return err
	}
	switch tok.Status {
	case StatusRevoked:
		return fmt.Errorf("%w: token is revoked", ErrInvalidState)
	case StatusRotated:
		return fmt.Errorf("%w: token is rotated", ErrInvalidState)
	}
	now := l.now().UTC()
	if tok.IsExpired(now) {
		return fmt.Errorf("%w: token is expired", ErrInvalidState)
	}
	tok.UseCount++
	tok.LastUsedAt = &now
	return l.store.Update(ctx, tok)
}

// ExtendExpiration pushes the expiry of an active token to a later instant.
// Terminal tokens cannot be extended.
func (l *Ledger) ExtendExpiration(ctx context.Context, id string, until time.Time) error {
	tok, err := l.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if tok.IsTerminal() {
		return fmt.Errorf("%w: cannot extend a %s token", ErrInvalidState, tok.Status)
	}
	now := l.now().UTC()
	if !until.After(now) {
		return fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}
	tok.ExpiresAt = until.UTC()
	return l.store.Update(ctx, tok)
}

// Chain returns the full rotation chain containing the given token, ordered
// from the first-issued token to the current one.
func (l *Ledger) Chain(ctx context.Context, id string) ([]*RefreshToken, error) {
	tok, err := l.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	// Walk back to the head.
	head := tok
	for head.ReplacesID != "" {
		prev, err := l.store.Find(ctx, head.ReplacesID)
		if err != nil {
			return nil, err
		}
		head = prev
	}
	// Walk forward collecting the chain.
	chain := []*RefreshToken{head}
	cur := head
	for cur.ReplacedByID != "" {
		next, err := l.store.Find(ctx, cur.ReplacedByID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, next)
		cur = next
	}
	return chain, nil
}

// Current returns the newest token of the chain containing id: the single
// non-rotated member. It may be revoked or expired; callers check Usable.
func (l *Ledger) Current(ctx context.Context, id string) (*RefreshToken, error) {
	tok, err := l.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	for tok.ReplacedByID != "" {
		next, err := l.store.Find(ctx, tok.ReplacedByID)
		if err != nil {
			return nil, err
		}
		tok = next
	}
	return tok, nil
}

// RevokeAllForSubject revokes every usable token owned by the subject.
// Already-terminal tokens are skipped, not errors.
func (l *Ledger) RevokeAllForSubject(ctx context.Context, subjectID, revokedBy, reason string) error {
	toks, err := l.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return err
	}
	for _, tok := range toks {
		if tok.IsTerminal() {
			continue
		}
		if err := l.Revoke(ctx, tok.ID, revokedBy, reason); err != nil {
			return err
		}
	}
	return nil
}
