// Package engine is the security façade: it orchestrates credentials,
// sessions, the refresh-token ledger, TOTP step-up, access-token signing and
// permission resolution behind a single API.
package engine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sentra.org/internal/audit"
	"sentra.org/internal/obs"
	"sentra.org/internal/password"
	"sentra.org/internal/rbac"
	"sentra.org/internal/session"
	"sentra.org/internal/signer"
	"sentra.org/internal/token"
	"sentra.org/internal/totp"
)

var (
	// ErrAuthFailed covers every credential rejection: wrong password, bad
	// TOTP code, unusable refresh token. Callers get no detail beyond it.
	ErrAuthFailed   = errors.New("engine: authentication failed")
	ErrInvalidInput = errors.New("engine: invalid input")
)

const refreshSecretBytes = 32

// Engine wires the domain services together. It is stateless over the stores
// and safe for concurrent use.
type Engine struct {
	ledger     *token.Ledger
	tokens     token.Store
	tracker    *session.Tracker
	resolver   *rbac.Resolver
	codec      *totp.Codec
	signer     *signer.Signer
	sink       audit.Sink
	now        func() time.Time
	refreshTTL time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithAudit sets the sink receiving security events.
func WithAudit(sink audit.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithRefreshTTL sets the lifetime of issued refresh tokens.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.refreshTTL = ttl
		}
	}
}

// WithTOTP sets the step-up codec.
func WithTOTP(codec *totp.Codec) Option {
	return func(e *Engine) {
		if codec != nil {
			e.codec = codec
		}
	}
}

// New constructs an Engine. The token store is needed alongside the ledger
// for hash lookups on refresh.
func New(ledger *token.Ledger, tokens token.Store, tracker *session.Tracker, resolver *rbac.Resolver, sgn *signer.Signer, opts ...Option) *Engine {
	e := &Engine{
		ledger:     ledger,
		tokens:     tokens,
		tracker:    tracker,
		resolver:   resolver,
		codec:      totp.NewCodec(),
		signer:     sgn,
		sink:       audit.Nop(),
		now:        time.Now,
		refreshTTL: 14 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoginParams carries a login attempt. PasswordHash and TOTPSecret come from
// the caller's subject record; empty values skip the respective check.
type LoginParams struct {
	SubjectID    string
	Password     string
	PasswordHash string
	TOTPCode     string
	TOTPSecret   string
	Device       token.DeviceInfo
	Location     session.Location
}

// LoginResult is the credential set handed to the client.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Session      *session.UserSession
}

// Login authenticates the subject and opens a session with a fresh token
// pair. When the subject record carries a TOTP secret, a valid code is
// required (step-up).
func (e *Engine) Login(ctx context.Context, p LoginParams) (*LoginResult, error) {
	if strings.TrimSpace(p.SubjectID) == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	if p.PasswordHash != "" {
		if err := password.Verify(p.PasswordHash, p.Password); err != nil {
			obs.ObserveLogin("denied")
			e.sink.Record(ctx, "login.denied", map[string]any{
				"subject_id": p.SubjectID,
				"reason":     "bad password",
			})
			return nil, ErrAuthFailed
		}
	}
	if p.TOTPSecret != "" {
		if !e.codec.ValidateCode(p.TOTPSecret, p.TOTPCode) {
			obs.ObserveTOTP("rejected")
			obs.ObserveLogin("denied")
			e.sink.Record(ctx, "login.denied", map[string]any{
				"subject_id": p.SubjectID,
				"reason":     "bad totp code",
			})
			return nil, ErrAuthFailed
		}
		obs.ObserveTOTP("ok")
	}

	sess, err := e.tracker.Start(ctx, session.StartParams{
		SubjectID:    p.SubjectID,
		SessionToken: uuid.NewString(),
		IPAddress:    p.Device.IPAddress,
		UserAgent:    p.Device.UserAgent,
		DeviceID:     p.Device.DeviceID,
		Location:     p.Location,
	})
	if err != nil {
		return nil, err
	}

	refresh, err := e.issueRefresh(ctx, p.SubjectID, sess.ID, p.Device)
	if err != nil {
		return nil, err
	}
	access, err := e.signAccess(ctx, p.SubjectID, sess.ID)
	if err != nil {
		return nil, err
	}

	obs.ObserveLogin("ok")
	obs.SessionStarted()
	e.sink.Record(ctx, "login.ok", map[string]any{
		"subject_id": p.SubjectID,
		"session_id": sess.ID,
		"ip":         p.Device.IPAddress,
	})
	return &LoginResult{AccessToken: access, RefreshToken: refresh, Session: sess}, nil
}

// Refresh exchanges a presented refresh token for a fresh pair, rotating the
// chain. A device not matching the one the token was issued to is recorded as
// an anomaly but does not fail the exchange.
func (e *Engine) Refresh(ctx context.Context, presented string, device token.DeviceInfo) (*LoginResult, error) {
	id, secret, ok := splitRefresh(presented)
	if !ok {
		return nil, ErrAuthFailed
	}
	tok, err := e.tokens.Find(ctx, id)
	if err != nil {
		return nil, ErrAuthFailed
	}
	if subtle.ConstantTimeCompare([]byte(tok.TokenHash), []byte(hashSecret(secret))) != 1 {
		e.sink.Record(ctx, "refresh.denied", map[string]any{
			"token_id": id,
			"reason":   "hash mismatch",
		})
		return nil, ErrAuthFailed
	}
	if !tok.Usable(e.now().UTC()) {
		e.sink.Record(ctx, "refresh.denied", map[string]any{
			"token_id":   tok.ID,
			"subject_id": tok.SubjectID,
			"reason":     string(tok.Status),
		})
		return nil, ErrAuthFailed
	}
	if !tok.MatchesDevice(device) {
		e.sink.Record(ctx, "refresh.device_anomaly", map[string]any{
			"token_id":   tok.ID,
			"subject_id": tok.SubjectID,
			"issued_ip":  tok.Device.IPAddress,
			"seen_ip":    device.IPAddress,
		})
	}

	newSecret, newHash, err := mintSecret()
	if err != nil {
		return nil, err
	}
	succ, err := e.ledger.Rotate(ctx, tok.ID, newHash, tok.SubjectID, e.refreshTTL, device)
	if err != nil {
		return nil, err
	}
	obs.ObserveRotation()

	if tok.SessionID != "" {
		if err := e.tracker.UpdateActivity(ctx, tok.SessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
	}
	access, err := e.signAccess(ctx, tok.SubjectID, tok.SessionID)
	if err != nil {
		return nil, err
	}

	sess, _ := e.tracker.Find(ctx, tok.SessionID)
	return &LoginResult{
		AccessToken:  access,
		RefreshToken: succ.ID + "." + newSecret,
		Session:      sess,
	}, nil
}

// Authorize reports whether the subject holds the resource:action permission
// right now.
func (e *Engine) Authorize(ctx context.Context, subjectID, permissionKey string) (bool, error) {
	ok, err := e.resolver.HasEffectivePermission(ctx, subjectID, permissionKey)
	if err != nil {
		return false, err
	}
	if ok {
		obs.ObservePermissionCheck("granted")
	} else {
		obs.ObservePermissionCheck("denied")
	}
	return ok, nil
}

// VerifyAccess validates an access token and returns its claims.
func (e *Engine) VerifyAccess(raw string) (*signer.Claims, error) {
	return e.signer.Verify(raw)
}

// Logout proves possession of the presented refresh token, revokes the
// current token of its chain and ends the session the token was issued to.
// The caller never names the session; it is derived from the verified token.
// An already-terminal chain head does not fail the logout.
func (e *Engine) Logout(ctx context.Context, presented string) error {
	id, secret, ok := splitRefresh(presented)
	if !ok {
		return ErrAuthFailed
	}
	tok, err := e.tokens.Find(ctx, id)
	if err != nil {
		return ErrAuthFailed
	}
	if subtle.ConstantTimeCompare([]byte(tok.TokenHash), []byte(hashSecret(secret))) != 1 {
		e.sink.Record(ctx, "logout.denied", map[string]any{
			"token_id": id,
			"reason":   "hash mismatch",
		})
		return ErrAuthFailed
	}

	if cur, err := e.ledger.Current(ctx, tok.ID); err == nil && !cur.IsTerminal() {
		if err := e.ledger.Revoke(ctx, cur.ID, cur.SubjectID, "logout"); err != nil {
			return err
		}
		obs.ObserveRevocation()
	}
	if tok.SessionID != "" {
		if err := e.tracker.End(ctx, tok.SessionID); err != nil {
			return err
		}
		obs.SessionEnded()
	}
	e.sink.Record(ctx, "logout", map[string]any{
		"subject_id": tok.SubjectID,
		"session_id": tok.SessionID,
	})
	return nil
}

// FailedLogin records a failed attempt against the session. Crossing the
// block threshold revokes every refresh token of the subject.
func (e *Engine) FailedLogin(ctx context.Context, sessionID string) (*session.UserSession, error) {
	sess, err := e.tracker.IncrementLoginAttempts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	obs.ObserveLogin("denied")
	if sess.Blocked {
		obs.ObserveLogin("blocked")
		if err := e.ledger.RevokeAllForSubject(ctx, sess.SubjectID, "engine", session.BlockReasonFailedAttempts); err != nil {
			return nil, err
		}
		e.sink.Record(ctx, "login.blocked", map[string]any{
			"subject_id": sess.SubjectID,
			"session_id": sess.ID,
			"attempts":   sess.LoginAttempts,
		})
	}
	return sess, nil
}

// RevokeSubject revokes all tokens and ends all sessions of the subject.
func (e *Engine) RevokeSubject(ctx context.Context, subjectID, revokedBy, reason string) error {
	if err := e.ledger.RevokeAllForSubject(ctx, subjectID, revokedBy, reason); err != nil {
		return err
	}
	if err := e.tracker.EndAllForSubject(ctx, subjectID); err != nil {
		return err
	}
	e.sink.Record(ctx, "subject.revoked", map[string]any{
		"subject_id": subjectID,
		"revoked_by": revokedBy,
		"reason":     reason,
	})
	return nil
}

func (e *Engine) issueRefresh(ctx context.Context, subjectID, sessionID string, device token.DeviceInfo) (string, error) {
	secret, hash, err := mintSecret()
	if err != nil {
		return "", err
	}
	tok, err := e.ledger.Issue(ctx, subjectID, sessionID, hash, e.refreshTTL, device)
	if err != nil {
		return "", err
	}
	return tok.ID + "." + secret, nil
}

func (e *Engine) signAccess(ctx context.Context, subjectID, sessionID string) (string, error) {
	perms, err := e.resolver.EffectivePermissions(ctx, subjectID)
	if err != nil {
		return "", err
	}
	return e.signer.Sign(subjectID, sessionID, perms)
}

// mintSecret returns a fresh refresh-token secret and its hash at rest.
func mintSecret() (secret, hash string, err error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("engine: minting secret: %w", err)
	}
	secret = base64.RawURLEncoding.EncodeToString(buf)
	return secret, hashSecret(secret), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// splitRefresh parses the wire form "tokenID.secret".
func splitRefresh(presented string) (id, secret string, ok bool) {
	id, secret, found := strings.Cut(presented, ".")
	if !found || id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}
