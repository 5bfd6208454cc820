package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sentra.org/internal/token"
)

// TokenStore adapts the shared connection to the token ledger's Store.
type TokenStore struct {
	*Store
}

var _ token.Store = (*TokenStore)(nil)

// Tokens returns the token-store view of the connection.
func (s *Store) Tokens() *TokenStore { return &TokenStore{Store: s} }

const tokenColumns = `id, subject_id, session_id, token_hash, issued_at, expires_at, status,
	revoked_at, revoked_by, revoke_reason, rotated_at, rotated_by,
	replaces_id, replaced_by_id, rotation_count, use_count, last_used_at,
	device_id, device_name, ip_address, user_agent, version`

func (s *TokenStore) Insert(ctx context.Context, t *token.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (`+tokenColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,1)
	`, t.ID, t.SubjectID, t.SessionID, t.TokenHash, t.IssuedAt, t.ExpiresAt, t.Status,
		nullTime(t.RevokedAt), t.RevokedBy, t.RevokeReason, nullTime(t.RotatedAt), t.RotatedBy,
		t.ReplacesID, t.ReplacedByID, t.RotationCount, t.UseCount, nullTime(t.LastUsedAt),
		t.Device.DeviceID, t.Device.DeviceName, t.Device.IPAddress, t.Device.UserAgent)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: duplicate token", token.ErrInvalidState)
		}
		return err
	}
	t.Version = 1
	return nil
}

func scanToken(row interface{ Scan(...any) error }) (*token.RefreshToken, error) {
	var (
		t                              token.RefreshToken
		revokedAt, rotatedAt, lastUsed sql.NullTime
	)
	err := row.Scan(&t.ID, &t.SubjectID, &t.SessionID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &t.Status,
		&revokedAt, &t.RevokedBy, &t.RevokeReason, &rotatedAt, &t.RotatedBy,
		&t.ReplacesID, &t.ReplacedByID, &t.RotationCount, &t.UseCount, &lastUsed,
		&t.Device.DeviceID, &t.Device.DeviceName, &t.Device.IPAddress, &t.Device.UserAgent, &t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, token.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.RevokedAt = timePtr(revokedAt)
	t.RotatedAt = timePtr(rotatedAt)
	t.LastUsedAt = timePtr(lastUsed)
	return &t, nil
}

func (s *TokenStore) Find(ctx context.Context, id string) (*token.RefreshToken, error) {
	return scanToken(s.db.QueryRowContext(ctx, `
		select `+tokenColumns+` from refresh_tokens where id=$1
	`, id))
}

func (s *TokenStore) FindByHash(ctx context.Context, hash string) (*token.RefreshToken, error) {
	return scanToken(s.db.QueryRowContext(ctx, `
		select `+tokenColumns+` from refresh_tokens where token_hash=$1
	`, hash))
}

func (s *TokenStore) Update(ctx context.Context, t *token.RefreshToken) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set
			token_hash=$3, expires_at=$4, status=$5,
			revoked_at=$6, revoked_by=$7, revoke_reason=$8,
			rotated_at=$9, rotated_by=$10,
			replaces_id=$11, replaced_by_id=$12,
			rotation_count=$13, use_count=$14, last_used_at=$15,
			version=version+1
		where id=$1 and version=$2
	`, t.ID, t.Version, t.TokenHash, t.ExpiresAt, t.Status,
		nullTime(t.RevokedAt), t.RevokedBy, t.RevokeReason,
		nullTime(t.RotatedAt), t.RotatedBy,
		t.ReplacesID, t.ReplacedByID,
		t.RotationCount, t.UseCount, nullTime(t.LastUsedAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from refresh_tokens where id=$1)`, t.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return token.ErrNotFound
		}
		return fmt.Errorf("%w: version conflict", token.ErrInvalidState)
	}
	t.Version++
	return nil
}

func (s *TokenStore) ListBySubject(ctx context.Context, subjectID string) ([]*token.RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+tokenColumns+` from refresh_tokens where subject_id=$1 order by issued_at
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*token.RefreshToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
