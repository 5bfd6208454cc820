package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sentra.org/internal/session"
)

// SessionStore adapts the shared connection to the session tracker's Store.
type SessionStore struct {
	*Store
}

var _ session.Store = (*SessionStore)(nil)

// Sessions returns the session-store view of the connection.
func (s *Store) Sessions() *SessionStore { return &SessionStore{Store: s} }

const sessionColumns = `id, subject_id, session_token, ip_address, user_agent, device_id,
	loc_country, loc_city, loc_lat, loc_lon,
	started_at, last_activity_at, expires_at, ended_at,
	active, trusted, trusted_by, trusted_at, remembered,
	blocked, block_reason, login_attempts, version`

func (s *SessionStore) Insert(ctx context.Context, sess *session.UserSession) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_sessions (`+sessionColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,1)
	`, sess.ID, sess.SubjectID, sess.SessionToken, sess.IPAddress, sess.UserAgent, sess.DeviceID,
		sess.Location.Country, sess.Location.City, sess.Location.Latitude, sess.Location.Longitude,
		sess.StartedAt, sess.LastActivityAt, sess.ExpiresAt, nullTime(sess.EndedAt),
		sess.Active, sess.Trusted, sess.TrustedBy, nullTime(sess.TrustedAt), sess.Remembered,
		sess.Blocked, sess.BlockReason, sess.LoginAttempts)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: duplicate session", session.ErrInvalidState)
		}
		return err
	}
	sess.Version = 1
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (*session.UserSession, error) {
	var (
		sess               session.UserSession
		endedAt, trustedAt sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.SubjectID, &sess.SessionToken, &sess.IPAddress, &sess.UserAgent, &sess.DeviceID,
		&sess.Location.Country, &sess.Location.City, &sess.Location.Latitude, &sess.Location.Longitude,
		&sess.StartedAt, &sess.LastActivityAt, &sess.ExpiresAt, &endedAt,
		&sess.Active, &sess.Trusted, &sess.TrustedBy, &trustedAt, &sess.Remembered,
		&sess.Blocked, &sess.BlockReason, &sess.LoginAttempts, &sess.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.EndedAt = timePtr(endedAt)
	sess.TrustedAt = timePtr(trustedAt)
	return &sess, nil
}

func (s *SessionStore) Find(ctx context.Context, id string) (*session.UserSession, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		select `+sessionColumns+` from user_sessions where id=$1
	`, id))
}

func (s *SessionStore) FindByToken(ctx context.Context, tok string) (*session.UserSession, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		select `+sessionColumns+` from user_sessions where session_token=$1
	`, tok))
}

func (s *SessionStore) Update(ctx context.Context, sess *session.UserSession) error {
	res, err := s.db.ExecContext(ctx, `
		update user_sessions set
			last_activity_at=$3, expires_at=$4, ended_at=$5,
			active=$6, trusted=$7, trusted_by=$8, trusted_at=$9, remembered=$10,
			blocked=$11, block_reason=$12, login_attempts=$13,
			version=version+1
		where id=$1 and version=$2
	`, sess.ID, sess.Version,
		sess.LastActivityAt, sess.ExpiresAt, nullTime(sess.EndedAt),
		sess.Active, sess.Trusted, sess.TrustedBy, nullTime(sess.TrustedAt), sess.Remembered,
		sess.Blocked, sess.BlockReason, sess.LoginAttempts)
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
			`select exists(select 1 from user_sessions where id=$1)`, sess.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return session.ErrNotFound
		}
		return fmt.Errorf("%w: version conflict", session.ErrInvalidState)
	}
	sess.Version++
	return nil
}

func (s *SessionStore) ListBySubject(ctx context.Context, subjectID string) ([]*session.UserSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+sessionColumns+` from user_sessions where subject_id=$1 order by started_at
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*session.UserSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
