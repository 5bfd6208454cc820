package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"sentra.org/internal/token"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestTokenInsertAndVersion(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("insert into refresh_tokens").
		WithArgs("t1", "u1", "s1", "hash", now, now.Add(time.Hour), token.StatusActive,
			sqlmock.AnyArg(), "", "", sqlmock.AnyArg(), "", "", "", 0, 0, sqlmock.AnyArg(),
			"d1", "", "10.0.0.1", "ua").
		WillReturnResult(sqlmock.NewResult(0, 1))

	tok := &token.RefreshToken{
		ID: "t1", SubjectID: "u1", SessionID: "s1", TokenHash: "hash",
		IssuedAt: now, ExpiresAt: now.Add(time.Hour), Status: token.StatusActive,
		Device: token.DeviceInfo{DeviceID: "d1", IPAddress: "10.0.0.1", UserAgent: "ua"},
	}
	if err := store.Tokens().Insert(context.Background(), tok); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if tok.Version != 1 {
		t.Fatalf("version %d, want 1", tok.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTokenFindNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select .* from refresh_tokens where id=").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.Tokens().Find(context.Background(), "missing"); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestTokenUpdateVersionConflict(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Zero rows affected with an existing row reads as a version conflict.
	mock.ExpectExec("update refresh_tokens set").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	tok := &token.RefreshToken{
		ID: "t1", SubjectID: "u1", TokenHash: "hash",
		IssuedAt: now, ExpiresAt: now.Add(time.Hour),
		Status: token.StatusActive, Version: 1,
	}
	err := store.Tokens().Update(context.Background(), tok)
	if !errors.Is(err, token.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}

	// Zero rows with no row at all reads as not found.
	mock.ExpectExec("update refresh_tokens set").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if err := store.Tokens().Update(context.Background(), tok); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTokenFindScansChainLinks(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rotated := now.Add(time.Hour)

	cols := []string{
		"id", "subject_id", "session_id", "token_hash", "issued_at", "expires_at", "status",
		"revoked_at", "revoked_by", "revoke_reason", "rotated_at", "rotated_by",
		"replaces_id", "replaced_by_id", "rotation_count", "use_count", "last_used_at",
		"device_id", "device_name", "ip_address", "user_agent", "version",
	}
	mock.ExpectQuery("select .* from refresh_tokens where id=").
		WithArgs("t2").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"t2", "u1", "s1", "h2", now, now.Add(24*time.Hour), "rotated",
			nil, "", "", rotated, "u1",
			"t1", "t3", 1, 4, rotated,
			"d1", "laptop", "10.0.0.1", "ua", 3,
		))

	tok, err := store.Tokens().Find(context.Background(), "t2")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if tok.ReplacesID != "t1" || tok.ReplacedByID != "t3" {
		t.Fatalf("chain links lost: %+v", tok)
	}
	if tok.Status != token.StatusRotated || tok.RotatedAt == nil {
		t.Fatalf("rotation state lost: %+v", tok)
	}
	if tok.RevokedAt != nil {
		t.Fatal("null revoked_at scanned as set")
	}
	if tok.Version != 3 || tok.RotationCount != 1 || tok.UseCount != 4 {
		t.Fatalf("counters lost: %+v", tok)
	}
}
