package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	now := start
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(d)
		}
}

func newTestTracker(t *testing.T, opts ...TrackerOption) (*Tracker, func(time.Duration)) {
	t.Helper()
	clock, advance := testClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	opts = append([]TrackerOption{WithClock(clock)}, opts...)
	return NewTracker(NewInMemory(), opts...), advance
}

func start(t *testing.T, tr *Tracker, subject, token string) *UserSession {
	t.Helper()
	sess, err := tr.Start(context.Background(), StartParams{
		SubjectID:    subject,
		SessionToken: token,
		IPAddress:    "10.0.0.1",
		UserAgent:    "ua",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return sess
}

func TestStartValidation(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.Start(ctx, StartParams{SessionToken: "tok"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing subject: got %v", err)
	}
	if _, err := tr.Start(ctx, StartParams{SubjectID: "u1"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing token: got %v", err)
	}
	if _, err := tr.Start(ctx, StartParams{
		SubjectID:    "u1",
		SessionToken: "tok",
		Location:     Location{Latitude: 91},
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("latitude out of range: got %v", err)
	}
	if _, err := tr.Start(ctx, StartParams{
		SubjectID:    "u1",
		SessionToken: "tok",
		Location:     Location{Longitude: -181},
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("longitude out of range: got %v", err)
	}

	sess := start(t, tr, "u1", "tok-1")
	if !sess.Active || sess.Blocked || sess.Trusted {
		t.Fatalf("unexpected flags: %+v", sess)
	}
	if !sess.LastActivityAt.Equal(sess.StartedAt) {
		t.Fatal("initial activity not at start")
	}
	if !sess.ExpiresAt.After(sess.StartedAt) {
		t.Fatal("expiry not in the future")
	}
}

func TestActivityAndIdleness(t *testing.T) {
	tr, advance := newTestTracker(t)
	ctx := context.Background()
	sess := start(t, tr, "u1", "tok-1")

	advance(45 * time.Minute)
	got, _ := tr.Find(ctx, sess.ID)
	now := time.Date(2025, 6, 1, 12, 45, 0, 0, time.UTC)
	if !got.IsIdle(now, 30*time.Minute) {
		t.Fatal("session should be idle after 45 minutes")
	}

	if err := tr.UpdateActivity(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = tr.Find(ctx, sess.ID)
	if got.IsIdle(now, 30*time.Minute) {
		t.Fatal("activity bump did not clear idleness")
	}
	if got.LastActivityAt.Before(got.StartedAt) {
		t.Fatal("activity precedes start")
	}
}

func TestEndIsOneShot(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	sess := start(t, tr, "u1", "tok-1")

	if err := tr.End(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if err := tr.End(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second End: got %v", err)
	}
	if err := tr.UpdateActivity(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("activity on ended session: got %v", err)
	}
	if err := tr.Activate(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("activate ended session: got %v", err)
	}
	got, _ := tr.Find(ctx, sess.ID)
	if got.EndedAt == nil || got.Active {
		t.Fatalf("end not recorded: %+v", got)
	}
	if got.EndedAt.Before(got.StartedAt) {
		t.Fatal("end precedes start")
	}
}

func TestExpirationHandling(t *testing.T) {
	tr, advance := newTestTracker(t, WithTTL(time.Hour))
	ctx := context.Background()
	sess := start(t, tr, "u1", "tok-1")
	startAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := tr.ExtendExpiration(ctx, sess.ID, startAt.Add(30*time.Minute)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("extension shortening expiry: got %v", err)
	}
	if err := tr.ExtendExpiration(ctx, sess.ID, startAt.Add(4*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetExpiration(ctx, sess.ID, startAt.Add(-time.Minute)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expiry before start: got %v", err)
	}
	if err := tr.SetExpiration(ctx, sess.ID, startAt.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	advance(2 * time.Minute)
	got, _ := tr.Find(ctx, sess.ID)
	now := startAt.Add(2 * time.Minute)
	if !got.IsExpired(now) {
		t.Fatal("session should be expired")
	}
	if got.IsValid(now) {
		t.Fatal("expired session still valid")
	}
	if err := tr.UpdateActivity(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("activity on expired session: got %v", err)
	}
}

func TestTrustFlag(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	sess := start(t, tr, "u1", "tok-1")

	if err := tr.MarkAsTrusted(ctx, sess.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	got, _ := tr.Find(ctx, sess.ID)
	if !got.Trusted || got.TrustedBy != "admin" || got.TrustedAt == nil {
		t.Fatalf("trust not recorded: %+v", got)
	}
	if err := tr.RemoveTrust(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = tr.Find(ctx, sess.ID)
	if got.Trusted || got.TrustedBy != "" || got.TrustedAt != nil {
		t.Fatal("trust not removed")
	}

	if err := tr.SetRemembered(ctx, sess.ID, true); err != nil {
		t.Fatal(err)
	}
	got, _ = tr.Find(ctx, sess.ID)
	if !got.Remembered {
		t.Fatal("remembered flag not set")
	}
}

func TestFailedAttemptsBlockAtThreshold(t *testing.T) {
	tr, _ := newTestTracker(t, WithMaxFailedAttempts(3))
	ctx := context.Background()
	sess := start(t, tr, "u1", "tok-1")

	for i := 0; i < 2; i++ {
		got, err := tr.IncrementLoginAttempts(ctx, sess.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Blocked {
			t.Fatalf("blocked after %d attempts", i+1)
		}
	}
	got, err := tr.IncrementLoginAttempts(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Blocked || got.Active {
		t.Fatalf("threshold did not block: %+v", got)
	}
	if got.BlockReason != BlockReasonFailedAttempts {
		t.Fatalf("block reason %q", got.BlockReason)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if got.IsValid(now) {
		t.Fatal("blocked session still valid")
	}
	if err := tr.Activate(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("activate blocked session: got %v", err)
	}

	// Attempts against a blocked session fail fast and leave the counter alone.
	if _, err := tr.IncrementLoginAttempts(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("increment on blocked session: got %v", err)
	}
	after, err := tr.Find(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.LoginAttempts != 3 {
		t.Fatalf("attempts %d, want 3", after.LoginAttempts)
	}
}

func TestResetLoginAttempts(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	sess := start(t, tr, "u1", "tok-1")

	if _, err := tr.IncrementLoginAttempts(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if err := tr.ResetLoginAttempts(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := tr.Find(ctx, sess.ID)
	if got.LoginAttempts != 0 {
		t.Fatalf("attempts %d, want 0", got.LoginAttempts)
	}
	// Reset on a clean session is a no-op, not an error.
	if err := tr.ResetLoginAttempts(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
}

func TestBlockDueToFailedAttempts(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	sess := start(t, tr, "u1", "tok-1")

	if err := tr.BlockDueToFailedAttempts(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if err := tr.BlockDueToFailedAttempts(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double block: got %v", err)
	}
}

func TestEndAllForSubject(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	a := start(t, tr, "u1", "tok-1")
	b := start(t, tr, "u1", "tok-2")
	other := start(t, tr, "u2", "tok-3")
	if err := tr.End(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	if err := tr.EndAllForSubject(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	got, _ := tr.Find(ctx, a.ID)
	if !got.Ended() {
		t.Fatal("session a not ended")
	}
	keep, _ := tr.Find(ctx, other.ID)
	if keep.Ended() {
		t.Fatal("other subject's session ended")
	}
}

func TestDeactivateActivate(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	sess := start(t, tr, "u1", "tok-1")

	if err := tr.Deactivate(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if err := tr.Deactivate(ctx, sess.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("deactivate twice: got %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	got, _ := tr.Find(ctx, sess.ID)
	if got.IsValid(now) {
		t.Fatal("inactive session still valid")
	}
	if err := tr.Activate(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = tr.Find(ctx, sess.ID)
	if !got.IsValid(now) {
		t.Fatal("reactivated session not valid")
	}
}
